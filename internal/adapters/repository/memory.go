package repository

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/pkg/metrics"
)

// In-memory Store implementation.
//
// Active items are indexed by a treap ordered by rating DESC, then id ASC,
// so an in-order traversal yields the ranking from best to worst.

type node struct {
	id     string
	rating float64
	prio   uint64
	left   *node
	right  *node
	size   int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aRating, aID) ranks before (bRating, bID).
func less(aRating float64, aID string, bRating float64, bID string) bool {
	if aRating != bRating {
		return aRating > bRating
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, rating float64) *node {
	if n == nil {
		return &node{id: id, rating: rating, prio: rand.Uint64(), size: 1}
	}
	if less(rating, id, n.rating, n.id) {
		n.left = insert(n.left, id, rating)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, rating)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, rating float64) *node {
	if n == nil {
		return nil
	}
	switch {
	case rating == n.rating && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, rating)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, rating)
		}
	case less(rating, id, n.rating, n.id):
		n.left = deleteNode(n.left, id, rating)
	default:
		n.right = deleteNode(n.right, id, rating)
	}
	fix(n)
	return n
}

// collectAll appends every node in rank order.
func collectAll(n *node, out *[]model.Scored) {
	if n == nil {
		return
	}
	collectAll(n.left, out)
	*out = append(*out, model.Scored{ItemID: n.id, Rating: n.rating})
	collectAll(n.right, out)
}

type progress struct {
	xp     int64
	events []model.XPEvent // oldest first
}

// MemoryStore implements Store in process memory under one RWMutex.
type MemoryStore struct {
	mu       sync.RWMutex
	root     *node // active items only
	items    map[string]model.Item
	duels    []model.DuelRecord
	rated    map[string]map[string]struct{} // user -> item ids
	progress map[string]*progress
	outcomes map[string]struct{} // applied outcome ids, kept past the duel log limit
	xpEvents map[string]struct{} // applied experience event ids

	metricsUpdateInterval time.Duration
	eventLogLimit         int
	duelLogLimit          int

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore constructs a memory store and starts its metrics updater.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		items:                 make(map[string]model.Item),
		rated:                 make(map[string]map[string]struct{}),
		progress:              make(map[string]*progress),
		outcomes:              make(map[string]struct{}),
		xpEvents:              make(map[string]struct{}),
		metricsUpdateInterval: 5 * time.Second,
		eventLogLimit:         100,
		duelLogLimit:          10000,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.startMetricsUpdater(ctx)
	return s
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close stops the background metrics updater.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// CreateItem implements ItemStore.CreateItem.
func (s *MemoryStore) CreateItem(ctx context.Context, item model.Item) (model.Item, error) {
	defer observe("create_item", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Item{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return model.Item{}, fmt.Errorf("%w: %s", ErrAlreadyExists, item.ID)
	}
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	s.items[item.ID] = item
	if item.Active {
		s.root = insert(s.root, item.ID, item.Rating)
	}
	return item, nil
}

// GetItem implements ItemStore.GetItem.
func (s *MemoryStore) GetItem(ctx context.Context, id string) (model.Item, error) {
	if err := ctx.Err(); err != nil {
		return model.Item{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return model.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item, nil
}

// SetActive implements ItemStore.SetActive.
func (s *MemoryStore) SetActive(ctx context.Context, id string, active bool) error {
	defer observe("set_active", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if item.Active == active {
		return nil
	}
	if active {
		s.root = insert(s.root, id, item.Rating)
	} else {
		s.root = deleteNode(s.root, id, item.Rating)
	}
	item.Active = active
	item.UpdatedAt = time.Now().UTC()
	s.items[id] = item
	return nil
}

// GetRatings implements RatingStore.GetRatings.
func (s *MemoryStore) GetRatings(ctx context.Context, ids ...string) (map[string]model.RatingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.RatingRecord, len(ids))
	for _, id := range ids {
		item, ok := s.items[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		rec := item.Record()
		rec.Active = item.Active
		out[id] = rec
	}
	return out, nil
}

// ApplyDuel implements RatingStore.ApplyDuel. The duplicate and version
// checks happen before any mutation, so a rejected write leaves the store
// untouched.
func (s *MemoryStore) ApplyDuel(ctx context.Context, w DuelWrite) error {
	defer observe("apply_duel", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id := w.Duel.ID; id != "" {
		if _, ok := s.outcomes[id]; ok {
			return fmt.Errorf("%w: outcome %s", ErrDuplicate, id)
		}
	}
	for _, u := range w.Updates {
		item, ok := s.items[u.ItemID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, u.ItemID)
		}
		if item.Duels != u.ExpectedDuels {
			return fmt.Errorf("%w: %s at %d duels, expected %d", ErrConflict, u.ItemID, item.Duels, u.ExpectedDuels)
		}
	}

	now := time.Now().UTC()
	for _, u := range w.Updates {
		item := s.items[u.ItemID]
		if item.Active {
			s.root = deleteNode(s.root, item.ID, item.Rating)
			s.root = insert(s.root, item.ID, u.Rating)
		}
		item.Rating = u.Rating
		item.Duels++
		item.UpdatedAt = now
		s.items[u.ItemID] = item
	}

	if w.Duel.ID != "" {
		s.outcomes[w.Duel.ID] = struct{}{}
	}
	s.duels = append(s.duels, w.Duel)
	if over := len(s.duels) - s.duelLogLimit; over > 0 {
		s.duels = append(s.duels[:0:0], s.duels[over:]...)
	}

	if uid := w.Duel.UserID; uid != "" {
		set, ok := s.rated[uid]
		if !ok {
			set = make(map[string]struct{})
			s.rated[uid] = set
		}
		set[w.Duel.WinnerID] = struct{}{}
		set[w.Duel.LoserID] = struct{}{}
	}
	return nil
}

// ScanActiveItems implements RatingStore.ScanActiveItems in O(n).
func (s *MemoryStore) ScanActiveItems(ctx context.Context) ([]model.Scored, error) {
	defer observe("scan_active", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Scored, 0, nsize(s.root))
	collectAll(s.root, &out)
	return out, nil
}

// RatedItems implements RatingStore.RatedItems.
func (s *MemoryStore) RatedItems(ctx context.Context, userID string) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]struct{}, len(s.rated[userID]))
	for id := range s.rated[userID] {
		out[id] = struct{}{}
	}
	return out, nil
}

// SetRarityTiers implements TierStore.SetRarityTiers. The whole assignment
// is swapped under the write lock so readers never see a partial pass.
func (s *MemoryStore) SetRarityTiers(ctx context.Context, tiers map[string]model.RarityTier) error {
	defer observe("set_tiers", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, item := range s.items {
		tier := tiers[id]
		if item.Rarity == tier {
			continue
		}
		item.Rarity = tier
		item.UpdatedAt = now
		s.items[id] = item
	}
	return nil
}

// GetExperience implements ProgressStore.GetExperience.
func (s *MemoryStore) GetExperience(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.progress[userID]; ok {
		return p.xp, nil
	}
	return 0, nil
}

// AddExperience implements ProgressStore.AddExperience.
func (s *MemoryStore) AddExperience(ctx context.Context, ev model.XPEvent) (int64, error) {
	defer observe("add_experience", time.Now())
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if ev.Amount <= 0 {
		return 0, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID != "" {
		if _, ok := s.xpEvents[ev.ID]; ok {
			return 0, fmt.Errorf("%w: experience event %s", ErrDuplicate, ev.ID)
		}
		s.xpEvents[ev.ID] = struct{}{}
	}
	p, ok := s.progress[ev.UserID]
	if !ok {
		p = &progress{}
		s.progress[ev.UserID] = p
	}
	p.xp += ev.Amount
	ev.Total = p.xp
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	p.events = append(p.events, ev)
	if over := len(p.events) - s.eventLogLimit; over > 0 {
		p.events = append(p.events[:0:0], p.events[over:]...)
	}
	return p.xp, nil
}

// RecentXPEvents implements ProgressStore.RecentXPEvents.
func (s *MemoryStore) RecentXPEvents(ctx context.Context, userID string, limit int) ([]model.XPEvent, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[userID]
	if !ok {
		return []model.XPEvent{}, nil
	}
	out := make([]model.XPEvent, 0, min(limit, len(p.events)))
	for i := len(p.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, p.events[i])
	}
	return out, nil
}

// Duels returns a copy of the retained duel audit log, oldest first.
func (s *MemoryStore) Duels() []model.DuelRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.DuelRecord(nil), s.duels...)
}

// startMetricsUpdater periodically publishes the active item count.
func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.mu.RLock()
				n := nsize(s.root)
				s.mu.RUnlock()
				metrics.UpdateActiveItems(n)
			}
		}
	}()
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
}
