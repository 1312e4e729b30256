package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/beerduel/internal/domain/model"
)

func newItem(id string, rating float64) model.Item {
	return model.Item{ID: id, Name: "Beer " + id, Rating: rating, Active: true}
}

var writeSeq atomic.Int64

func duelWrite(winner, loser model.RatingRecord, wr, lr float64) DuelWrite {
	id := fmt.Sprintf("%s-%s-%d", winner.ItemID, loser.ItemID, writeSeq.Add(1))
	return DuelWrite{
		Duel: model.DuelRecord{
			Outcome:      model.Outcome{ID: id, UserID: "u1", WinnerID: winner.ItemID, LoserID: loser.ItemID},
			WinnerBefore: winner.Rating, WinnerAfter: wr,
			LoserBefore: loser.Rating, LoserAfter: lr,
		},
		Updates: [2]RatingUpdate{
			{ItemID: winner.ItemID, Rating: wr, ExpectedDuels: winner.Duels},
			{ItemID: loser.ItemID, Rating: lr, ExpectedDuels: loser.Duels},
		},
	}
}

func TestMemoryStore_Items(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(ctx)
	defer s.Close()

	created, err := s.CreateItem(ctx, newItem("ipa", 1500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	if _, err := s.CreateItem(ctx, newItem("ipa", 1500)); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	if _, err := s.GetItem(ctx, "stout"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.SetActive(ctx, "ipa", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	scored, _ := s.ScanActiveItems(ctx)
	if len(scored) != 0 {
		t.Errorf("expected no active items, got %d", len(scored))
	}

	if err := s.SetActive(ctx, "ipa", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	scored, _ = s.ScanActiveItems(ctx)
	if len(scored) != 1 || scored[0].ItemID != "ipa" {
		t.Errorf("expected ipa to be active again, got %+v", scored)
	}

	if err := s.SetActive(ctx, "stout", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ScanOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(ctx)
	defer s.Close()

	rng := rand.New(rand.NewSource(7))
	want := make([]model.Scored, 0, 200)
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("beer-%03d", i)
		// few distinct ratings to exercise the id tie-break
		r := float64(1400 + rng.Intn(10)*10)
		if _, err := s.CreateItem(ctx, newItem(id, r)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want = append(want, model.Scored{ItemID: id, Rating: r})
	}
	sort.Slice(want, func(i, j int) bool { return less(want[i].Rating, want[i].ItemID, want[j].Rating, want[j].ItemID) })

	got, err := s.ScanActiveItems(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestMemoryStore_ApplyDuel(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(ctx)
	defer s.Close()

	for _, id := range []string{"a", "b"} {
		if _, err := s.CreateItem(ctx, newItem(id, 1500)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	recs, err := s.GetRatings(ctx, "a", "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := duelWrite(recs["a"], recs["b"], 1516, 1484)
	if err := s.ApplyDuel(ctx, first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, _ := s.GetRatings(ctx, "a", "b")
	if after["a"].Rating != 1516 || after["b"].Rating != 1484 {
		t.Errorf("unexpected ratings %+v", after)
	}
	if after["a"].Duels != 1 || after["b"].Duels != 1 {
		t.Errorf("expected duel counts to be 1, got %+v", after)
	}
	if len(s.Duels()) != 1 {
		t.Errorf("expected one audit row, got %d", len(s.Duels()))
	}

	scored, _ := s.ScanActiveItems(ctx)
	if scored[0].ItemID != "a" {
		t.Errorf("expected a to rank first, got %+v", scored)
	}

	rated, _ := s.RatedItems(ctx, "u1")
	if _, ok := rated["a"]; !ok || len(rated) != 2 {
		t.Errorf("expected both items rated by u1, got %v", rated)
	}

	// stale version: nothing must change
	err = s.ApplyDuel(ctx, duelWrite(recs["a"], recs["b"], 1530, 1470))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	again, _ := s.GetRatings(ctx, "a", "b")
	if again["a"] != after["a"] || again["b"] != after["b"] {
		t.Errorf("conflicting write changed state: %+v", again)
	}
	if len(s.Duels()) != 1 {
		t.Errorf("conflicting write appended an audit row")
	}

	// replay with fresh versions: the outcome id alone must reject it
	replay := duelWrite(again["a"], again["b"], 1530, 1470)
	replay.Duel.ID = first.Duel.ID
	if err := s.ApplyDuel(ctx, replay); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if replayed, _ := s.GetRatings(ctx, "a", "b"); replayed["a"] != after["a"] || replayed["b"] != after["b"] {
		t.Errorf("replayed outcome changed state: %+v", replayed)
	}
	if len(s.Duels()) != 1 {
		t.Errorf("replayed outcome appended an audit row")
	}

	if _, err := s.GetRatings(ctx, "a", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ConcurrentDuels(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(ctx)
	defer s.Close()

	const items = 8
	for i := 0; i < items; i++ {
		if _, err := s.CreateItem(ctx, newItem(fmt.Sprintf("i%d", i), 1500)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				a, b := fmt.Sprintf("i%d", (g+k)%items), fmt.Sprintf("i%d", (g+k+1)%items)
				recs, err := s.GetRatings(ctx, a, b)
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				err = s.ApplyDuel(ctx, duelWrite(recs[a], recs[b], recs[a].Rating+1, recs[b].Rating-1))
				if errors.Is(err, ErrConflict) {
					continue
				}
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()

	scored, _ := s.ScanActiveItems(ctx)
	total, duels := 0.0, 0
	for _, sc := range scored {
		total += sc.Rating
	}
	recs, _ := s.GetRatings(ctx, "i0", "i1", "i2", "i3", "i4", "i5", "i6", "i7")
	for _, r := range recs {
		duels += r.Duels
	}
	if total != 1500*items {
		t.Errorf("rating mass not conserved: %f", total)
	}
	if duels != 2*applied {
		t.Errorf("expected %d duel participations, got %d", 2*applied, duels)
	}
	if len(scored) != items {
		t.Errorf("treap lost items: %d", len(scored))
	}
}

func TestMemoryStore_RarityTiers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(ctx)
	defer s.Close()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.CreateItem(ctx, newItem(id, 1500)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := s.SetRarityTiers(ctx, map[string]model.RarityTier{"a": model.TierLegendary, "b": model.TierEpic, "c": model.TierRare}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// second pass replaces everything, c drops out
	if err := s.SetRarityTiers(ctx, map[string]model.RarityTier{"a": model.TierCommon, "b": model.TierLegendary}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]model.RarityTier{"a": model.TierCommon, "b": model.TierLegendary, "c": ""}
	for id, tier := range want {
		item, _ := s.GetItem(ctx, id)
		if item.Rarity != tier {
			t.Errorf("%s: expected %q, got %q", id, tier, item.Rarity)
		}
	}
}

func TestMemoryStore_Experience(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(ctx, WithEventLogLimit(3))
	defer s.Close()

	if xp, err := s.GetExperience(ctx, "u1"); err != nil || xp != 0 {
		t.Fatalf("expected 0 xp for a new user, got %d (%v)", xp, err)
	}

	for i := 1; i <= 5; i++ {
		total, err := s.AddExperience(ctx, model.XPEvent{ID: fmt.Sprintf("e%d", i), UserID: "u1", Amount: int64(i * 10), Source: "duel"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := int64(5 * i * (i + 1)); total != want {
			t.Errorf("expected total %d, got %d", want, total)
		}
	}

	if _, err := s.AddExperience(ctx, model.XPEvent{ID: "e3", UserID: "u1", Amount: 30, Source: "duel"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate for a replayed event, got %v", err)
	}
	if xp, _ := s.GetExperience(ctx, "u1"); xp != 150 {
		t.Errorf("replayed event changed the total: %d", xp)
	}

	if _, err := s.AddExperience(ctx, model.XPEvent{UserID: "u1", Amount: 0}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}

	events, err := s.RecentXPEvents(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected the log to be capped at 3, got %d", len(events))
	}
	if events[0].ID != "e5" || events[0].Total != 150 {
		t.Errorf("expected newest event first, got %+v", events[0])
	}

	if _, err := s.RecentXPEvents(ctx, "u1", 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestMemoryStore_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore(context.Background())
	defer s.Close()
	cancel()

	if _, err := s.CreateItem(ctx, newItem("x", 1500)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if _, err := s.ScanActiveItems(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryStore_CloseBehavior(t *testing.T) {
	s := NewMemoryStore(context.Background(), WithMetricsUpdateInterval(time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = s.Close()
		_ = s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}
