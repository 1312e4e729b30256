// Package duel selects pairs for users and records duel outcomes: validate,
// update both ratings in one atomic write, then award experience.
package duel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/okian/beerduel/internal/adapters/repository"
	"github.com/okian/beerduel/internal/concurrency"
	"github.com/okian/beerduel/internal/domain/dedupe"
	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/internal/domain/rating"
	"github.com/okian/beerduel/internal/domain/types"
	"github.com/okian/beerduel/internal/progress"
	"github.com/okian/beerduel/internal/ranking"
	"github.com/okian/beerduel/pkg/logger"
	"github.com/okian/beerduel/pkg/metrics"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	GetRatings(ctx context.Context, ids ...string) (map[string]model.RatingRecord, error)
	ApplyDuel(ctx context.Context, w repository.DuelWrite) error
	RatedItems(ctx context.Context, userID string) (map[string]struct{}, error)
}

// Ranking provides the population snapshot and is told about new duels.
type Ranking interface {
	Current(ctx context.Context) (*ranking.Snapshot, error)
	NotifyDuel()
}

// Awarder applies experience awards.
type Awarder interface {
	Award(ctx context.Context, id, userID string, amount int64, source, ref string) (progress.Award, error)
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	store   Store
	ranking Ranking
	updater *rating.Updater
	awarder Awarder
	locks   *concurrency.LockManager
	dedupe  dedupe.Deduper
	history *history

	historySize  int
	historyTTL   time.Duration
	historyUsers int
	maxRetries   int
	storeTimeout time.Duration
	xp           XPPolicy
	intN         func(n int) int
}

// New creates an Orchestrator.
func New(store Store, rk Ranking, updater *rating.Updater, awarder Awarder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		ranking:      rk,
		updater:      updater,
		awarder:      awarder,
		locks:        concurrency.NewLockManager(),
		historySize:  20,
		historyTTL:   30 * time.Minute,
		historyUsers: 10000,
		maxRetries:   3,
		storeTimeout: 2 * time.Second,
		xp:           DefaultXPPolicy(),
		intN:         rand.IntN,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dedupe == nil {
		o.dedupe = dedupe.NewInMemoryDeduper()
	}
	o.history = newHistory(o.historyUsers, o.historySize, o.historyTTL)
	return o
}

// NextPair picks the next two items to show userID. Items the user has not
// rated yet are anchors first; the partner is the closest rated neighbour
// whose pair is not in the user's recent history. When every pair is recent
// a repeat is returned with Fresh unset.
func (o *Orchestrator) NextPair(ctx context.Context, userID string) (types.Pair, error) {
	if userID == "" {
		return types.Pair{}, invalid(ErrMissingUser, "")
	}

	snap, err := o.ranking.Current(ctx)
	if err != nil {
		return types.Pair{}, &PersistenceError{Op: "snapshot", Err: err}
	}
	entries := snap.Entries()
	if len(entries) < 2 {
		return types.Pair{}, ErrNotEnoughItems
	}

	rctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	rated, err := o.store.RatedItems(rctx, userID)
	cancel()
	if err != nil {
		// selection still works, just without the unrated preference
		logger.Get().Named("duel").Warn(ctx, "rated items unavailable", logger.String("user_id", userID), logger.Error(err))
		rated = map[string]struct{}{}
	}
	anchors := o.anchors(entries, rated)
	a, b, fresh := -1, -1, false
	o.history.reserve(userID, func(recent map[string]struct{}) string {
		for _, i := range anchors {
			if j, ok := closestPartner(entries, i, recent); ok {
				a, b, fresh = i, j, true
				return pairKey(entries[a].ItemID, entries[b].ItemID)
			}
		}
		a = anchors[0]
		b = nearest(entries, a)
		return pairKey(entries[a].ItemID, entries[b].ItemID)
	})
	metrics.RecordPairSelected(fresh)
	return types.Pair{UserID: userID, A: entries[a], B: entries[b], Fresh: fresh}, nil
}

// anchors returns snapshot indices: unrated items first, then rated ones.
// Each group starts at a random offset so users do not all get the same pair.
func (o *Orchestrator) anchors(entries []types.Entry, rated map[string]struct{}) []int {
	var unrated, seen []int
	for i, e := range entries {
		if _, ok := rated[e.ItemID]; ok {
			seen = append(seen, i)
		} else {
			unrated = append(unrated, i)
		}
	}
	return append(o.rotate(unrated), o.rotate(seen)...)
}

func (o *Orchestrator) rotate(idx []int) []int {
	if len(idx) < 2 {
		return idx
	}
	k := o.intN(len(idx))
	return append(idx[k:len(idx):len(idx)], idx[:k]...)
}

// closestPartner walks outwards from i in rating order and returns the
// nearest item whose pair with i is not recent.
func closestPartner(entries []types.Entry, i int, recent map[string]struct{}) (int, bool) {
	l, r := i-1, i+1
	for l >= 0 || r < len(entries) {
		var j int
		switch {
		case l < 0:
			j, r = r, r+1
		case r >= len(entries):
			j, l = l, l-1
		case entries[l].Rating-entries[i].Rating <= entries[i].Rating-entries[r].Rating:
			j, l = l, l-1
		default:
			j, r = r, r+1
		}
		if _, ok := recent[pairKey(entries[i].ItemID, entries[j].ItemID)]; !ok {
			return j, true
		}
	}
	return 0, false
}

func nearest(entries []types.Entry, i int) int {
	switch {
	case i == 0:
		return 1
	case i == len(entries)-1:
		return i - 1
	case entries[i-1].Rating-entries[i].Rating <= entries[i].Rating-entries[i+1].Rating:
		return i - 1
	default:
		return i + 1
	}
}

// RecordOutcome applies a duel result for userID. WinnerID and LoserID name
// the two items; with Draw set neither side won. Experience is awarded only
// after the rating write is durable.
func (o *Orchestrator) RecordOutcome(ctx context.Context, userID string, out model.Outcome) (types.DuelResult, error) {
	start := time.Now()
	log := logger.Get().Named("duel")
	out.UserID = userID

	if err := validateShape(out); err != nil {
		metrics.RecordDuelFailed("validation")
		return types.DuelResult{}, err
	}
	if out.ID == "" {
		out.ID = uuid.NewString()
	} else if o.dedupe.SeenAndRecord(ctx, out.ID) {
		metrics.RecordDuplicate("outcome")
		metrics.RecordDuelFailed("duplicate")
		return types.DuelResult{}, invalid(ErrDuplicateOutcome, "%s", out.ID)
	}
	if out.At.IsZero() {
		out.At = time.Now().UTC()
	}

	change, err := o.apply(ctx, out)
	if err != nil {
		var ve *ValidationError
		switch {
		case errors.Is(err, ErrDuplicateOutcome):
			// the store already holds this outcome; keep the id recorded
			metrics.RecordDuplicate("outcome")
			metrics.RecordDuelFailed("duplicate")
			return types.DuelResult{}, err
		case errors.As(err, &ve):
			o.dedupe.Unrecord(ctx, out.ID)
			metrics.RecordDuelFailed("validation")
			log.Debug(ctx, "duel rejected", logger.String("outcome_id", out.ID), logger.Error(err))
		default:
			o.dedupe.Unrecord(ctx, out.ID)
			metrics.RecordDuelFailed("persistence")
			log.Error(ctx, "duel not persisted", logger.String("outcome_id", out.ID), logger.Error(err))
		}
		return types.DuelResult{}, err
	}

	o.ranking.NotifyDuel()
	metrics.RecordDuelRecorded(rating.ResultFromOutcome(out).String())
	metrics.ObserveRatingDelta(math.Abs(change.Delta))

	res := types.DuelResult{
		OutcomeID:    out.ID,
		WinnerID:     out.WinnerID,
		LoserID:      out.LoserID,
		Draw:         out.Draw,
		WinnerRating: change.A,
		LoserRating:  change.B,
		Delta:        change.Delta,
	}

	if amount := o.xpFor(out, change); amount > 0 {
		award, err := o.awarder.Award(ctx, "duel:"+out.ID, userID, amount, progress.SourceDuel, out.ID)
		if err != nil {
			// the duel itself stands; only the award is lost
			log.Error(ctx, "experience award failed after duel was recorded",
				logger.String("outcome_id", out.ID), logger.String("user_id", userID), logger.Error(err))
		} else {
			res.XPAwarded = amount
			res.LevelUp = award.LevelUp
		}
	}

	metrics.RecordDuelLatency(float64(time.Since(start).Microseconds()) / 1000)
	return res, nil
}

func validateShape(out model.Outcome) error {
	switch {
	case out.UserID == "":
		return invalid(ErrMissingUser, "")
	case out.WinnerID == "" || out.LoserID == "":
		return invalid(ErrMalformedOutcome, "both item ids are required")
	case out.WinnerID == out.LoserID:
		return invalid(ErrMalformedOutcome, "an item cannot duel itself")
	}
	return nil
}

// apply serializes on both items, then reads, computes and writes with an
// optimistic version check, retrying on conflict.
func (o *Orchestrator) apply(ctx context.Context, out model.Outcome) (rating.Change, error) {
	lockStart := time.Now()
	lctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	release, err := o.locks.LockAll(lctx, out.WinnerID, out.LoserID)
	cancel()
	if err != nil {
		return rating.Change{}, &PersistenceError{Op: "lock", Err: err}
	}
	defer release()
	metrics.RecordLockWait(float64(time.Since(lockStart).Microseconds()) / 1000)

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		change, err := o.attempt(ctx, out)
		if err == nil {
			return change, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return rating.Change{}, err
		}
		metrics.RecordDuelConflict()
		lastErr = err
	}
	return rating.Change{}, &PersistenceError{Op: "apply", Err: fmt.Errorf("retries exhausted: %w", lastErr)}
}

func (o *Orchestrator) attempt(ctx context.Context, out model.Outcome) (rating.Change, error) {
	sctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()

	recs, err := o.store.GetRatings(sctx, out.WinnerID, out.LoserID)
	if errors.Is(err, repository.ErrNotFound) {
		return rating.Change{}, invalid(ErrUnknownItem, "%v", err)
	}
	if err != nil {
		return rating.Change{}, &PersistenceError{Op: "read", Err: err}
	}
	w, l := recs[out.WinnerID], recs[out.LoserID]
	for _, r := range []model.RatingRecord{w, l} {
		if !r.Active {
			return rating.Change{}, invalid(ErrInactiveItem, "%s", r.ItemID)
		}
	}

	change, err := o.updater.Update(
		rating.Competitor{Rating: w.Rating, Duels: w.Duels},
		rating.Competitor{Rating: l.Rating, Duels: l.Duels},
		rating.ResultFromOutcome(out))
	if err != nil {
		return rating.Change{}, invalid(err, "")
	}

	err = o.store.ApplyDuel(sctx, repository.DuelWrite{
		Duel: model.DuelRecord{
			Outcome:      out,
			WinnerBefore: w.Rating,
			WinnerAfter:  change.A,
			LoserBefore:  l.Rating,
			LoserAfter:   change.B,
		},
		Updates: [2]repository.RatingUpdate{
			{ItemID: w.ItemID, Rating: change.A, ExpectedDuels: w.Duels},
			{ItemID: l.ItemID, Rating: change.B, ExpectedDuels: l.Duels},
		},
	})
	switch {
	case err == nil:
		return change, nil
	case errors.Is(err, repository.ErrConflict):
		return rating.Change{}, err
	case errors.Is(err, repository.ErrNotFound):
		return rating.Change{}, invalid(ErrUnknownItem, "%v", err)
	case errors.Is(err, repository.ErrDuplicate):
		return rating.Change{}, invalid(ErrDuplicateOutcome, "%s", out.ID)
	default:
		return rating.Change{}, &PersistenceError{Op: "write", Err: err}
	}
}

func (o *Orchestrator) xpFor(out model.Outcome, change rating.Change) int64 {
	if out.Draw {
		return o.xp.Draw
	}
	return o.xp.Base + int64(math.Round(float64(o.xp.UpsetBonus)*(1-change.ExpectedA)))
}
