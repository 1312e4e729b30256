// Package repository defines the persistence ports of the engine and an
// in-memory implementation of them.
package repository

import (
	"context"

	"github.com/okian/beerduel/internal/domain/model"
)

// RatingUpdate is the new state of one item after a duel. ExpectedDuels is
// the duel count the caller read; the write fails with ErrConflict if it moved.
type RatingUpdate struct {
	ItemID        string
	Rating        float64
	ExpectedDuels int
}

// DuelWrite applies both sides of a duel and its audit row as one unit.
type DuelWrite struct {
	Duel    model.DuelRecord
	Updates [2]RatingUpdate
}

// ItemStore manages the item catalogue.
type ItemStore interface {
	// CreateItem stores a new item. Returns ErrAlreadyExists on id collision.
	CreateItem(ctx context.Context, item model.Item) (model.Item, error)
	// GetItem returns ErrNotFound for unknown ids.
	GetItem(ctx context.Context, id string) (model.Item, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// RatingStore holds rating records and the duel log.
type RatingStore interface {
	// GetRatings returns the records of every id, or ErrNotFound if any is unknown.
	GetRatings(ctx context.Context, ids ...string) (map[string]model.RatingRecord, error)
	// ApplyDuel writes both rating records and the audit row atomically:
	// either all of it is applied or none of it. An outcome id that was
	// already applied returns ErrDuplicate.
	ApplyDuel(ctx context.Context, w DuelWrite) error
	// ScanActiveItems returns every active item ordered by rating desc, id asc.
	ScanActiveItems(ctx context.Context) ([]model.Scored, error)
	// RatedItems returns the ids of items the user has already dueled.
	RatedItems(ctx context.Context, userID string) (map[string]struct{}, error)
}

// TierStore persists rarity tiers.
type TierStore interface {
	// SetRarityTiers replaces the whole tier assignment in one step. Items
	// absent from tiers become unclassified.
	SetRarityTiers(ctx context.Context, tiers map[string]model.RarityTier) error
}

// ProgressStore holds user experience totals and their event log.
type ProgressStore interface {
	// GetExperience returns 0 for users without experience.
	GetExperience(ctx context.Context, userID string) (int64, error)
	// AddExperience atomically adds ev.Amount to the user's total, appends
	// ev to the log and returns the new total. An event id that was already
	// applied returns ErrDuplicate.
	AddExperience(ctx context.Context, ev model.XPEvent) (int64, error)
	// RecentXPEvents returns up to limit events, newest first.
	RecentXPEvents(ctx context.Context, userID string, limit int) ([]model.XPEvent, error)
}

// Store is the full persistence port.
type Store interface {
	ItemStore
	RatingStore
	TierStore
	ProgressStore

	Ping(ctx context.Context) error
	Close() error
}
