// Package model contains domain models passed between layers.
package model

import "time"

// RarityTier is the discrete classification of an item derived from its
// percentile rank in the rating distribution.
type RarityTier string

// Rarity tiers, lowest to highest.
const (
	TierCommon    RarityTier = "common"
	TierRare      RarityTier = "rare"
	TierEpic      RarityTier = "epic"
	TierLegendary RarityTier = "legendary"
)

// Rank orders tiers from common (0) to legendary (3). Unknown tiers rank -1.
func (t RarityTier) Rank() int {
	switch t {
	case TierCommon:
		return 0
	case TierRare:
		return 1
	case TierEpic:
		return 2
	case TierLegendary:
		return 3
	default:
		return -1
	}
}

// DisplayName returns the human readable tier name.
func (t RarityTier) DisplayName() string {
	switch t {
	case TierCommon:
		return "Common"
	case TierRare:
		return "Rare"
	case TierEpic:
		return "Epic"
	case TierLegendary:
		return "Legendary"
	default:
		return "Unclassified"
	}
}

// Item is a beer that can be dueled.
type Item struct {
	ID        string
	Name      string
	Producer  string
	Style     string
	Rating    float64
	Duels     int
	Rarity    RarityTier
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewItem describes a beer to register. A nil Rating starts at the default
// initial rating; any other value, zero included, is used as given.
type NewItem struct {
	ID       string
	Name     string
	Producer string
	Style    string
	Rating   *float64
	Active   bool
}

// Record returns the rating record attached to the item.
func (i Item) Record() RatingRecord {
	return RatingRecord{ItemID: i.ID, Rating: i.Rating, Duels: i.Duels}
}

// RatingRecord is the (rating, duel count) pair of an item. Duels doubles as
// the version used for optimistic writes.
type RatingRecord struct {
	ItemID string
	Rating float64
	Duels  int
	Active bool
}

// Scored is the read shape used by ranking and classification passes.
type Scored struct {
	ItemID string
	Rating float64
}

// Outcome is an immutable duel result submitted by a user.
type Outcome struct {
	ID       string
	UserID   string
	WinnerID string
	LoserID  string
	Draw     bool
	At       time.Time
}

// DuelRecord is the audit row persisted with a duel.
type DuelRecord struct {
	Outcome
	WinnerBefore float64
	WinnerAfter  float64
	LoserBefore  float64
	LoserAfter   float64
}

// XPEvent is one experience award in a user's log.
type XPEvent struct {
	ID     string
	UserID string
	Amount int64
	Source string
	Ref    string
	Total  int64
	At     time.Time
}

// UserProgress is a user's accumulated experience with the derived level.
type UserProgress struct {
	UserID string
	XP     int64
	Level  int
	Title  string
	Icon   string
	Events []XPEvent
}
