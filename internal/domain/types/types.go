// Package types contains read shapes shared by the engine and its transports.
package types

import "github.com/okian/beerduel/internal/domain/model"

// Entry represents a leaderboard row.
type Entry struct {
	Rank   int     `json:"rank"`
	ItemID string  `json:"item_id"`
	Rating float64 `json:"rating"`
}

// Pair is the next duel offered to a user.
type Pair struct {
	UserID string `json:"user_id"`
	A      Entry  `json:"a"`
	B      Entry  `json:"b"`
	Fresh  bool   `json:"fresh"` // false when every candidate pair was recently shown
}

// DuelResult is returned after an outcome has been durably applied.
type DuelResult struct {
	OutcomeID    string  `json:"outcome_id"`
	WinnerID     string  `json:"winner_id"`
	LoserID      string  `json:"loser_id"`
	Draw         bool    `json:"draw"`
	WinnerRating float64 `json:"winner_rating"`
	LoserRating  float64 `json:"loser_rating"`
	Delta        float64 `json:"delta"`
	XPAwarded    int64   `json:"xp_awarded"`
	LevelUp      bool    `json:"level_up"`
}

// Rarity is the current tier of one item.
type Rarity struct {
	ItemID      string           `json:"item_id"`
	Tier        model.RarityTier `json:"tier"`
	DisplayName string           `json:"display_name"`
}
