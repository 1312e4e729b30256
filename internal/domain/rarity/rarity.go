// Package rarity assigns every active item a rarity tier from its position
// in the rating distribution.
package rarity

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/okian/beerduel/internal/domain/model"
)

// Default target shares. Common takes the remainder.
const (
	DefaultLegendaryShare = 0.05
	DefaultEpicShare      = 0.15
	DefaultRareShare      = 0.30

	// floorEpsilon absorbs float error in n*share before flooring (100*0.15 must be 15).
	floorEpsilon = 1e-9
)

// Sentinel errors.
var (
	ErrInvalidShares = errors.New("tier shares must each be in [0,1] and sum to at most 1")
	ErrUnknownTier   = errors.New("unknown rarity tier")
)

// Shares is the target population share of every tier above common.
type Shares struct {
	Legendary float64 `koanf:"legendary_share" json:"legendary_share"`
	Epic      float64 `koanf:"epic_share" json:"epic_share"`
	Rare      float64 `koanf:"rare_share" json:"rare_share"`
}

// DefaultShares returns the 5/15/30 split.
func DefaultShares() Shares {
	return Shares{Legendary: DefaultLegendaryShare, Epic: DefaultEpicShare, Rare: DefaultRareShare}
}

// Validate checks every share is in [0,1] and they sum to at most 1.
func (s Shares) Validate() error {
	for name, v := range map[string]float64{"legendary": s.Legendary, "epic": s.Epic, "rare": s.Rare} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s=%v", ErrInvalidShares, name, v)
		}
	}
	if sum := s.Legendary + s.Epic + s.Rare; sum > 1+floorEpsilon {
		return fmt.Errorf("%w: sum=%v", ErrInvalidShares, sum)
	}
	return nil
}

// Option applies a configuration option to the Classifier.
type Option func(*Classifier)

// WithShares sets the tier shares.
func WithShares(s Shares) Option {
	return func(c *Classifier) {
		c.shares = s
	}
}

// WithMinPerTier controls whether a tier with a positive share always gets
// at least one item while items remain.
func WithMinPerTier(on bool) Option {
	return func(c *Classifier) {
		c.minPerTier = on
	}
}

// Classifier partitions a population into tiers. It holds configuration
// only and is safe for concurrent use.
type Classifier struct {
	shares     Shares
	minPerTier bool
}

// NewClassifier builds a Classifier with the 5/15/30 default split.
func NewClassifier(opts ...Option) (*Classifier, error) {
	c := &Classifier{
		shares:     DefaultShares(),
		minPerTier: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.shares.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Shares returns the configured shares.
func (c *Classifier) Shares() Shares {
	return c.shares
}

// Counts returns the tier sizes for a population of n items.
func (c *Classifier) Counts(n int) map[model.RarityTier]int {
	out := make(map[model.RarityTier]int, 4)
	if n <= 0 {
		return out
	}

	remaining := n
	steps := []struct {
		tier  model.RarityTier
		share float64
	}{
		{model.TierLegendary, c.shares.Legendary},
		{model.TierEpic, c.shares.Epic},
		{model.TierRare, c.shares.Rare},
	}
	for _, st := range steps {
		k := int(math.Floor(float64(n)*st.share + floorEpsilon))
		if k == 0 && st.share > 0 && c.minPerTier && remaining > 0 {
			k = 1
		}
		if k > remaining {
			k = remaining
		}
		out[st.tier] = k
		remaining -= k
	}
	out[model.TierCommon] = remaining
	return out
}

// Classify assigns a tier to every item in the population. Items are ordered
// by rating descending then id ascending so the partition is reproducible.
// Duplicate ids keep their first occurrence.
func (c *Classifier) Classify(population []model.Scored) map[string]model.RarityTier {
	sorted := make([]model.Scored, 0, len(population))
	seen := make(map[string]struct{}, len(population))
	for _, s := range population {
		if _, dup := seen[s.ItemID]; dup {
			continue
		}
		seen[s.ItemID] = struct{}{}
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	out := make(map[string]model.RarityTier, len(sorted))
	if len(sorted) == 0 {
		return out
	}

	counts := c.Counts(len(sorted))
	idx := 0
	for _, tier := range AllTiers() {
		for k := 0; k < counts[tier]; k++ {
			out[sorted[idx].ItemID] = tier
			idx++
		}
	}
	return out
}

// Less orders rating descending then item id ascending.
func Less(a, b model.Scored) bool {
	if a.Rating != b.Rating {
		return a.Rating > b.Rating
	}
	return a.ItemID < b.ItemID
}

// AllTiers returns the tiers from highest to lowest.
func AllTiers() []model.RarityTier {
	return []model.RarityTier{model.TierLegendary, model.TierEpic, model.TierRare, model.TierCommon}
}

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (model.RarityTier, error) {
	t := model.RarityTier(strings.ToLower(strings.TrimSpace(s)))
	if t.Rank() < 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}
