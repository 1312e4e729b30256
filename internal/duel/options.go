package duel

import (
	"time"

	"github.com/okian/beerduel/internal/domain/dedupe"
)

// XPPolicy decides how much experience a recorded duel is worth.
type XPPolicy struct {
	Base       int64 `koanf:"base"`        // decisive outcome
	Draw       int64 `koanf:"draw"`        // draw outcome
	UpsetBonus int64 `koanf:"upset_bonus"` // scaled by 1 - E_winner
}

// DefaultXPPolicy returns 10 base, 10 for a draw, up to 10 upset bonus.
func DefaultXPPolicy() XPPolicy {
	return XPPolicy{Base: 10, Draw: 10, UpsetBonus: 10}
}

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithHistory sets how many recent pairs are remembered per user and for how long.
func WithHistory(size int, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if size > 0 {
			o.historySize = size
		}
		if ttl > 0 {
			o.historyTTL = ttl
		}
	}
}

// WithHistoryUsers caps the number of users whose history is tracked.
func WithHistoryUsers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyUsers = n
		}
	}
}

// WithMaxRetries sets how often a conflicting write is retried.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithStoreTimeout bounds every store call and lock wait.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.storeTimeout = d
		}
	}
}

// WithXPPolicy sets the experience awarded per duel.
func WithXPPolicy(p XPPolicy) Option {
	return func(o *Orchestrator) {
		o.xp = p
	}
}

// WithDeduper sets the outcome id deduper.
func WithDeduper(d dedupe.Deduper) Option {
	return func(o *Orchestrator) {
		if d != nil {
			o.dedupe = d
		}
	}
}

// WithRandom sets the source used to rotate anchor selection.
// f must return a value in [0, n).
func WithRandom(f func(n int) int) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.intN = f
		}
	}
}
