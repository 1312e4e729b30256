package repository

import "time"

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *MemoryStore) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}

// WithEventLogLimit caps the xp events kept per user.
func WithEventLogLimit(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.eventLogLimit = n
		}
	}
}

// WithDuelLogLimit caps the duel audit rows kept in memory.
func WithDuelLogLimit(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.duelLogLimit = n
		}
	}
}
