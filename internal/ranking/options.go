package ranking

import "time"

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithRefreshInterval sets how often the snapshot is rebuilt on schedule.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.refreshInterval = d
		}
	}
}

// WithInvalidateAfter rebuilds the snapshot once n duels were recorded
// since the last refresh. Zero disables count-based invalidation.
func WithInvalidateAfter(n int) Option {
	return func(c *Cache) {
		if n >= 0 {
			c.invalidateAfter = int64(n)
		}
	}
}
