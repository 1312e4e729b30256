// Package ranking maintains the snapshot-and-invalidate view of the rated
// population consumed by the leaderboard, pair selection and classification.
package ranking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/pkg/logger"
	"github.com/okian/beerduel/pkg/metrics"
)

// Source provides the live population.
type Source interface {
	ScanActiveItems(ctx context.Context) ([]model.Scored, error)
}

// Cache publishes immutable snapshots through an atomic pointer. Refreshes
// run on a ticker and on invalidation; concurrent refreshes share one scan.
type Cache struct {
	src Source

	snapshot atomic.Pointer[Snapshot]
	version  atomic.Uint64
	pending  atomic.Int64 // duels since the last refresh
	group    singleflight.Group

	refreshInterval time.Duration
	invalidateAfter int64

	invalidate chan struct{}
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a Cache over src. No snapshot exists until the first refresh.
func New(src Source, opts ...Option) *Cache {
	c := &Cache{
		src:             src,
		refreshInterval: 30 * time.Second,
		invalidateAfter: 50,
		invalidate:      make(chan struct{}, 1),
		stopChan:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the refresh loop until ctx is done or Stop is called.
func (c *Cache) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case <-ticker.C:
			case <-c.invalidate:
			}
			if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				logger.Get().Named("ranking").Warn(ctx, "ranking refresh failed, keeping previous snapshot", logger.Error(err))
			}
		}
	}()
}

// Stop halts the refresh loop.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
}

// Refresh rebuilds and publishes a snapshot. On error the previous snapshot
// stays current.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		start := time.Now()
		pendingAtStart := c.pending.Load()

		scored, err := c.src.ScanActiveItems(ctx)
		if err != nil {
			metrics.RecordRankingRefreshError()
			return nil, fmt.Errorf("scan active items: %w", err)
		}

		snap := newSnapshot(scored, c.version.Add(1))
		c.snapshot.Store(snap)
		c.pending.Add(-pendingAtStart)

		metrics.RecordRankingRefresh(float64(time.Since(start).Microseconds())/1000, snap.Len(), float64(snap.builtAt.Unix()))
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Current returns the latest snapshot, building the first one on demand.
func (c *Cache) Current(ctx context.Context) (*Snapshot, error) {
	if s := c.snapshot.Load(); s != nil {
		return s, nil
	}
	return c.Refresh(ctx)
}

// Peek returns the latest snapshot or nil.
func (c *Cache) Peek() *Snapshot {
	return c.snapshot.Load()
}

// Invalidate requests an asynchronous refresh. Requests coalesce.
func (c *Cache) Invalidate() {
	metrics.RecordRankingInvalidation()
	select {
	case c.invalidate <- struct{}{}:
	default:
	}
}

// NotifyDuel counts a recorded duel and invalidates once the count since
// the last successful refresh reaches the configured number.
func (c *Cache) NotifyDuel() {
	if c.invalidateAfter == 0 {
		return
	}
	if c.pending.Add(1) >= c.invalidateAfter {
		c.Invalidate()
	}
}
