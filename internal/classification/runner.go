// Package classification runs the periodic rarity pass: snapshot the
// ranking, classify it, and replace the stored tiers in one write.
package classification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/internal/domain/rarity"
	"github.com/okian/beerduel/internal/ranking"
	"github.com/okian/beerduel/pkg/logger"
	"github.com/okian/beerduel/pkg/metrics"
)

// Sentinel errors.
var (
	// ErrClassificationSkipped means the population could not be read; the
	// previous tier assignment remains authoritative.
	ErrClassificationSkipped = errors.New("classification skipped")
	ErrAlreadyRunning        = errors.New("classification already running")
)

// Snapshotter provides the population snapshot.
type Snapshotter interface {
	Refresh(ctx context.Context) (*ranking.Snapshot, error)
}

// TierWriter persists a full tier mapping atomically.
type TierWriter interface {
	SetRarityTiers(ctx context.Context, tiers map[string]model.RarityTier) error
}

// Report summarizes one classification pass.
type Report struct {
	Population int                      `json:"population"`
	Counts     map[model.RarityTier]int `json:"counts"`
	Version    uint64                   `json:"snapshot_version"`
	Duration   time.Duration            `json:"duration"`
	At         time.Time                `json:"at"`
}

// Option applies a configuration option to the Runner.
type Option func(*Runner)

// WithInterval sets the period of the background loop.
func WithInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithWriteTimeout bounds the tier write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// Runner executes classification passes, at most one at a time.
type Runner struct {
	snap       Snapshotter
	tiers      TierWriter
	classifier *rarity.Classifier

	interval     time.Duration
	writeTimeout time.Duration

	running sync.Mutex
	lastMu  sync.RWMutex
	last    *Report

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(snap Snapshotter, tiers TierWriter, classifier *rarity.Classifier, opts ...Option) *Runner {
	r := &Runner{
		snap:         snap,
		tiers:        tiers,
		classifier:   classifier,
		interval:     5 * time.Minute,
		writeTimeout: 10 * time.Second,
		stopChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one pass. A concurrent call returns ErrAlreadyRunning; a
// population read failure returns an error wrapping ErrClassificationSkipped.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	if !r.running.TryLock() {
		return Report{}, ErrAlreadyRunning
	}
	defer r.running.Unlock()

	log := logger.Get().Named("classification")
	start := time.Now()

	snap, err := r.snap.Refresh(ctx)
	if err != nil {
		metrics.RecordClassificationSkipped("scan")
		log.Warn(ctx, "classification skipped, keeping previous tiers", logger.Error(err))
		return Report{}, fmt.Errorf("%w: %w", ErrClassificationSkipped, err)
	}

	report := Report{
		Population: snap.Len(),
		Counts:     r.classifier.Counts(snap.Len()),
		Version:    snap.Version(),
		At:         time.Now().UTC(),
	}
	if snap.Len() == 0 {
		report.Duration = time.Since(start)
		log.Info(ctx, "empty population, nothing to classify")
		return report, nil
	}

	tiers := r.classifier.Classify(snap.Scored())

	wctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	if err := r.tiers.SetRarityTiers(wctx, tiers); err != nil {
		metrics.RecordClassificationSkipped("write")
		log.Error(ctx, "tier write failed, keeping previous tiers", logger.Error(err))
		return Report{}, fmt.Errorf("%w: write tiers: %w", ErrClassificationSkipped, err)
	}

	report.Duration = time.Since(start)
	metrics.RecordClassificationRun()
	metrics.RecordClassificationDuration(float64(report.Duration.Microseconds()) / 1000)
	for tier, n := range report.Counts {
		metrics.UpdateTierSize(string(tier), n)
	}

	r.lastMu.Lock()
	r.last = &report
	r.lastMu.Unlock()

	log.Info(ctx, "classification complete",
		logger.Int("population", report.Population),
		logger.Int("legendary", report.Counts[model.TierLegendary]),
		logger.Int("epic", report.Counts[model.TierEpic]),
		logger.Int("rare", report.Counts[model.TierRare]),
		logger.Int("common", report.Counts[model.TierCommon]),
		logger.Duration("duration", report.Duration))
	return report, nil
}

// Last returns the most recent successful report.
func (r *Runner) Last() (Report, bool) {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// Start runs a pass every interval until ctx is done or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				// failures are logged inside Run
				_, _ = r.Run(ctx)
			}
		}
	}()
}

// Stop halts the background loop.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
}
