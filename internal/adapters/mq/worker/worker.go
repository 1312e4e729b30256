// Package worker applies queued experience events through the progress service.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/beerduel/internal/adapters/mq/queue"
	"github.com/okian/beerduel/internal/progress"
	"github.com/okian/beerduel/pkg/logger"
	"github.com/okian/beerduel/pkg/metrics"
)

const (
	defaultWorkersPerCPU  = 2
	metricsUpdateInterval = 5 * time.Second
)

// Event is what workers read off the queue.
type Event = queue.Event

// Awarder applies one experience award.
type Awarder interface {
	Award(ctx context.Context, id, userID string, amount int64, source, ref string) (progress.Award, error)
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// FailureHook is called for every event that could not be applied.
type FailureHook func(ctx context.Context, ev Event, err error)

// InMemoryWorker applies events from a queue one at a time.
type InMemoryWorker struct {
	queue     Queue
	awarder   Awarder
	name      string
	onFailure FailureHook
	processed *atomic.Int64

	done   chan struct{}
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, awarder Awarder, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		awarder:   awarder,
		name:      "worker",
		processed: &atomic.Int64{},
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run consumes events until the queue is drained and closed or ctx is done.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	for ev := range w.queue.Dequeue(ctx) {
		if err := w.process(ctx, ev); err != nil {
			if w.onFailure != nil {
				w.onFailure(ctx, ev, err)
			}
		}
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, ev Event) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	source := ev.Source
	if source == "" {
		source = progress.SourceExternal
	}
	award, err := w.awarder.Award(ctx, ev.ID, ev.UserID, ev.Amount, source, ev.Ref)
	if errors.Is(err, progress.ErrDuplicateEvent) {
		w.logger.Debug(ctx, "experience event already applied", logger.String("event_id", ev.ID))
		return nil
	}
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "award_error")
		w.logger.Error(ctx, "experience award failed",
			logger.String("event_id", ev.ID),
			logger.String("user_id", ev.UserID),
			logger.Error(err))
		return fmt.Errorf("award %s: %w", ev.ID, err)
	}

	w.processed.Add(1)
	w.logger.Debug(ctx, "experience applied",
		logger.String("event_id", ev.ID),
		logger.Int64("total", award.Event.Total),
		logger.Bool("level_up", award.LevelUp))
	return nil
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers   []*InMemoryWorker
	queue     Queue
	processed atomic.Int64

	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   logger.Logger
}

// NewPool creates workerCount workers. A count below one uses two per CPU.
func NewPool(workerCount int, q Queue, awarder Awarder, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkersPerCPU
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		w := NewInMemoryWorker(q, awarder, wopts...)
		w.processed = &p.processed
		p.workers[i] = w
	}
	metrics.UpdateWorkerActiveCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns the number of events applied successfully.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Start runs every worker. The workers outlive ctx and stop only through
// Shutdown, so queued events are never dropped by a cancelled caller.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportThroughput(ctx)
	}()
}

func (p *Pool) reportThroughput(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateQueueSize(queueLen(p.queue))
		}
	}
}

func queueLen(q Queue) int {
	if l, ok := q.(interface{ Len() int }); ok {
		return l.Len()
	}
	return 0
}

// Shutdown closes the queue and waits for the workers to drain it. When ctx
// expires first the workers are cancelled and every event still queued is
// handed to the failure hook.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	var err error
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			err = fmt.Errorf("shutdown timed out: %w", ctx.Err())
		}
		if err != nil {
			break
		}
	}

	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	p.wg.Wait()
	if err != nil {
		p.abandon(ctx, err)
	}
	metrics.UpdateWorkerActiveCount(0)
	return err
}

// abandon reports events left in a closed queue to the failure hook.
func (p *Pool) abandon(ctx context.Context, cause error) {
	d, ok := p.queue.(interface{ Drain() []Event })
	if !ok {
		return
	}
	left := d.Drain()
	if len(left) == 0 {
		return
	}
	p.logger.Warn(ctx, "abandoning queued experience events", logger.Int("count", len(left)))
	// every worker shares the options the pool was built with
	hook := p.workers[0].onFailure
	for _, ev := range left {
		metrics.RecordWorkerError()
		if hook != nil {
			hook(ctx, ev, cause)
		}
	}
}
