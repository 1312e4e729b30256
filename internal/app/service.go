// Package service wires the rating engine together and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/okian/beerduel/internal/adapters/mq/queue"
	workerpool "github.com/okian/beerduel/internal/adapters/mq/worker"
	"github.com/okian/beerduel/internal/adapters/repository"
	"github.com/okian/beerduel/internal/adapters/repository/postgres"
	"github.com/okian/beerduel/internal/classification"
	"github.com/okian/beerduel/internal/config"
	"github.com/okian/beerduel/internal/database"
	"github.com/okian/beerduel/internal/domain/dedupe"
	"github.com/okian/beerduel/internal/domain/level"
	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/internal/domain/rarity"
	"github.com/okian/beerduel/internal/domain/rating"
	"github.com/okian/beerduel/internal/domain/types"
	"github.com/okian/beerduel/internal/duel"
	"github.com/okian/beerduel/internal/progress"
	"github.com/okian/beerduel/internal/ranking"
	"github.com/okian/beerduel/pkg/logger"
	"github.com/okian/beerduel/pkg/metrics"
)

// Service owns every engine component and their lifecycles.
type Service struct {
	mu sync.RWMutex

	cfg       *config.Config
	store     repository.Store
	ownsStore bool
	intN      func(n int) int

	// Core components
	updater        *rating.Updater
	ranking        *ranking.Cache
	classification *classification.Runner
	progress       *progress.Service
	duels          *duel.Orchestrator
	eventDedupe    dedupe.Deduper
	outcomeDedupe  dedupe.Deduper
	eventQueue     *eventqueue.InMemoryQueue
	workerPool     *workerpool.Pool

	started bool
	logger  logger.Logger
}

// New constructs a Service. Nothing runs until Start.
func New(opts ...Option) *Service {
	s := &Service{cfg: config.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components from the config and starts the background
// loops: ranking refresh, periodic classification and experience workers.
// The loops are detached from ctx and end only through Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	cfg := s.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.logger.Info(ctx, "starting rating engine...", logger.String("backend", cfg.StoreBackend))

	updater, err := cfg.Updater()
	if err != nil {
		return err
	}
	table, err := level.NewTable(cfg.Levels)
	if err != nil {
		return err
	}
	classifier, err := rarity.NewClassifier(
		rarity.WithShares(cfg.Shares()),
		rarity.WithMinPerTier(cfg.MinPerTier),
	)
	if err != nil {
		return err
	}
	s.updater = updater
	bg := context.WithoutCancel(ctx)

	if s.store == nil {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		s.store, s.ownsStore = store, true
	}

	s.ranking = ranking.New(s.store,
		ranking.WithRefreshInterval(config.Millis(cfg.RankingRefreshIntervalMS)),
		ranking.WithInvalidateAfter(cfg.RankingInvalidateAfter),
	)
	if _, err := s.ranking.Refresh(ctx); err != nil {
		s.logger.Warn(ctx, "initial ranking refresh failed", logger.Error(err))
	}
	s.ranking.Start(bg)

	s.classification = classification.NewRunner(s.ranking, s.store, classifier,
		classification.WithInterval(config.Millis(cfg.ClassificationIntervalMS)),
		classification.WithWriteTimeout(config.Millis(cfg.ClassificationTimeoutMS)),
	)
	if cfg.ClassificationIntervalMS > 0 {
		s.classification.Start(bg)
	}

	s.progress = progress.NewService(s.store,
		progress.WithTable(table),
		progress.WithRecentEvents(cfg.ProgressRecentEvents),
		progress.WithTimeout(config.Millis(cfg.StoreTimeoutMS)),
	)

	dedupeOpts := []dedupe.Option{
		dedupe.WithMaxSize(cfg.DedupeSize),
		dedupe.WithTTL(config.Millis(cfg.DedupeTTLMS)),
	}
	s.outcomeDedupe = dedupe.NewInMemoryDeduper(dedupeOpts...)
	s.eventDedupe = dedupe.NewInMemoryDeduper(dedupeOpts...)

	duelOpts := []duel.Option{
		duel.WithHistory(cfg.HistorySize, config.Millis(cfg.HistoryTTLMS)),
		duel.WithHistoryUsers(cfg.HistoryUsers),
		duel.WithMaxRetries(cfg.MaxRetries),
		duel.WithStoreTimeout(config.Millis(cfg.StoreTimeoutMS)),
		duel.WithXPPolicy(duel.XPPolicy{Base: cfg.XPBase, Draw: cfg.XPDraw, UpsetBonus: cfg.XPUpsetBonus}),
		duel.WithDeduper(s.outcomeDedupe),
	}
	if s.intN != nil {
		duelOpts = append(duelOpts, duel.WithRandom(s.intN))
	}
	s.duels = duel.New(s.store, s.ranking, updater, s.progress, duelOpts...)

	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(cfg.EventQueueSize))
	s.workerPool = workerpool.NewPool(cfg.WorkerCount, s.eventQueue, s.progress,
		workerpool.WithFailureHook(s.releaseEvent))
	s.workerPool.Start(bg)

	s.started = true
	s.logger.Info(ctx, "rating engine started",
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queue_size", cfg.EventQueueSize),
		logger.Int("dedupe_size", cfg.DedupeSize),
	)
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.StoreBackend != config.BackendPostgres {
		return repository.NewMemoryStore(ctx), nil
	}
	pool, err := database.NewPool(ctx, database.PoolConfig{
		DSN:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
	})
	if err != nil {
		return nil, err
	}
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return postgres.New(pool), nil
}

// releaseEvent lets a failed experience event be submitted again.
func (s *Service) releaseEvent(ctx context.Context, ev workerpool.Event, _ error) {
	s.eventDedupe.Unrecord(ctx, ev.ID)
}

// Stop halts the background loops, drains the experience queue and closes
// the store when the service opened it.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping rating engine...")

	s.classification.Stop()
	s.ranking.Stop()

	var errs []error
	if err := s.workerPool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain experience queue: %w", err))
	}
	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		s.store, s.ownsStore = nil, false
	}

	s.started = false
	s.logger.Info(ctx, "rating engine stopped")
	return errors.Join(errs...)
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// NextPair returns the next two items to show a user.
func (s *Service) NextPair(ctx context.Context, userID string) (types.Pair, error) {
	if err := s.ready(); err != nil {
		return types.Pair{}, err
	}
	return s.duels.NextPair(ctx, userID)
}

// RecordOutcome applies a duel result submitted by a user.
func (s *Service) RecordOutcome(ctx context.Context, userID string, out model.Outcome) (types.DuelResult, error) {
	if err := s.ready(); err != nil {
		return types.DuelResult{}, err
	}
	return s.duels.RecordOutcome(ctx, userID, out)
}

// Leaderboard returns the top limit items of the current snapshot. limit is
// capped at the configured maximum.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]types.Entry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit > s.cfg.MaxLeaderboardLimit {
		limit = s.cfg.MaxLeaderboardLimit
	}
	snap, err := s.ranking.Current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.TopN(limit)
}

// Rank returns the snapshot rank of one item.
func (s *Service) Rank(ctx context.Context, itemID string) (types.Entry, error) {
	if err := s.ready(); err != nil {
		return types.Entry{}, err
	}
	snap, err := s.ranking.Current(ctx)
	if err != nil {
		return types.Entry{}, err
	}
	return snap.Rank(itemID)
}

// RarityOf returns the tier assigned by the last classification pass.
func (s *Service) RarityOf(ctx context.Context, itemID string) (types.Rarity, error) {
	if err := s.ready(); err != nil {
		return types.Rarity{}, err
	}
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return types.Rarity{}, err
	}
	return types.Rarity{ItemID: item.ID, Tier: item.Rarity, DisplayName: item.Rarity.DisplayName()}, nil
}

// LevelOf maps an experience total onto the level table.
func (s *Service) LevelOf(xp int64) (level.Info, error) {
	if err := s.ready(); err != nil {
		return level.Info{}, err
	}
	return s.progress.LevelOf(xp), nil
}

// Progress returns a user's experience, level and recent events.
func (s *Service) Progress(ctx context.Context, userID string) (model.UserProgress, level.Info, error) {
	if err := s.ready(); err != nil {
		return model.UserProgress{}, level.Info{}, err
	}
	return s.progress.Get(ctx, userID)
}

// RegisterItem adds a beer. An empty id gets a uuid and a nil rating starts
// at the initial rating.
func (s *Service) RegisterItem(ctx context.Context, req model.NewItem) (model.Item, error) {
	if err := s.ready(); err != nil {
		return model.Item{}, err
	}
	item := model.Item{
		ID:       req.ID,
		Name:     strings.TrimSpace(req.Name),
		Producer: req.Producer,
		Style:    req.Style,
		Rating:   rating.DefaultInitialRating,
		Active:   req.Active,
	}
	if item.Name == "" {
		return model.Item{}, fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if req.Rating != nil {
		item.Rating = *req.Rating
	}
	if err := s.updater.Validate(item.Rating); err != nil {
		return model.Item{}, fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}

	created, err := s.store.CreateItem(ctx, item)
	if err != nil {
		return model.Item{}, err
	}
	if created.Active {
		s.ranking.Invalidate()
	}
	s.logger.Debug(ctx, "item registered", logger.String("item_id", created.ID), logger.String("name", created.Name))
	return created, nil
}

// SetActive adds an item to or removes it from the duel population.
func (s *Service) SetActive(ctx context.Context, itemID string, active bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.store.SetActive(ctx, itemID, active); err != nil {
		return err
	}
	s.ranking.Invalidate()
	return nil
}

// EnqueueExperience queues an external experience award. A full queue is
// reported as ErrBackpressure and the event id stays available for retry.
func (s *Service) EnqueueExperience(ctx context.Context, ev model.XPEvent) (model.XPEvent, error) {
	if err := s.ready(); err != nil {
		return model.XPEvent{}, err
	}
	if ev.UserID == "" {
		return model.XPEvent{}, fmt.Errorf("%w: user id is required", ErrInvalidEvent)
	}
	if ev.Amount <= 0 {
		return model.XPEvent{}, fmt.Errorf("%w: amount must be positive", ErrInvalidEvent)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Source == "" {
		ev.Source = progress.SourceExternal
	}

	if s.eventDedupe.SeenAndRecord(ctx, ev.ID) {
		metrics.RecordDuplicate("experience")
		return model.XPEvent{}, fmt.Errorf("%w: %s", ErrDuplicateEvent, ev.ID)
	}
	if err := s.eventQueue.Enqueue(ctx, ev); err != nil {
		s.eventDedupe.Unrecord(ctx, ev.ID)
		if errors.Is(err, eventqueue.ErrFull) {
			return model.XPEvent{}, fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return model.XPEvent{}, err
	}
	s.logger.Debug(ctx, "experience queued",
		logger.String("event_id", ev.ID),
		logger.String("user_id", ev.UserID),
		logger.Int64("amount", ev.Amount))
	return ev, nil
}

// Classify runs one classification pass now.
func (s *Service) Classify(ctx context.Context) (classification.Report, error) {
	if err := s.ready(); err != nil {
		return classification.Report{}, err
	}
	return s.classification.Run(ctx)
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.store.Ping(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":             s.started,
		"backend":             s.cfg.StoreBackend,
		"workerCount":         s.cfg.WorkerCount,
		"queueSize":           s.cfg.EventQueueSize,
		"dedupeSize":          s.cfg.DedupeSize,
		"maxRetries":          s.cfg.MaxRetries,
		"maxLeaderboardLimit": s.cfg.MaxLeaderboardLimit,
	}
	if !s.started {
		return stats
	}

	stats["queueLength"] = s.eventQueue.Len()
	stats["experienceProcessed"] = s.workerPool.Processed()
	stats["outcomesSeen"] = s.outcomeDedupe.Size()
	stats["eventsSeen"] = s.eventDedupe.Size()
	if snap := s.ranking.Peek(); snap != nil {
		stats["rankedItems"] = snap.Len()
		stats["snapshotVersion"] = snap.Version()
		stats["snapshotBuiltAt"] = snap.BuiltAt().Format(time.RFC3339)
	}
	if report, ok := s.classification.Last(); ok {
		stats["lastClassification"] = map[string]any{
			"population": report.Population,
			"version":    report.Version,
			"at":         report.At.Format(time.RFC3339),
			"durationMs": report.Duration.Milliseconds(),
			"legendary":  report.Counts[model.TierLegendary],
			"epic":       report.Counts[model.TierEpic],
			"rare":       report.Counts[model.TierRare],
			"common":     report.Counts[model.TierCommon],
		}
	}

	metrics.UpdateQueueSize(s.eventQueue.Len())
	return stats
}
