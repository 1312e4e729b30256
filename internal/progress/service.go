// Package progress owns user experience: it applies awards atomically and
// derives the level through the level table.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/beerduel/internal/adapters/repository"
	"github.com/okian/beerduel/internal/domain/level"
	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/pkg/logger"
	"github.com/okian/beerduel/pkg/metrics"
)

// Experience sources.
const (
	SourceDuel     = "duel"
	SourceExternal = "external"
)

// Sentinel errors.
var (
	ErrInvalidAmount = errors.New("experience amount must be positive")
	ErrInvalidUser   = errors.New("user id is required")
	// ErrDuplicateEvent means the event id was already applied; the total is unchanged.
	ErrDuplicateEvent = errors.New("experience event already applied")
)

// Store is the persistence the service needs.
type Store interface {
	GetExperience(ctx context.Context, userID string) (int64, error)
	AddExperience(ctx context.Context, ev model.XPEvent) (int64, error)
	RecentXPEvents(ctx context.Context, userID string, limit int) ([]model.XPEvent, error)
}

// Award is the result of one experience award.
type Award struct {
	Event   model.XPEvent
	Before  level.Info
	After   level.Info
	LevelUp bool
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithTable sets the level table.
func WithTable(t *level.Table) Option {
	return func(s *Service) {
		if t != nil {
			s.table = t
		}
	}
}

// WithRecentEvents sets how many events Get returns.
func WithRecentEvents(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recentEvents = n
		}
	}
}

// WithTimeout bounds every store call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Service applies experience awards.
type Service struct {
	store        Store
	table        *level.Table
	recentEvents int
	timeout      time.Duration
}

// NewService creates a Service with the default level table.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		table:        level.DefaultTable(),
		recentEvents: 20,
		timeout:      2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Table returns the level table in use.
func (s *Service) Table() *level.Table { return s.table }

// Award adds amount to the user's total. id makes the event idempotent at
// the store level; an empty id gets a fresh uuid.
func (s *Service) Award(ctx context.Context, id, userID string, amount int64, source, ref string) (Award, error) {
	if userID == "" {
		return Award{}, ErrInvalidUser
	}
	if amount <= 0 {
		return Award{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if id == "" {
		id = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ev := model.XPEvent{ID: id, UserID: userID, Amount: amount, Source: source, Ref: ref, At: time.Now().UTC()}
	total, err := s.store.AddExperience(ctx, ev)
	if errors.Is(err, repository.ErrDuplicate) {
		metrics.RecordDuplicate("xp_event")
		return Award{}, fmt.Errorf("%w: %s", ErrDuplicateEvent, id)
	}
	if err != nil {
		metrics.RecordXPAwardError(source)
		return Award{}, fmt.Errorf("add experience: %w", err)
	}
	ev.Total = total

	before := s.table.LevelOf(total - amount)
	after := s.table.LevelOf(total)
	a := Award{Event: ev, Before: before, After: after, LevelUp: after.Level > before.Level}

	metrics.RecordXPAwarded(source, amount)
	if a.LevelUp {
		metrics.RecordLevelUp()
		logger.Get().Named("progress").Info(ctx, "level up",
			logger.String("user_id", userID),
			logger.Int("from", before.Level),
			logger.Int("to", after.Level),
			logger.String("title", after.Title))
	}
	return a, nil
}

// Get returns the user's total, derived level and recent events.
func (s *Service) Get(ctx context.Context, userID string) (model.UserProgress, level.Info, error) {
	if userID == "" {
		return model.UserProgress{}, level.Info{}, ErrInvalidUser
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	xp, err := s.store.GetExperience(ctx, userID)
	if err != nil {
		return model.UserProgress{}, level.Info{}, fmt.Errorf("get experience: %w", err)
	}
	events, err := s.store.RecentXPEvents(ctx, userID, s.recentEvents)
	if err != nil {
		return model.UserProgress{}, level.Info{}, fmt.Errorf("recent events: %w", err)
	}

	info := s.table.LevelOf(xp)
	return model.UserProgress{
		UserID: userID,
		XP:     xp,
		Level:  info.Level,
		Title:  info.Title,
		Icon:   info.Icon,
		Events: events,
	}, info, nil
}

// LevelOf maps an experience total onto the table.
func (s *Service) LevelOf(xp int64) level.Info {
	return s.table.LevelOf(xp)
}
