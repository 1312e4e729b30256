// Package config defines service configuration structures and loading hooks.
//
// Keys are flat so every field can be overridden by a BEERDUEL_* environment
// variable. The K schedule and the level table are lists and come from YAML.
package config

import (
	"runtime"
	"time"

	"github.com/okian/beerduel/internal/domain/level"
	"github.com/okian/beerduel/internal/domain/rarity"
	"github.com/okian/beerduel/internal/domain/rating"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`
	// LogFormat selects the slog handler: json or text.
	LogFormat string `koanf:"log_format" validate:"oneof=json text"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr              string `koanf:"addr" validate:"required"`
	ReadTimeoutMS     int    `koanf:"http_read_timeout_ms" validate:"gt=0"`
	WriteTimeoutMS    int    `koanf:"http_write_timeout_ms" validate:"gt=0"`
	ShutdownTimeoutMS int    `koanf:"shutdown_timeout_ms" validate:"gt=0"`

	// StoreBackend picks the persistence adapter.
	StoreBackend string `koanf:"store_backend" validate:"oneof=memory postgres"`
	DatabaseURL  string `koanf:"database_url" validate:"required_if=StoreBackend postgres"`
	DBMaxConns   int    `koanf:"db_max_conns" validate:"gte=1"`
	DBMigrate    bool   `koanf:"db_migrate"`

	// EventQueueSize bounds the in-memory experience queue.
	EventQueueSize int `koanf:"queue_size" validate:"gte=1"`
	// WorkerCount sets the number of experience workers.
	WorkerCount int `koanf:"worker_count" validate:"gte=1"`
	// DedupeSize caps remembered outcome and event ids; zero is unbounded.
	DedupeSize  int `koanf:"dedupe_size" validate:"gte=0"`
	DedupeTTLMS int `koanf:"dedupe_ttl_ms" validate:"gte=0"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit" validate:"gte=1"`

	KFactor   float64           `koanf:"k_factor" validate:"gt=0"`
	MinRating float64           `koanf:"min_rating"`
	MaxRating float64           `koanf:"max_rating" validate:"gtfield=MinRating"`
	KSchedule []rating.KStep    `koanf:"k_schedule"`
	Levels    []level.Threshold `koanf:"levels"`

	LegendaryShare float64 `koanf:"legendary_share" validate:"gte=0,lte=1"`
	EpicShare      float64 `koanf:"epic_share" validate:"gte=0,lte=1"`
	RareShare      float64 `koanf:"rare_share" validate:"gte=0,lte=1"`
	MinPerTier     bool    `koanf:"min_per_tier"`

	XPBase       int64 `koanf:"xp_base" validate:"gte=0"`
	XPDraw       int64 `koanf:"xp_draw" validate:"gte=0"`
	XPUpsetBonus int64 `koanf:"xp_upset_bonus" validate:"gte=0"`

	HistorySize    int `koanf:"history_size" validate:"gte=1"`
	HistoryTTLMS   int `koanf:"history_ttl_ms" validate:"gte=0"`
	HistoryUsers   int `koanf:"history_users" validate:"gte=1"`
	MaxRetries     int `koanf:"max_retries" validate:"gte=0"`
	StoreTimeoutMS int `koanf:"store_timeout_ms" validate:"gt=0"`

	RankingRefreshIntervalMS int `koanf:"ranking_refresh_interval_ms" validate:"gt=0"`
	RankingInvalidateAfter   int `koanf:"ranking_invalidate_after" validate:"gte=0"`

	ClassificationIntervalMS int `koanf:"classification_interval_ms" validate:"gte=0"`
	ClassificationTimeoutMS  int `koanf:"classification_timeout_ms" validate:"gt=0"`

	ProgressRecentEvents int `koanf:"progress_recent_events" validate:"gte=0"`
}

// New creates a Config populated with defaults.
func New() *Config {
	shares := rarity.DefaultShares()
	return &Config{
		LogLevel:          "info",
		LogFormat:         "json",
		Addr:              ":9080",
		ReadTimeoutMS:     5_000,
		WriteTimeoutMS:    10_000,
		ShutdownTimeoutMS: 15_000,

		StoreBackend: BackendMemory,
		DBMaxConns:   10,
		DBMigrate:    true,

		EventQueueSize: 10_000,
		WorkerCount:    runtime.NumCPU() * 2,
		DedupeSize:     50_000,

		MaxLeaderboardLimit: 100,

		KFactor:   rating.DefaultKFactor,
		MinRating: rating.DefaultMinRating,
		MaxRating: rating.DefaultMaxRating,
		Levels:    level.DefaultThresholds(),

		LegendaryShare: shares.Legendary,
		EpicShare:      shares.Epic,
		RareShare:      shares.Rare,
		MinPerTier:     true,

		XPBase:       10,
		XPDraw:       10,
		XPUpsetBonus: 10,

		HistorySize:    20,
		HistoryTTLMS:   30 * 60 * 1000,
		HistoryUsers:   10_000,
		MaxRetries:     3,
		StoreTimeoutMS: 2_000,

		RankingRefreshIntervalMS: 30_000,
		RankingInvalidateAfter:   50,

		ClassificationIntervalMS: 5 * 60 * 1000,
		ClassificationTimeoutMS:  10_000,

		ProgressRecentEvents: 20,
	}
}

// Shares returns the configured rarity shares.
func (c *Config) Shares() rarity.Shares {
	return rarity.Shares{Legendary: c.LegendaryShare, Epic: c.EpicShare, Rare: c.RareShare}
}

// Millis converts a *_ms setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
