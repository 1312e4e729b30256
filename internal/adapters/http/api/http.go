// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/okian/beerduel/internal/classification"
	"github.com/okian/beerduel/internal/domain/level"
	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/internal/domain/types"
	"github.com/okian/beerduel/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	StatsProvider

	NextPair(ctx context.Context, userID string) (types.Pair, error)
	RecordOutcome(ctx context.Context, userID string, out model.Outcome) (types.DuelResult, error)

	Leaderboard(ctx context.Context, limit int) ([]types.Entry, error)
	Rank(ctx context.Context, itemID string) (types.Entry, error)
	RarityOf(ctx context.Context, itemID string) (types.Rarity, error)

	RegisterItem(ctx context.Context, item model.NewItem) (model.Item, error)
	SetActive(ctx context.Context, itemID string, active bool) error

	LevelOf(xp int64) (level.Info, error)
	Progress(ctx context.Context, userID string) (model.UserProgress, level.Info, error)
	EnqueueExperience(ctx context.Context, ev model.XPEvent) (model.XPEvent, error)

	Classify(ctx context.Context) (classification.Report, error)
	Ping(ctx context.Context) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	itemsHandler       *ItemsHandler
	duelsHandler       *DuelsHandler
	leaderboardHandler *LeaderboardHandler
	progressHandler    *ProgressHandler
	adminHandler       *AdminHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, maxLeaderboardLimit int) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(deps),
		statsHandler:       NewStatsHandler(deps),
		itemsHandler:       NewItemsHandler(deps),
		duelsHandler:       NewDuelsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLeaderboardLimit),
		progressHandler:    NewProgressHandler(deps),
		adminHandler:       NewAdminHandler(deps),
	}
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(LoggingMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/readyz", s.healthHandler.HandleReady)
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Route("/items", func(r chi.Router) {
		r.Post("/", s.itemsHandler.HandleCreate)
		r.Post("/{id}/active", s.itemsHandler.HandleSetActive)
		r.Get("/{id}/rarity", s.itemsHandler.HandleGetRarity)
	})

	r.Route("/duels", func(r chi.Router) {
		r.Get("/next", s.duelsHandler.HandleNextPair)
		r.Post("/", s.duelsHandler.HandleRecord)
	})

	r.Get("/leaderboard", s.leaderboardHandler.HandleGetLeaderboard)
	r.Get("/rank/{id}", s.leaderboardHandler.HandleGetRank)

	r.Get("/levels/{xp}", s.progressHandler.HandleGetLevel)
	r.Get("/users/{id}/progress", s.progressHandler.HandleGetProgress)
	r.Post("/experience", s.progressHandler.HandlePostExperience)

	r.Post("/admin/classify", s.adminHandler.HandleClassify)
}

// Routes returns a router with every API route registered.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	s.Register(r)
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps err onto a status. Server side failures are logged and
// their detail is not echoed to the client.
func writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Get().Named("api").Error(r.Context(), "request failed",
			logger.String("op", op),
			logger.Int("status", status),
			logger.Error(err))
		if status == http.StatusInternalServerError {
			writeError(w, status, code, nil)
			return
		}
	}
	writeError(w, status, code, wrap(op, err))
}
