package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/beerduel/internal/domain/level"
	"github.com/okian/beerduel/internal/domain/model"
)

// ProgressDependencies defines the experience operations.
type ProgressDependencies interface {
	LevelOf(xp int64) (level.Info, error)
	Progress(ctx context.Context, userID string) (model.UserProgress, level.Info, error)
	EnqueueExperience(ctx context.Context, ev model.XPEvent) (model.XPEvent, error)
}

// ProgressHandler handles level and experience requests.
type ProgressHandler struct {
	deps ProgressDependencies
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(deps ProgressDependencies) *ProgressHandler {
	return &ProgressHandler{deps: deps}
}

type experienceRequest struct {
	EventID string `json:"event_id" validate:"omitempty,max=128"`
	UserID  string `json:"user_id" validate:"required,max=128"`
	Amount  int64  `json:"amount" validate:"gt=0"`
	Source  string `json:"source" validate:"max=64"`
	Ref     string `json:"ref" validate:"max=128"`
}

type ackResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

type xpEventResponse struct {
	ID     string    `json:"id"`
	Amount int64     `json:"amount"`
	Source string    `json:"source"`
	Ref    string    `json:"ref,omitempty"`
	Total  int64     `json:"total"`
	At     time.Time `json:"at"`
}

type progressResponse struct {
	UserID string            `json:"user_id"`
	XP     int64             `json:"xp"`
	Level  level.Info        `json:"level"`
	Events []xpEventResponse `json:"events"`
}

// HandleGetLevel handles GET /levels/{xp}.
func (h *ProgressHandler) HandleGetLevel(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_level"
	xp, err := strconv.ParseInt(chi.URLParam(r, "xp"), 10, 64)
	if err != nil {
		writeFailure(w, r, op, fmt.Errorf("%w: xp must be an integer", ErrBadRequest))
		return
	}
	info, err := h.deps.LevelOf(xp)
	if err != nil {
		writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleGetProgress handles GET /users/{id}/progress.
func (h *ProgressHandler) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_progress"
	p, info, err := h.deps.Progress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, op, err)
		return
	}
	resp := progressResponse{UserID: p.UserID, XP: p.XP, Level: info, Events: make([]xpEventResponse, 0, len(p.Events))}
	for _, ev := range p.Events {
		resp.Events = append(resp.Events, xpEventResponse{
			ID: ev.ID, Amount: ev.Amount, Source: ev.Source, Ref: ev.Ref, Total: ev.Total, At: ev.At,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandlePostExperience handles POST /experience. Awards are applied
// asynchronously; a full queue answers 429 and the event may be resent.
func (h *ProgressHandler) HandlePostExperience(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_experience"
	var req experienceRequest
	if err := decode(w, r, &req); err != nil {
		writeFailure(w, r, op, err)
		return
	}
	ev, err := h.deps.EnqueueExperience(r.Context(), model.XPEvent{
		ID:     req.EventID,
		UserID: req.UserID,
		Amount: req.Amount,
		Source: req.Source,
		Ref:    req.Ref,
	})
	if err != nil {
		writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: ev.ID})
}
