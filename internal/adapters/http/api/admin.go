package api

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/beerduel/internal/classification"
	"github.com/okian/beerduel/internal/domain/model"
)

// AdminDependencies defines operator operations.
type AdminDependencies interface {
	Classify(ctx context.Context) (classification.Report, error)
}

// AdminHandler handles operator requests.
type AdminHandler struct {
	deps AdminDependencies
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps AdminDependencies) *AdminHandler {
	return &AdminHandler{deps: deps}
}

type classifyResponse struct {
	Population int                      `json:"population"`
	Counts     map[model.RarityTier]int `json:"counts"`
	Version    uint64                   `json:"snapshot_version"`
	DurationMS int64                    `json:"duration_ms"`
	At         time.Time                `json:"at"`
}

// HandleClassify handles POST /admin/classify.
func (h *AdminHandler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	const op = "api.classify"
	report, err := h.deps.Classify(r.Context())
	if err != nil {
		writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, classifyResponse{
		Population: report.Population,
		Counts:     report.Counts,
		Version:    report.Version,
		DurationMS: report.Duration.Milliseconds(),
		At:         report.At,
	})
}
