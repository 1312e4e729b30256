package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/internal/domain/types"
)

// DuelDependencies defines the duel operations.
type DuelDependencies interface {
	NextPair(ctx context.Context, userID string) (types.Pair, error)
	RecordOutcome(ctx context.Context, userID string, out model.Outcome) (types.DuelResult, error)
}

// DuelsHandler handles duel requests.
type DuelsHandler struct {
	deps DuelDependencies
}

// NewDuelsHandler creates a new duels handler.
func NewDuelsHandler(deps DuelDependencies) *DuelsHandler {
	return &DuelsHandler{deps: deps}
}

// outcomeRequest is the body of POST /duels. With draw set the winner and
// loser fields only name the two items.
type outcomeRequest struct {
	OutcomeID string `json:"outcome_id" validate:"omitempty,max=128"`
	UserID    string `json:"user_id" validate:"required,max=128"`
	WinnerID  string `json:"winner_id" validate:"required"`
	LoserID   string `json:"loser_id" validate:"required,nefield=WinnerID"`
	Draw      bool   `json:"draw"`
}

// HandleNextPair handles GET /duels/next?user_id=.
func (h *DuelsHandler) HandleNextPair(w http.ResponseWriter, r *http.Request) {
	const op = "api.next_pair"
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeFailure(w, r, op, fmt.Errorf("%w: missing user_id", ErrBadRequest))
		return
	}
	pair, err := h.deps.NextPair(r.Context(), userID)
	if err != nil {
		writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// HandleRecord handles POST /duels.
func (h *DuelsHandler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	const op = "api.record_duel"
	var req outcomeRequest
	if err := decode(w, r, &req); err != nil {
		writeFailure(w, r, op, err)
		return
	}
	res, err := h.deps.RecordOutcome(r.Context(), req.UserID, model.Outcome{
		ID:       req.OutcomeID,
		WinnerID: req.WinnerID,
		LoserID:  req.LoserID,
		Draw:     req.Draw,
	})
	if err != nil {
		writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
