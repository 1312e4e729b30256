package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/internal/domain/types"
)

// ItemDependencies defines the catalogue operations.
type ItemDependencies interface {
	RegisterItem(ctx context.Context, item model.NewItem) (model.Item, error)
	SetActive(ctx context.Context, itemID string, active bool) error
	RarityOf(ctx context.Context, itemID string) (types.Rarity, error)
}

// ItemsHandler handles item requests.
type ItemsHandler struct {
	deps ItemDependencies
}

// NewItemsHandler creates a new items handler.
func NewItemsHandler(deps ItemDependencies) *ItemsHandler {
	return &ItemsHandler{deps: deps}
}

type createItemRequest struct {
	ID       string   `json:"id" validate:"omitempty,max=64"`
	Name     string   `json:"name" validate:"required,max=200"`
	Producer string   `json:"producer" validate:"max=200"`
	Style    string   `json:"style" validate:"max=100"`
	Rating   *float64 `json:"rating" validate:"omitempty,gte=0"`
	Active   *bool    `json:"active"`
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type itemResponse struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Producer  string           `json:"producer,omitempty"`
	Style     string           `json:"style,omitempty"`
	Rating    float64          `json:"rating"`
	Duels     int              `json:"duels"`
	Rarity    model.RarityTier `json:"rarity,omitempty"`
	Active    bool             `json:"active"`
	CreatedAt time.Time        `json:"created_at"`
}

func newItemResponse(i model.Item) itemResponse {
	return itemResponse{
		ID:        i.ID,
		Name:      i.Name,
		Producer:  i.Producer,
		Style:     i.Style,
		Rating:    i.Rating,
		Duels:     i.Duels,
		Rarity:    i.Rarity,
		Active:    i.Active,
		CreatedAt: i.CreatedAt,
	}
}

// HandleCreate handles POST /items. Items are active unless stated otherwise.
func (h *ItemsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_item"
	var req createItemRequest
	if err := decode(w, r, &req); err != nil {
		writeFailure(w, r, op, err)
		return
	}
	item := model.NewItem{ID: req.ID, Name: req.Name, Producer: req.Producer, Style: req.Style, Rating: req.Rating, Active: true}
	if req.Active != nil {
		item.Active = *req.Active
	}
	created, err := h.deps.RegisterItem(r.Context(), item)
	if err != nil {
		writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, newItemResponse(created))
}

// HandleSetActive handles POST /items/{id}/active.
func (h *ItemsHandler) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	const op = "api.set_active"
	id := chi.URLParam(r, "id")
	var req setActiveRequest
	if err := decode(w, r, &req); err != nil {
		writeFailure(w, r, op, err)
		return
	}
	if err := h.deps.SetActive(r.Context(), id, *req.Active); err != nil {
		writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": *req.Active})
}

// HandleGetRarity handles GET /items/{id}/rarity.
func (h *ItemsHandler) HandleGetRarity(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rarity"
	rarity, err := h.deps.RarityOf(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rarity)
}
