package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/beerduel/internal/adapters/repository"
	service "github.com/okian/beerduel/internal/app"
	"github.com/okian/beerduel/internal/classification"
	"github.com/okian/beerduel/internal/duel"
	"github.com/okian/beerduel/internal/progress"
	"github.com/okian/beerduel/internal/ranking"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrLimitExceeded = errors.New("limit exceeds maximum")
)

// wrap prefixes err with the handler operation.
func wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}

// classify maps an engine error to an HTTP status and error code. More
// specific reasons are checked before the classes that contain them.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrLimitExceeded):
		return http.StatusBadRequest, "bad_request"

	case errors.Is(err, duel.ErrDuplicateOutcome),
		errors.Is(err, service.ErrDuplicateEvent),
		errors.Is(err, repository.ErrAlreadyExists):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, duel.ErrUnknownItem),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, ranking.ErrNotRanked):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, duel.ErrInactiveItem):
		return http.StatusConflict, "inactive_item"
	case errors.Is(err, duel.ErrNotEnoughItems):
		return http.StatusConflict, "not_enough_items"
	case errors.Is(err, classification.ErrAlreadyRunning):
		return http.StatusConflict, "already_running"
	case errors.Is(err, duel.ErrValidation),
		errors.Is(err, service.ErrInvalidItem),
		errors.Is(err, service.ErrInvalidEvent),
		errors.Is(err, ranking.ErrInvalidLimit),
		errors.Is(err, progress.ErrInvalidUser),
		errors.Is(err, progress.ErrInvalidAmount):
		return http.StatusBadRequest, "validation_failed"

	case errors.Is(err, service.ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"

	case errors.Is(err, duel.ErrPersistence),
		errors.Is(err, classification.ErrClassificationSkipped),
		errors.Is(err, service.ErrNotStarted),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
