// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/pharmaledger/internal/platform/db"
	"github.com/odyssey-erp/pharmaledger/internal/shared"
)

// Sentinel errors for the HTTP layer.
var (
	ErrDuplicate    = errors.New("duplicate entry")
	ErrUnauthorized = errors.New("unauthorized")
)

type problemKind struct {
	status int
	title  string
}

func classify(err error) problemKind {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return problemKind{http.StatusNotFound, "Not Found"}
	case errors.Is(err, shared.ErrInsufficientInventory):
		return problemKind{http.StatusConflict, "Insufficient Inventory"}
	case errors.Is(err, shared.ErrInvalidTransition):
		return problemKind{http.StatusConflict, "Invalid Transition"}
	case errors.Is(err, shared.ErrValidation):
		return problemKind{http.StatusBadRequest, "Validation Failed"}
	case errors.Is(err, shared.ErrIdempotencyConflict), errors.Is(err, ErrDuplicate):
		return problemKind{http.StatusConflict, "Duplicate"}
	case errors.Is(err, db.ErrSerialization):
		return problemKind{http.StatusConflict, "Concurrent Update"}
	case errors.Is(err, ErrUnauthorized):
		return problemKind{http.StatusUnauthorized, "Unauthorized"}
	default:
		return problemKind{http.StatusInternalServerError, "Internal Error"}
	}
}

// IsInternal reports whether err maps to a 500 response.
func IsInternal(err error) bool {
	return classify(err).status == http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	kind := classify(err)
	detail := err.Error()
	if kind.status == http.StatusInternalServerError {
		detail = ""
	}
	Problem(w, kind.status, kind.title, detail)
}
