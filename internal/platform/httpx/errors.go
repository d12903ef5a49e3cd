package httpx

import (
	"errors"
	"net/http"

	"github.com/prosartisan/prosartisan/internal/shared"
)

// RespondError maps financial-core errors to HTTP problem responses. Every
// rejection carries its stable code so clients can distinguish, e.g., an
// expired jeton from an exhausted one.
func RespondError(w http.ResponseWriter, err error) {
	code := shared.ErrorCode(err)
	switch {
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", shared.UserSafeMessage(err), code)
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err), code)
	case shared.IsBusinessRuleViolation(err):
		Problem(w, http.StatusUnprocessableEntity, "Business Rule Violation", shared.UserSafeMessage(err), code)
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", shared.UserSafeMessage(err), code)
	case errors.Is(err, shared.ErrConcurrentModification):
		Problem(w, http.StatusConflict, "Conflict", shared.UserSafeMessage(err), code)
	case errors.Is(err, shared.ErrGateway):
		Problem(w, http.StatusBadGateway, "Gateway Error", shared.UserSafeMessage(err), code)
	default:
		// Includes shared.ErrPersistence: the caller gets an opaque failure,
		// the operator gets the reconciliation details in the logs.
		Problem(w, http.StatusInternalServerError, "Internal Error", "", code)
	}
}
