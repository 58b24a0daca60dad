// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/workshop/internal/shared"
)

// Detailer is implemented by errors that carry extra problem members, such as
// the current authoritative quantity of a rejected stock movement.
type Detailer interface {
	ProblemDetails() map[string]any
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var ext map[string]any
	var d Detailer
	if errors.As(err, &d) {
		ext = d.ProblemDetails()
	}
	switch {
	case errors.Is(err, shared.ErrNotFound):
		ProblemWith(w, http.StatusNotFound, "Not Found", err.Error(), ext)
	case errors.Is(err, shared.ErrConflict):
		ProblemWith(w, http.StatusConflict, "Conflict", err.Error(), ext)
	case errors.Is(err, shared.ErrValidation):
		ProblemWith(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error(), ext)
	case errors.Is(err, shared.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		ProblemWith(w, http.StatusServiceUnavailable, "Service Unavailable", err.Error(), ext)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
