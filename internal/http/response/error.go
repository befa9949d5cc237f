package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/chronoshq/chronos/internal/domain"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BadRequest sends a 400 Bad Request error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, "INVALID_REQUEST", message, http.StatusBadRequest)
}

// NotFound sends a 404 Not Found error.
func NotFound(w http.ResponseWriter, resource string) {
	Error(w, "NOT_FOUND", resource+" not found", http.StatusNotFound)
}

// Conflict sends a 409 Conflict error.
func Conflict(w http.ResponseWriter, message string) {
	Error(w, "CONFLICT", message, http.StatusConflict)
}

// InternalError sends a 500. The real error is logged server-side; the client
// gets a generic message to avoid leaking internals.
func InternalError(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		slog.ErrorContext(r.Context(), "internal server error", "error", err)
	}
	Error(w, "INTERNAL_ERROR", "an internal error occurred", http.StatusInternalServerError)
}

// Error sends a generic error response.
func Error(w http.ResponseWriter, code, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// FromDomainError maps domain errors to HTTP responses.
func FromDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidJob):
		Error(w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)

	case errors.Is(err, domain.ErrJobNotFound):
		NotFound(w, "job")
	case errors.Is(err, domain.ErrLogNotFound):
		NotFound(w, "execution log")

	case errors.Is(err, domain.ErrJobTerminal),
		errors.Is(err, domain.ErrJobNotCancellable),
		errors.Is(err, domain.ErrJobNotPausable),
		errors.Is(err, domain.ErrJobNotResumable):
		Conflict(w, err.Error())

	default:
		InternalError(w, r, err)
	}
}
