package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/felixgeelhaar/nosubvo/internal/api/handlers"
	"github.com/felixgeelhaar/nosubvo/internal/api/middleware"
	"github.com/felixgeelhaar/nosubvo/internal/auth/oauth"
	"github.com/felixgeelhaar/nosubvo/internal/domain"
)

// APIError represents a structured API error
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// NewAPIError creates a new API error
func NewAPIError(code string, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// WithCause wraps an underlying error
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

// ErrorResponse is the JSON structure for error responses
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// errorMapping pairs a sentinel with its HTTP status and code
type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: the first match wins
var errorMappings = []errorMapping{
	{handlers.ErrQueueEmpty, http.StatusNotFound, "QUEUE_EMPTY"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "BAD_REQUEST"},
	{domain.ErrInvalidExercise, http.StatusBadRequest, "BAD_REQUEST"},
	{domain.ErrInvalidEmail, http.StatusBadRequest, "BAD_REQUEST"},
	{domain.ErrInvalidPassword, http.StatusBadRequest, "BAD_REQUEST"},
	{domain.ErrInvalidUsername, http.StatusBadRequest, "BAD_REQUEST"},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{domain.ErrSessionNotFound, http.StatusUnauthorized, "UNAUTHORIZED"},
	{domain.ErrSessionExpired, http.StatusUnauthorized, "SESSION_EXPIRED"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
	{domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{domain.ErrExerciseNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrUserNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{oauth.ErrUnknownProvider, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrUserExists, http.StatusConflict, "CONFLICT"},
	{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
}

// FromError maps an error to its status code and envelope. Unrecognized
// errors become a 500 whose cause is logged but never returned.
func FromError(err error) (int, *APIError) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, NewAPIError("PAYLOAD_TOO_LARGE", "request body too large")
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			msg := err.Error()
			if m.status == http.StatusGatewayTimeout {
				msg = "request timed out"
			}
			return m.status, NewAPIError(m.code, msg).WithCause(err)
		}
	}

	return http.StatusInternalServerError, NewAPIError("INTERNAL_ERROR", "internal server error").WithCause(err)
}

// WriteError writes an error response and logs it with request context
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *APIError) {
	logAttrs := []any{
		"code", apiErr.Code,
		"message", apiErr.Message,
		"status", statusCode,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetRequestID(r.Context()),
	}
	if apiErr.cause != nil {
		logAttrs = append(logAttrs, "cause", apiErr.cause.Error())
	}

	// Log at appropriate level based on status code
	if statusCode >= 500 {
		slog.Error("api error", logAttrs...)
	} else {
		slog.Warn("api error", logAttrs...)
	}

	WriteJSON(w, statusCode, ErrorResponse{Error: apiErr})
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// Unauthorized writes a 401 response
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusUnauthorized, NewAPIError("UNAUTHORIZED", message))
}

// Forbidden writes a 403 response
func Forbidden(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusForbidden, NewAPIError("FORBIDDEN", message))
}
