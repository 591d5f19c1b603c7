package handlers

import (
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// APIError is the error body for every API response. Implements
// huma.StatusError so huma serializes it directly.
type APIError struct {
	status  int
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *APIError) Error() string  { return e.Message }
func (e *APIError) GetStatus() int { return e.status }

func NewAPIError(status int, kind, message string) *APIError {
	return &APIError{status: status, Kind: kind, Message: message}
}

// kindForStatus maps HTTP statuses huma raises internally (validation,
// parsing) onto the error taxonomy.
func kindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "ValidationError"
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusNotFound:
		return "NotFound"
	case http.StatusConflict:
		return "Conflict"
	case http.StatusGone:
		return "Expired"
	case http.StatusTooManyRequests:
		return "RateLimited"
	default:
		return "Internal"
	}
}

// InitErrors overrides huma's error factory so all error responses use
// the unified {kind, message} format.
func InitErrors() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		detail := msg
		if len(errs) > 0 {
			parts := make([]string, len(errs))
			for i, e := range errs {
				parts[i] = e.Error()
			}
			detail = msg + ": " + strings.Join(parts, "; ")
		}
		return &APIError{status: status, Kind: kindForStatus(status), Message: detail}
	}
}
