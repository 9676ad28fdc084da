package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alecgard/teamspace/internal/invite"
	"github.com/alecgard/teamspace/internal/project"
	"github.com/alecgard/teamspace/internal/upload"
	"github.com/alecgard/teamspace/internal/user"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v any) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}

// isValidationError reports whether err is caller input the services
// refused.
func isValidationError(err error) bool {
	switch {
	case errors.Is(err, project.ErrNameRequired),
		errors.Is(err, project.ErrWeeksInvalid),
		errors.Is(err, project.ErrActionInvalid),
		errors.Is(err, user.ErrNameRequired),
		errors.Is(err, user.ErrEmailInvalid),
		errors.Is(err, user.ErrPasswordTooWeak),
		errors.Is(err, upload.ErrEmpty),
		errors.Is(err, upload.ErrDescriptionTooLong):
		return true
	}
	return false
}

// writeServiceError maps a service error onto the JSON error envelope.
// Unknown errors are logged and reported as 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case isValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
	case errors.Is(err, project.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
	case errors.Is(err, project.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, "not_found", "project not found")
	case errors.Is(err, upload.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "upload not found")
	case errors.Is(err, user.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no user is registered with that email")
	case errors.Is(err, project.ErrNotAMember):
		writeError(w, http.StatusForbidden, "not_a_member", "you are not a member of this project")
	case errors.Is(err, project.ErrProjectCompleted):
		writeError(w, http.StatusConflict, "project_completed", "project is already completed")
	case errors.Is(err, user.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", "email is already registered")
	case errors.Is(err, upload.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
	case errors.Is(err, invite.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	default:
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
