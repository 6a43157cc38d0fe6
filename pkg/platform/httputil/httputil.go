// Package httputil holds the shared HTTP response helpers: JSON writing and
// the domain-error to status-code translation every handler goes through.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	dErrors "revtrail/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

// errorBody is the stable error response shape.
type errorBody struct {
	Error       string            `json:"error"`
	Description string            `json:"error_description,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	TrackingID  string            `json:"tracking_id,omitempty"`
}

// WriteJSON serializes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError translates a domain error into an HTTP response. Internal
// errors never leak their message; they carry a tracking id instead so the
// operator can correlate with logs.
func WriteError(w http.ResponseWriter, err error) {
	var de *dErrors.Error
	if !errors.As(err, &de) {
		de = dErrors.Wrap(err, dErrors.CodeInternal, "internal error")
	}

	body := errorBody{Error: string(de.Code), Fields: de.Fields}
	status := statusFor(de.Code)
	if status >= http.StatusInternalServerError {
		body.TrackingID = uuid.NewString()
		slog.Error("internal error", "tracking_id", body.TrackingID, "error", err)
	} else {
		body.Description = de.Message
	}
	WriteJSON(w, status, body)
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case dErrors.CodeConfiguration:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads and unmarshals a bounded JSON request body.
func Decode[T any](r *http.Request) (T, error) {
	var v T
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return v, dErrors.Wrap(err, dErrors.CodeBadRequest, "reading request body")
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON body")
	}
	return v, nil
}
