// Package httputil centralizes JSON encoding and error rendering so handlers
// never hand-roll status codes or leak internal messages.
package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "vouch/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError renders a coded error. Internal errors carry no description:
// whatever detail they hold is for logs, not clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		body["error_description"] = dErrors.MessageOf(err)
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// Validator lets request DTOs carry their own structural checks.
type Validator interface {
	Validate() error
}

// DecodeAndPrepare decodes the JSON body into T and runs its validation if it
// has any. On failure it writes the error response itself and returns false.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (T, bool) {
	var req T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		logger.WarnContext(ctx, "malformed request body",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed JSON body"))
		return req, false
	}
	if v, ok := any(req).(Validator); ok {
		if err := v.Validate(); err != nil {
			WriteError(w, dErrors.New(dErrors.CodeInvalidInput, err.Error()))
			return req, false
		}
	}
	return req, true
}
