package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/groupdiscount/api/internal/platform/requestctx"
)

// Envelope is the canonical JSON response shape returned by every endpoint.
type Envelope struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message,omitempty"`
	Data      any      `json:"data,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	TraceID   string   `json:"trace_id,omitempty"`
}

// WriteSuccess writes a success envelope with the given payload.
func WriteSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{
		Success: true,
		Message: sanitize(message, 512),
		Data:    data,
	})
}

// WriteFailure writes a failure envelope. The request and trace identifiers are
// attached when present on the context so callers can correlate reports.
func WriteFailure(ctx context.Context, w http.ResponseWriter, status int, message string, errs []string) {
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	env := Envelope{
		Success:   false,
		Message:   sanitize(message, 512),
		RequestID: sanitize(middleware.GetReqID(ctx), 80),
		TraceID:   sanitize(requestctx.TraceID(ctx), 64),
	}
	for _, e := range errs {
		if trimmed := sanitize(e, 512); trimmed != "" {
			env.Errors = append(env.Errors, trimmed)
		}
	}
	writeJSON(w, status, env)
}

func writeJSON(w http.ResponseWriter, status int, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitize(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	return truncate(value, limit)
}

// truncate caps value at limit bytes without splitting a multi-byte rune.
func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
