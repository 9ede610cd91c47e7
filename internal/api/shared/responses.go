package shared

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/terralens/terralens-api/internal/redact"
)

// Envelope is the uniform response wrapper. Code zero means success;
// error responses carry the HTTP status as the code.
type Envelope struct {
	Data    any    `json:"data"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// RespondWithData writes a success envelope with the given payload.
func RespondWithData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, status, Envelope{
		Data:    data,
		Code:    0,
		Message: "ok",
		TraceID: GetTraceID(r.Context()),
	})
}

// RespondWithError writes an error envelope with the given status and a
// caller-safe message.
func RespondWithError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeEnvelope(w, status, Envelope{
		Code:    status,
		Message: message,
		TraceID: GetTraceID(r.Context()),
	})
}

// RespondWithErrorAndLog writes an error envelope and logs the underlying
// error in redacted form. The raw error never reaches the client.
func RespondWithErrorAndLog(w http.ResponseWriter, r *http.Request, status int, userMessage string, err error) {
	traceID := GetTraceID(r.Context())

	attrs := []any{
		"trace_id", traceID,
		"path", r.URL.Path,
		"method", r.Method,
		"status_code", status,
	}
	if err != nil {
		attrs = append(attrs, "error", redact.Error(err))
	}
	if status >= 500 {
		slog.Error(userMessage, attrs...)
	} else {
		slog.Debug(userMessage, attrs...)
	}

	writeEnvelope(w, status, Envelope{
		Code:    status,
		Message: userMessage,
		TraceID: traceID,
	})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}
