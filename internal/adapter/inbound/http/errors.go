package http

import (
	"encoding/json"
	"net/http"

	"github.com/driftline/driftline/internal/domain/event"
)

// errorResponse is the uniform error body of the ingest surface.
type errorResponse struct {
	Error      string             `json:"error"`
	Details    []event.FieldError `json:"details,omitempty"`
	RetryAfter int                `json:"retryAfter,omitempty"`
}

// writeJSON serializes v with the given status. Encoding failures are
// ignored; the status line is already committed.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the uniform error body. No secret material and no
// internal error text ever reaches the response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
