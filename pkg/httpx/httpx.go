// Package httpx holds the small JSON request/response helpers shared by
// the local control tower and its tests.
package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// WriteError emits the flat error shape the authorize API uses:
// {"error": message, "code": CODE, "timestamp": ..., "details": {...}}.
func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error":      message,
		"code":       code,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	if details != nil {
		resp["details"] = details
	}
	WriteJSON(w, status, resp)
}
