package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go-eventbook/internal/broadcaster"
	"go-eventbook/pkg/eventlog"
	"go-eventbook/pkg/fractional"
)

// submitRequest is the body of POST /stores/{id}/events (spec §6).
type submitRequest struct {
	EventType string          `json:"event_type"`
	Payload   eventlog.Payload `json:"payload"`
}

// submitResponse is the body returned on a successful submit.
type submitResponse struct {
	EventID string `json:"event_id"`
	Version int64  `json:"version"`
}

// listResponse is the body of GET /stores/{id}/events.
type listResponse struct {
	Events     []eventlog.Event `json:"events"`
	TotalCount int              `json:"total_count"`
	StoreID    string           `json:"store_id"`
}

// storeInfoResponse is the body of GET /stores/{id}.
type storeInfoResponse struct {
	StoreID             string `json:"store_id"`
	EventCount          int    `json:"event_count"`
	LatestVersion       int64  `json:"latest_version"`
	FirstEventTimestamp *int64 `json:"first_event_timestamp,omitempty"`
	LastEventTimestamp  *int64 `json:"last_event_timestamp,omitempty"`
}

// storesResponse is the body of GET /stores.
type storesResponse struct {
	StoreIDs []string `json:"store_ids"`
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// errorResponse is the uniform error body (spec §6).
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err to one of the four wire error codes (spec §6) and the
// matching HTTP status, falling back to a generic internal error for
// anything unrecognized.
func writeError(w http.ResponseWriter, err error) {
	var ce *eventlog.ConcurrencyError
	var de *eventlog.DuplicateEventError
	var ve *eventlog.ValidationError
	var fe *fractional.Error

	switch {
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "VERSION_CONFLICT"})
	case errors.As(err, &de):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "DUPLICATE_EVENT"})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "VALIDATION_ERROR"})
	case errors.As(err, &fe):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "VALIDATION_ERROR"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Code: "EVENT_RETRIEVAL_FAILED"})
	}
}

// wsOutbound flattens a broadcaster.Message into the push-channel's
// single-level "type"-discriminated JSON frame (spec §4.7).
func wsOutbound(m broadcaster.Message) map[string]any {
	frame := map[string]any{"type": m.Kind}
	switch m.Kind {
	case "event":
		frame["store_id"] = m.StoreID
		frame["event"] = m.Event
	case "store_info":
		frame["store_id"] = m.StoreID
		frame["event_count"] = m.EventCount
		frame["latest_version"] = m.LatestVersion
		if m.FirstEventTimestamp != nil {
			frame["first_event_timestamp"] = *m.FirstEventTimestamp
		}
		if m.LastEventTimestamp != nil {
			frame["last_event_timestamp"] = *m.LastEventTimestamp
		}
	case "subscribed":
		frame["store_id"] = m.StoreID
		frame["connection_id"] = m.ConnectionID
	case "error":
		frame["message"] = m.ErrorMessage
	case "ping", "pong":
		// no additional fields
	}
	return frame
}

// wsInbound is the shape of a client->server push-channel frame (spec §4.7).
type wsInbound struct {
	Type    string `json:"type"`
	StoreID string `json:"store_id"`
}
