package handlers

import (
	"net/http"

	"github.com/asgard/cellbench/internal/telemetry"
)

// EventsHandler serves the bounded human and wire-level event streams.
type EventsHandler struct {
	registry *telemetry.Registry
}

// NewEventsHandler creates an events handler backed by registry.
func NewEventsHandler(registry *telemetry.Registry) *EventsHandler {
	return &EventsHandler{registry: registry}
}

// List handles GET /api/events. Query param "kind=wire" selects the
// wire-level stream; anything else returns the human-readable stream.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	if r.URL.Query().Get("kind") == "wire" {
		records := h.registry.WireRecords()
		jsonResponse(w, http.StatusOK, paginate(records, limit, offset))
		return
	}

	records := h.registry.Events()
	jsonResponse(w, http.StatusOK, paginate(records, limit, offset))
}

// paginate returns the most recent `limit` records starting `offset` back
// from the end, newest-affecting slice preserved in chronological order.
func paginate[T any](records []T, limit, offset int) []T {
	n := len(records)
	end := n - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]T, end-start)
	copy(out, records[start:end])
	return out
}
