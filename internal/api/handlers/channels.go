package handlers

import (
	"net/http"
	"strconv"

	"github.com/asgard/cellbench/internal/telemetry"
	"github.com/asgard/cellbench/internal/utils"
	"github.com/go-chi/chi/v5"
)

// ChannelsHandler serves read-only channel telemetry snapshots.
type ChannelsHandler struct {
	registry *telemetry.Registry
}

// NewChannelsHandler creates a channels handler backed by registry.
func NewChannelsHandler(registry *telemetry.Registry) *ChannelsHandler {
	return &ChannelsHandler{registry: registry}
}

// List handles GET /api/channels
func (h *ChannelsHandler) List(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.registry.SnapshotAll())
}

// Get handles GET /api/channels/{n}
func (h *ChannelsHandler) Get(w http.ResponseWriter, r *http.Request) {
	channel, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		handleError(w, utils.WrapAPIError(err, "INVALID_CHANNEL", "channel must be an integer", http.StatusBadRequest))
		return
	}

	snap, ok := h.registry.Snapshot(channel)
	if !ok {
		handleError(w, utils.ErrNotFound)
		return
	}
	jsonResponse(w, http.StatusOK, snap)
}
