package handlers

import (
	"net/http"

	"github.com/itisteddy/fan-club-z-sub008/internal/logger"
)

// PingResponse is the response for the ping endpoint
type PingResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// HandlePing handles the /api/ping endpoint
func (h *Handler) HandlePing(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Store.Ping(r.Context()); err != nil {
		logger.Warn("", "ping_database_failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, PingResponse{Status: "degraded", Database: "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, PingResponse{Status: "ok", Database: "ok"})
}
