package handler

import (
	"context"
	"net/http"

	"github.com/sakif/connhub/internal/model"
)

// StatsProvider computes the dashboard aggregate.
type StatsProvider interface {
	Get(ctx context.Context) (*model.Stats, error)
}

// StatsHandler serves GET /api/stats.
type StatsHandler struct {
	stats StatsProvider
}

func NewStatsHandler(stats StatsProvider) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// HandleGet returns {"totalConnections":…, "totalUsers":…, "recentConnections":…}.
func (h *StatsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
