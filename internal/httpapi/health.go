package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/hassdash/dashboard/internal/metrics"
	"github.com/hassdash/dashboard/internal/version"
)

type hubHealth struct {
	State               string     `json:"state"`
	Healthy             bool       `json:"healthy"`
	Exhausted           bool       `json:"exhausted,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	ConnectedSince      *time.Time `json:"connected_since,omitempty"`
	HubVersion          string     `json:"hub_version,omitempty"`
}

type healthResponse struct {
	Status  string            `json:"status"`
	Build   version.Info      `json:"build"`
	Hub     *hubHealth        `json:"hub,omitempty"`
	Store   string            `json:"store,omitempty"`
	Metrics *metrics.Snapshot `json:"metrics,omitempty"`
}

// handleHealth handles GET /health. It replies 503 when the hub
// connection is down or the store does not answer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status: "healthy",
		Build:  version.Get(),
	}

	if s.health != nil {
		h := s.health.Health()
		hh := &hubHealth{
			State:               h.State.String(),
			Healthy:             h.Healthy,
			Exhausted:           h.Exhausted,
			ConsecutiveFailures: h.ConsecutiveFailures,
			LastError:           h.LastError,
			HubVersion:          h.HubVersion,
		}
		if h.Healthy && !h.ConnectedSince.IsZero() {
			t := h.ConnectedSince
			hh.ConnectedSince = &t
		}
		resp.Hub = hh
		if !h.Healthy {
			resp.Status = "unhealthy"
		}
	}

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Store = err.Error()
		} else {
			resp.Store = "ok"
		}
	}

	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		resp.Metrics = &snap
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
