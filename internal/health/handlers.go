package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/zsiec/playcore/pkg/version"
)

// Response represents the health check response.
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]*Check `json:"checks,omitempty"`
	Playback  *Playback         `json:"playback,omitempty"`
}

// Playback summarizes the open session in health responses.
type Playback struct {
	Item       string  `json:"item"`
	SessionID  string  `json:"session_id"`
	Paused     bool    `json:"paused"`
	Ended      bool    `json:"ended"`
	Speed      int     `json:"speed"`
	Percentage float64 `json:"percentage"`
	CacheState string  `json:"cache_state"`
}

// Handler handles health check HTTP endpoints.
type Handler struct {
	manager   *Manager
	source    StatusSource
	startTime time.Time
}

// NewHandler creates a new health check handler. source may be nil.
func NewHandler(manager *Manager, source StatusSource) *Handler {
	return &Handler{
		manager:   manager,
		source:    source,
		startTime: time.Now(),
	}
}

func (h *Handler) playback() *Playback {
	if h.source == nil {
		return nil
	}
	st := h.source.Status()
	if !st.Open {
		return nil
	}
	return &Playback{
		Item:       st.Item,
		SessionID:  st.SessionID,
		Paused:     st.Paused,
		Ended:      st.Ended,
		Speed:      st.Speed,
		Percentage: st.Percentage,
		CacheState: st.CacheState,
	}
}

// HandleHealth handles the /health endpoint.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	// Run health checks with request context
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	checks := h.manager.RunChecks(ctx)
	overallStatus := h.manager.GetOverallStatus()

	response := Response{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Version:   version.Version,
		Uptime:    h.getUptime(),
		Checks:    checks,
		Playback:  h.playback(),
	}

	// degraded still answers 200
	statusCode := http.StatusOK
	if overallStatus == StatusDown {
		statusCode = http.StatusServiceUnavailable
	}

	h.writeJSON(w, statusCode, response)
}

// HandleReady handles the /ready endpoint (simplified health check).
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	overallStatus := h.manager.GetOverallStatus()

	response := struct {
		Status    Status    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Status:    overallStatus,
		Timestamp: time.Now(),
	}

	statusCode := http.StatusOK
	if overallStatus == StatusDown {
		statusCode = http.StatusServiceUnavailable
	}

	h.writeJSON(w, statusCode, response)
}

// HandleLive handles the /live endpoint (basic liveness check).
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	response := struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Status:    "alive",
		Timestamp: time.Now(),
	}

	h.writeJSON(w, http.StatusOK, response)
}

// getUptime returns the service uptime rounded to seconds.
func (h *Handler) getUptime() string {
	return time.Since(h.startTime).Round(time.Second).String()
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.manager.logger.WithError(err).Error("Failed to encode health response")
	}
}
