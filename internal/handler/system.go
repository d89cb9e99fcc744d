package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"loanflow/pkg/logger"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// ActiveRun reports the id of the run in progress, if any.
type ActiveRun interface {
	Active() (string, bool)
}

type SystemHandler struct {
	checks    map[string]Check
	runs      ActiveRun
	logger    logger.Logger
	startTime time.Time
	timeout   time.Duration
}

func NewSystemHandler(checks map[string]Check, runs ActiveRun, log logger.Logger) *SystemHandler {
	return &SystemHandler{
		checks:    checks,
		runs:      runs,
		logger:    log,
		startTime: time.Now(),
		timeout:   2 * time.Second,
	}
}

type ServiceStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"` // operational, degraded, outage
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status    string          `json:"status"`
	UptimeSec int64           `json:"uptime_seconds"`
	ActiveRun string          `json:"active_run,omitempty"`
	Services  []ServiceStatus `json:"services"`
}

// Health pings every configured dependency. Any outage turns the response
// into a 503.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{
		Status:    "healthy",
		UptimeSec: int64(time.Since(h.startTime).Seconds()),
		Services:  []ServiceStatus{},
	}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		start := time.Now()
		err := h.checks[name](ctx)
		cancel()

		s := ServiceStatus{ID: name, Status: "operational", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			s.Status = "outage"
			s.Error = err.Error()
			resp.Status = "unhealthy"
			h.logger.Error("Dependency check failed", map[string]interface{}{"service": name, "error": err.Error()})
		} else if s.LatencyMs > 200 {
			s.Status = "degraded"
		}
		resp.Services = append(resp.Services, s)
	}

	if h.runs != nil {
		if id, ok := h.runs.Active(); ok {
			resp.ActiveRun = id
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, h.logger, status, resp)
}
