package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/brokersync/internal/di"
	"github.com/aristath/brokersync/internal/events"
)

// SystemHandlers handles system-wide monitoring requests
type SystemHandlers struct {
	container *di.Container
	log       zerolog.Logger

	// replaceable in tests
	systemStats func() (float64, float64)
}

// JobInfo describes one scheduled job
type JobInfo struct {
	Name    string `json:"name"`
	NextRun string `json:"next_run,omitempty"`
}

// JobsStatusResponse represents the scheduler state
type JobsStatusResponse struct {
	Jobs      []JobInfo `json:"jobs"`
	TotalJobs int       `json:"total_jobs"`
}

// NewSystemHandlers creates system handlers backed by the container
func NewSystemHandlers(container *di.Container, log zerolog.Logger) *SystemHandlers {
	h := &SystemHandlers{
		container: container,
		log:       log.With().Str("handler", "system").Logger(),
	}
	h.systemStats = h.getSystemStats
	return h
}

// Status samples the process and gateway state
func (h *SystemHandlers) Status() events.SystemStatusData {
	cpuPercent, memPercent := h.systemStats()

	var uptime int64
	if !h.container.StartedAt.IsZero() {
		uptime = int64(time.Since(h.container.StartedAt).Seconds())
	}

	return events.SystemStatusData{
		Gateway:       h.container.Gateway.ConnectionStats(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Clients:       h.container.Hub.ClientCount(),
		UptimeSeconds: uptime,
	}
}

// Snapshot implements hub.SnapshotProvider for the system channel
func (h *SystemHandlers) Snapshot(ctx context.Context) (interface{}, error) {
	return h.Status(), nil
}

// HandleSystemStatus returns the current system status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, http.StatusOK, h.Status())
}

// HandleJobsStatus returns the registered scheduler jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	keys := h.container.Scheduler.Keys()
	jobs := make([]JobInfo, 0, len(keys))
	for _, key := range keys {
		info := JobInfo{Name: key}
		if next := h.container.Scheduler.Next(key); !next.IsZero() {
			info.NextRun = next.Format(time.RFC3339)
		}
		jobs = append(jobs, info)
	}

	writeJSON(w, h.log, http.StatusOK, JobsStatusResponse{
		Jobs:      jobs,
		TotalJobs: len(jobs),
	})
}

// HandleGatewayStatus returns the gateway connection state
func (h *SystemHandlers) HandleGatewayStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, http.StatusOK, h.container.Gateway.ConnectionStats())
}

// HandleGatewayConnect runs one connection attempt. A failure schedules
// background retries and is reported with 503.
func (h *SystemHandlers) HandleGatewayConnect(w http.ResponseWriter, r *http.Request) {
	connected := h.container.Gateway.Connect(r.Context())

	status := http.StatusOK
	if !connected {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, h.log, status, h.container.Gateway.ConnectionStats())
}

// getSystemStats calculates CPU and RAM usage percentages.
// CPU is sampled over 100ms to keep the call fast.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
