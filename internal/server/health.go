package server

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// handleHealth reports service health: registry occupancy against its
// bounds, process memory, goroutine count, and uptime. Running at full
// registry capacity is a degraded state, not a failure; the registry sheds
// load by eviction.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	currentConns := s.reg.CountConnections()
	currentUsers := s.reg.CountUsers()
	maxConns := s.cfg.MaxConnections

	connPercent := float64(currentConns) / float64(maxConns) * 100

	var memoryMB float64
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil {
			memoryMB = float64(memInfo.RSS) / 1024 / 1024
		}
	}

	status := "healthy"
	warnings := []string{}
	if connPercent >= 100 {
		status = "degraded"
		warnings = append(warnings, "registry at connection capacity, evicting least recently used")
	} else if connPercent > 90 {
		warnings = append(warnings, "registry near connection capacity")
	}
	if s.shuttingDown.Load() {
		status = "shutting_down"
	}

	statusCode := http.StatusOK
	if status == "shutting_down" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": map[string]any{
			"connections": map[string]any{
				"current":    currentConns,
				"max":        maxConns,
				"percentage": connPercent,
			},
			"users": map[string]any{
				"current": currentUsers,
				"max":     s.cfg.MaxUsers,
			},
			"workers": map[string]any{
				"queue_depth":   s.pool.QueueDepth(),
				"dropped_tasks": s.pool.DroppedTasks(),
			},
			"process": map[string]any{
				"memory_mb":  memoryMB,
				"goroutines": runtime.NumGoroutine(),
			},
		},
		"warnings": warnings,
		"uptime":   time.Since(s.startTime).Seconds(),
	}); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode health response")
	}
}
