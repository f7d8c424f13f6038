package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/e7canasta/pagestream/internal/debugdump"
	"github.com/e7canasta/pagestream/internal/session"
	"github.com/e7canasta/pagestream/internal/telemetry"
	"github.com/e7canasta/pagestream/internal/updatebus"
)

// HealthStatus represents the health state of the service
type HealthStatus struct {
	Status         string           `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds  int64            `json:"uptime_seconds"`
	SessionsActive int              `json:"sessions_active"`
	MQTTEnabled    bool             `json:"mqtt_enabled"`
	MQTTConnected  bool             `json:"mqtt_connected"`
	Sessions       []session.Stats  `json:"sessions"`
	Bus            updatebus.Stats  `json:"bus"`
	DebugDump      *debugdump.Stats `json:"debug_dump,omitempty"`
	Telemetry      *telemetry.Stats `json:"telemetry,omitempty"`
}

// HealthCheck returns the current health status of the service
func (s *Server) HealthCheck() HealthStatus {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	sessions := s.Sessions()
	status := HealthStatus{
		Status:         "healthy",
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
		SessionsActive: len(sessions),
		MQTTEnabled:    s.mqtt != nil,
		Sessions:       sessions,
		Bus:            s.bus.Stats(),
	}
	if s.mqtt != nil {
		status.MQTTConnected = s.mqtt.Connected()
	}
	if s.dumper != nil {
		st := s.dumper.Stats()
		status.DebugDump = &st
	}
	if s.emitter != nil {
		st := s.emitter.Stats()
		status.Telemetry = &st
	}

	switch {
	case !running:
		status.Status = "unhealthy"
	case status.MQTTEnabled && !status.MQTTConnected:
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health (simple liveness check)
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// ReadinessHandler handles /readiness; 503 only when unhealthy
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.HealthCheck()

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(health)
}
