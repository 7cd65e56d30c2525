// Package handler provides HTTP handlers for the pm25forecast query API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/pm25forecast/pm25forecast/internal/api/models"
	"github.com/pm25forecast/pm25forecast/internal/api/response"
	"github.com/pm25forecast/pm25forecast/internal/provider/resilience"
)

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthSource lists the fetch health of the crawl sources.
type HealthSource interface {
	AllHealth() []*resilience.SourceHealth
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	db        Pinger
	sources   HealthSource
}

// NewOpsHandler creates a new OpsHandler. db and sources may be nil.
func NewOpsHandler(version, buildTime string, db Pinger, sources HealthSource) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		db:        db,
		sources:   sources,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			response.ServiceUnavailable(w, r, "database is not reachable")
			return
		}
	}
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - storage and source status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: []models.SubsystemStatus{h.databaseStatus(r.Context())},
		Sources:    []models.SourceStatus{},
	}

	if h.sources != nil {
		for _, health := range h.sources.AllHealth() {
			status.Sources = append(status.Sources, sourceStatus(health))
		}
	}

	for _, s := range status.Subsystems {
		status.Status = worst(status.Status, s.Status)
	}
	for _, s := range status.Sources {
		if s.Status != models.HealthStatusOK {
			status.Status = worst(status.Status, models.HealthStatusDegraded)
		}
	}
	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) databaseStatus(ctx context.Context) models.SubsystemStatus {
	s := models.SubsystemStatus{Name: "database", Status: models.HealthStatusOK}
	if h.db == nil {
		return s
	}
	if err := h.db.Ping(ctx); err != nil {
		detail := err.Error()
		s.Status = models.HealthStatusFail
		s.Detail = &detail
	}
	return s
}

func sourceStatus(h *resilience.SourceHealth) models.SourceStatus {
	s := models.SourceStatus{
		Source:        h.Name,
		Status:        models.HealthStatusOK,
		CircuitState:  h.CircuitState.String(),
		Successes:     h.Successes,
		Failures:      h.Failures,
		LastSuccessAt: models.TimestampPtr(h.LastSuccessAt),
		LastFailureAt: models.TimestampPtr(h.LastFailureAt),
	}
	switch {
	case h.IsUnhealthy():
		s.Status = models.HealthStatusFail
	case h.IsDegraded():
		s.Status = models.HealthStatusDegraded
	}
	if h.LastError != "" {
		msg := h.LastError
		s.Message = &msg
	}
	return s
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
