package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mindcare/triage-server/internal/models"
	"github.com/mindcare/triage-server/internal/services"
)

const version = "1.3.0"

var startTime = time.Now()

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health check endpoints
type HealthHandler struct {
	store   Pinger
	backend string
	merkle  *services.MerkleService
	logger  *zap.SugaredLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store Pinger, backend string, merkle *services.MerkleService, logger *zap.SugaredLogger) *HealthHandler {
	return &HealthHandler{store: store, backend: backend, merkle: merkle, logger: logger}
}

// Check handles GET /api/v1/health (liveness probe)
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.HealthStatus{
		Status:  "ok",
		Version: version,
		Uptime:  time.Since(startTime).String(),
	})
}

// Ready handles GET /api/v1/health/ready (readiness probe)
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warnw("Readiness check failed", "store", h.backend, "error", err)
		respondJSON(w, http.StatusServiceUnavailable, models.HealthStatus{
			Status:  "not ready",
			Version: version,
			Store:   h.backend + ": disconnected",
		})
		return
	}

	status := models.HealthStatus{
		Status:  "ready",
		Version: version,
		Uptime:  time.Since(startTime).String(),
		Store:   h.backend + ": connected",
	}
	if h.merkle != nil {
		status.MerkleRoot = h.merkle.GetRoot()
	}
	respondJSON(w, http.StatusOK, status)
}
