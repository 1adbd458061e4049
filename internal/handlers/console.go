package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mindcare/triage-server/internal/middleware"
	"github.com/mindcare/triage-server/internal/models"
	"github.com/mindcare/triage-server/internal/services"
)

const defaultListLimit = 50

// ConsoleHandler serves the counselor console. Every route sits behind
// middleware.RequireRole.
type ConsoleHandler struct {
	engine *services.Engine
	logger *zap.SugaredLogger
}

// NewConsoleHandler creates a new console handler
func NewConsoleHandler(engine *services.Engine, logger *zap.SugaredLogger) *ConsoleHandler {
	return &ConsoleHandler{engine: engine, logger: logger}
}

// List handles GET /api/v1/console/cases?status=&min_risk=&emergency=&limit=
func (h *ConsoleHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.CaseFilter{
		Status: models.CaseStatus(q.Get("status")),
		Limit:  defaultListLimit,
	}
	if v := q.Get("min_risk"); v != "" {
		level, err := models.ParseRiskLevel(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid min_risk")
			return
		}
		filter.MinRisk = level
	}
	if v := q.Get("emergency"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid emergency flag")
			return
		}
		filter.EmergencyOnly = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		filter.Limit = n
	}

	rows, err := h.engine.ListCases(r.Context(), filter)
	if err != nil {
		respondServiceError(w, h.logger, err, false)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// Get handles GET /api/v1/console/cases/{caseID}
func (h *ConsoleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "caseID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid case id")
		return
	}
	c, err := h.engine.GetCase(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, false)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Assign handles POST /api/v1/console/cases/{caseID}/assign
// The responder is the authenticated subject.
func (h *ConsoleHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "caseID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid case id")
		return
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	c, err := h.engine.AssignResponder(r.Context(), id, claims.Subject)
	if err != nil {
		respondServiceError(w, h.logger, err, false)
		return
	}
	h.logger.Infow("Responder assigned", "case_id", c.ID, "responder_id", c.ResponderID)
	respondJSON(w, http.StatusOK, c)
}

// SubmitMessage handles POST /api/v1/console/cases/{caseID}/messages
func (h *ConsoleHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "caseID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid case id")
		return
	}
	var req models.MessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.engine.SubmitMessage(r.Context(), id, req.Content, models.SenderResponder)
	if err != nil {
		respondServiceError(w, h.logger, err, false)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// End handles POST /api/v1/console/cases/{caseID}/end
func (h *ConsoleHandler) End(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "caseID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid case id")
		return
	}
	c, err := h.engine.EndCase(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, false)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Interventions handles GET /api/v1/console/cases/{caseID}/interventions
func (h *ConsoleHandler) Interventions(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "caseID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid case id")
		return
	}
	c, err := h.engine.GetCase(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, false)
		return
	}
	respondJSON(w, http.StatusOK, c.Interventions)
}

// NotifyContact handles POST /api/v1/console/cases/{caseID}/contacts/{contactID}/notify
func (h *ConsoleHandler) NotifyContact(w http.ResponseWriter, r *http.Request) {
	caseID, ok := uuidParam(r, "caseID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid case id")
		return
	}
	contactID, ok := uuidParam(r, "contactID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid contact id")
		return
	}

	c, err := h.engine.NotifyContact(r.Context(), caseID, contactID)
	if errors.Is(err, services.ErrNotificationFailure) && c != nil {
		// the failed attempt is on the case; show it
		respondJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error": err.Error(),
			"case":  c,
		})
		return
	}
	if err != nil {
		respondServiceError(w, h.logger, err, false)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// RiskDistribution handles GET /api/v1/analytics/risk
func (h *ConsoleHandler) RiskDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := h.engine.RiskDistribution(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err, false)
		return
	}
	respondJSON(w, http.StatusOK, dist)
}
