package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mindcare/triage-server/internal/models"
	"github.com/mindcare/triage-server/internal/services"
)

// CaseHandler serves the anonymous requester side of a consultation.
// Responses use the requester projections from models, never the full case.
type CaseHandler struct {
	engine *services.Engine
	hasher *services.SubjectHasher
	logger *zap.SugaredLogger
}

// NewCaseHandler creates a new case handler
func NewCaseHandler(engine *services.Engine, hasher *services.SubjectHasher, logger *zap.SugaredLogger) *CaseHandler {
	return &CaseHandler{engine: engine, hasher: hasher, logger: logger}
}

// Create handles POST /api/v1/cases
// The subject identity is hashed here and never stored or logged.
func (h *CaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCaseRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.AcceptedTerms {
		respondError(w, http.StatusBadRequest, "请先阅读并同意咨询须知")
		return
	}

	ref, err := h.hasher.Ref(req.Subject)
	if err != nil {
		respondServiceError(w, h.logger, err, true)
		return
	}

	c, err := h.engine.CreateCase(r.Context(), ref, req.Contacts...)
	if err != nil {
		respondServiceError(w, h.logger, err, true)
		return
	}
	respondJSON(w, http.StatusCreated, c.RequesterView())
}

// Get handles GET /api/v1/cases/{caseID}
func (h *CaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "caseID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid case id")
		return
	}
	c, err := h.engine.GetCase(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, true)
		return
	}
	respondJSON(w, http.StatusOK, c.RequesterView())
}

// SubmitMessage handles POST /api/v1/cases/{caseID}/messages
func (h *CaseHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
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

	res, err := h.engine.SubmitMessage(r.Context(), id, req.Content, models.SenderRequester)
	if err != nil {
		respondServiceError(w, h.logger, err, true)
		return
	}
	respondJSON(w, http.StatusOK, res.RequesterView())
}

// AddContact handles POST /api/v1/cases/{caseID}/contacts
func (h *CaseHandler) AddContact(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "caseID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid case id")
		return
	}
	var req models.ContactRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	contact, err := h.engine.AddContact(r.Context(), id, req)
	if err != nil {
		respondServiceError(w, h.logger, err, true)
		return
	}
	respondJSON(w, http.StatusCreated, contact.RequesterView())
}

// End handles POST /api/v1/cases/{caseID}/end
func (h *CaseHandler) End(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "caseID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid case id")
		return
	}
	c, err := h.engine.EndCase(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, true)
		return
	}
	respondJSON(w, http.StatusOK, c.RequesterView())
}
