package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mindcare/triage-server/internal/models"
	"github.com/mindcare/triage-server/internal/services"
)

// IntegrityHandler exposes the audit-trail Merkle tree
type IntegrityHandler struct {
	svc    *services.MerkleService
	logger *zap.SugaredLogger
}

// NewIntegrityHandler creates a new integrity handler
func NewIntegrityHandler(svc *services.MerkleService, logger *zap.SugaredLogger) *IntegrityHandler {
	return &IntegrityHandler{svc: svc, logger: logger}
}

// GetRoot handles GET /api/v1/integrity/root
func (h *IntegrityHandler) GetRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Merkle-Root", h.svc.GetRoot())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"root":       h.svc.GetRoot(),
		"leaf_count": h.svc.GetLeafCount(),
		"timestamp":  h.svc.GetLastBuildTime(),
	})
}

// GetProof handles GET /api/v1/integrity/proof/{index}
func (h *IntegrityHandler) GetProof(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid index")
		return
	}

	proof, err := h.svc.GetProof(index)
	if err != nil {
		respondError(w, http.StatusNotFound, "Proof not available for index")
		return
	}

	respondJSON(w, http.StatusOK, proof)
}

type verifyRequest struct {
	LeafHash string             `json:"leaf_hash"`
	Proof    []models.ProofStep `json:"proof"`
	Root     string             `json:"root"`
}

// Verify handles POST /api/v1/integrity/verify
// An empty root checks against the current tree.
func (h *IntegrityHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.LeafHash == "" {
		respondError(w, http.StatusBadRequest, "leaf_hash is required")
		return
	}
	root := req.Root
	if root == "" {
		root = h.svc.GetRoot()
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"verified": services.VerifyProof(req.LeafHash, req.Proof, root),
		"root":     root,
		"current":  root == h.svc.GetRoot(),
	})
}
