package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mindcare/triage-server/internal/models"
)

// AuditSource yields the intervention leaf digests in a stable order.
type AuditSource interface {
	InterventionDigests(ctx context.Context) ([]string, error)
}

// MerkleService keeps a Merkle tree over the intervention audit trail so a
// published root can later prove an entry was not altered or removed.
type MerkleService struct {
	mu            sync.RWMutex
	leaves        []string
	layers        [][]string
	root          string
	lastBuildTime time.Time
	logger        *zap.SugaredLogger
}

func NewMerkleService(logger *zap.SugaredLogger) *MerkleService {
	return &MerkleService{logger: logger}
}

// BuildFromHashes replaces the tree with one built over hashes.
func (m *MerkleService) BuildFromHashes(hashes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.leaves = append([]string(nil), hashes...)
	m.buildTree()
	m.lastBuildTime = time.Now()

	m.logger.Infow("Audit Merkle tree rebuilt",
		"leaves", len(m.leaves),
		"root", m.root,
	)
}

func (m *MerkleService) GetRoot() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root
}

func (m *MerkleService) GetLeafCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.leaves)
}

func (m *MerkleService) GetLastBuildTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastBuildTime
}

// GetProof returns the inclusion path of leaf index up to the current root.
func (m *MerkleService) GetProof(index int) (*models.MerkleProof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index < 0 || index >= len(m.leaves) {
		return nil, fmt.Errorf("%w: leaf index %d out of range", ErrNotFound, index)
	}

	proof := &models.MerkleProof{
		LeafHash: m.leaves[index],
		Root:     m.root,
		Index:    index,
		Proof:    make([]models.ProofStep, 0, len(m.layers)),
	}

	cur := index
	for i := 0; i < len(m.layers)-1; i++ {
		layer := m.layers[i]
		if cur%2 == 1 {
			proof.Proof = append(proof.Proof, models.ProofStep{Hash: layer[cur-1], Position: "left"})
		} else if cur+1 < len(layer) {
			proof.Proof = append(proof.Proof, models.ProofStep{Hash: layer[cur+1], Position: "right"})
		} else {
			// odd tail is paired with itself
			proof.Proof = append(proof.Proof, models.ProofStep{Hash: layer[cur], Position: "right"})
		}
		cur /= 2
	}

	proof.Verified = VerifyProof(proof.LeafHash, proof.Proof, proof.Root)
	return proof, nil
}

// VerifyProof recomputes the root from leaf along steps.
func VerifyProof(leaf string, steps []models.ProofStep, root string) bool {
	if leaf == "" || root == "" {
		return false
	}
	h := leaf
	for _, s := range steps {
		switch s.Position {
		case "left":
			h = hashPair(s.Hash, h)
		case "right":
			h = hashPair(h, s.Hash)
		default:
			return false
		}
	}
	return h == root
}

// buildTree must be called with the write lock held.
func (m *MerkleService) buildTree() {
	if len(m.leaves) == 0 {
		m.root = ""
		m.layers = nil
		return
	}

	layer := append([]string(nil), m.leaves...)
	m.layers = [][]string{layer}

	for len(layer) > 1 {
		next := make([]string, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			left := layer[i]
			right := left
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		m.layers = append(m.layers, next)
		layer = next
	}

	m.root = layer[0]
}

func hashPair(left, right string) string {
	h := sha256.New()
	h.Write([]byte(left + right))
	return hex.EncodeToString(h.Sum(nil))
}

// IntegrityWorker periodically rebuilds the audit tree from the case store.
type IntegrityWorker struct {
	merkleSvc *MerkleService
	source    AuditSource
	logger    *zap.SugaredLogger
}

func NewIntegrityWorker(ms *MerkleService, source AuditSource, logger *zap.SugaredLogger) *IntegrityWorker {
	return &IntegrityWorker{merkleSvc: ms, source: source, logger: logger}
}

// Start rebuilds immediately, then every interval until ctx is done.
func (w *IntegrityWorker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.Rebuild(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Integrity worker stopped")
			return
		case <-ticker.C:
			w.Rebuild(ctx)
		}
	}
}

// Rebuild loads the digests once and rebuilds the tree. Errors keep the old tree.
func (w *IntegrityWorker) Rebuild(ctx context.Context) {
	digests, err := w.source.InterventionDigests(ctx)
	if err != nil {
		w.logger.Errorw("Failed to load audit digests", "error", err)
		return
	}
	w.merkleSvc.BuildFromHashes(digests)
}
