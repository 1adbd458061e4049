// Package store holds the case repository backends: in-memory, PostgreSQL
// (pgx) and Redis. Every backend hands out copies, so callers never share a
// *models.Case with the store.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mindcare/triage-server/internal/models"
)

// ErrNotFound is returned when a case id is unknown to the backend.
var ErrNotFound = errors.New("case not found")

// MemoryStore keeps cases in process memory. Used in development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	cases map[uuid.UUID]*models.Case
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: make(map[uuid.UUID]*models.Case)}
}

func (s *MemoryStore) Create(_ context.Context, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cases[c.ID]; exists {
		return errors.New("case already exists")
	}
	s.cases[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; !ok {
		return ErrNotFound
	}
	s.cases[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter models.CaseFilter) ([]models.CaseSummary, error) {
	s.mu.RLock()
	out := make([]models.CaseSummary, 0, len(s.cases))
	for _, c := range s.cases {
		if sum := c.Summary(); filter.Match(sum) {
			out = append(out, sum)
		}
	}
	s.mu.RUnlock()
	return sortAndLimit(out, filter.Limit), nil
}

func (s *MemoryStore) RiskDistribution(_ context.Context) ([]models.RiskDistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	levels := make([]models.RiskLevel, 0, len(s.cases))
	for _, c := range s.cases {
		levels = append(levels, c.AggregateRiskLevel)
	}
	return distribution(levels), nil
}

func (s *MemoryStore) InterventionDigests(_ context.Context) ([]string, error) {
	s.mu.RLock()
	cases := make([]*models.Case, 0, len(s.cases))
	for _, c := range s.cases {
		cases = append(cases, c)
	}
	s.mu.RUnlock()
	return digests(cases), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// sortAndLimit orders summaries newest activity first.
func sortAndLimit(rows []models.CaseSummary, limit int) []models.CaseSummary {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].LastActivityAt.After(rows[j].LastActivityAt)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// distribution counts levels; unclassified cases are reported as "".
func distribution(levels []models.RiskLevel) []models.RiskDistribution {
	counts := make(map[models.RiskLevel]int)
	for _, l := range levels {
		counts[l]++
	}
	return orderCounts(counts)
}

// orderCounts lists levels from high to minimal, unclassified last.
func orderCounts(counts map[models.RiskLevel]int) []models.RiskDistribution {
	out := make([]models.RiskDistribution, 0, len(counts))
	for i := len(models.RiskLevels) - 1; i >= 0; i-- {
		l := models.RiskLevels[i]
		if n := counts[l]; n > 0 {
			out = append(out, models.RiskDistribution{Level: l, Count: n})
		}
	}
	if n := counts[""]; n > 0 {
		out = append(out, models.RiskDistribution{Level: "", Count: n})
	}
	return out
}

// digests returns intervention leaf hashes ordered by case creation, then trail order.
func digests(cases []*models.Case) []string {
	sort.Slice(cases, func(i, j int) bool {
		if cases[i].CreatedAt.Equal(cases[j].CreatedAt) {
			return cases[i].ID.String() < cases[j].ID.String()
		}
		return cases[i].CreatedAt.Before(cases[j].CreatedAt)
	})
	var out []string
	for _, c := range cases {
		for _, iv := range c.Interventions {
			out = append(out, iv.Digest(c.ID))
		}
	}
	return out
}
