// Package store keeps the latest report per query in memory for the HTTP API.
package store

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// ErrNotFound is returned when no report exists for a key.
var ErrNotFound = errors.New("report not found")

// MemoryStore holds the most recent report for each query key.
// It implements pipeline.Loader and is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]domain.Report
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]domain.Report)}
}

// Load replaces the stored report for report.Key.
func (s *MemoryStore) Load(_ context.Context, report domain.Report) error {
	report.Series = slices.Clone(report.Series)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.Key] = report
	return nil
}

// Get returns the report stored under key.
func (s *MemoryStore) Get(key string) (domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[key]
	if !ok {
		return domain.Report{}, ErrNotFound
	}
	return r, nil
}

// List returns every stored report ordered by key.
func (s *MemoryStore) List() []domain.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Report, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b domain.Report) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out
}
