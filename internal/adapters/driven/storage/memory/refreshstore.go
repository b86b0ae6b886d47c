package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Ensure RefreshStore implements the interface.
var _ driven.RefreshStore = (*RefreshStore)(nil)

// RefreshStore is an in-memory implementation of driven.RefreshStore.
type RefreshStore struct {
	mu     sync.RWMutex
	cycles map[string]domain.RefreshStats
}

// NewRefreshStore creates a new in-memory refresh store.
func NewRefreshStore() *RefreshStore {
	return &RefreshStore{
		cycles: make(map[string]domain.RefreshStats),
	}
}

// Save creates or replaces the record of a cycle.
func (s *RefreshStore) Save(_ context.Context, stats domain.RefreshStats) error {
	if stats.CycleID == "" {
		return fmt.Errorf("%w: refresh cycle without id", domain.ErrInvalidInput)
	}
	stats.BatchIDs = append([]string(nil), stats.BatchIDs...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles[stats.CycleID] = stats
	return nil
}

// Get returns the record of a cycle.
func (s *RefreshStore) Get(_ context.Context, cycleID string) (*domain.RefreshStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.cycles[cycleID]
	if !ok {
		return nil, fmt.Errorf("%w: refresh cycle %s", domain.ErrNotFound, cycleID)
	}
	stats.BatchIDs = append([]string(nil), stats.BatchIDs...)
	return &stats, nil
}

// List returns the most recent cycles, newest first.
func (s *RefreshStore) List(_ context.Context, limit int) ([]domain.RefreshStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RefreshStats, 0, len(s.cycles))
	for _, stats := range s.cycles {
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
