package driven

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// RefreshStore persists refresh cycle status so it can be queried from
// any process.
type RefreshStore interface {
	// Save creates or replaces the record of a cycle.
	Save(ctx context.Context, stats domain.RefreshStats) error

	// Get returns the record of a cycle.
	// Returns an error wrapping domain.ErrNotFound if it does not exist.
	Get(ctx context.Context, cycleID string) (*domain.RefreshStats, error)

	// List returns the most recent cycles, newest first.
	List(ctx context.Context, limit int) ([]domain.RefreshStats, error)
}
