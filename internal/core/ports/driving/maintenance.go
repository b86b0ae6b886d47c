package driving

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// MaintenanceService exposes index housekeeping.
type MaintenanceService interface {
	// Cleanup deletes index versions and batches outside the retention window.
	Cleanup(ctx context.Context) (domain.CleanupReport, error)

	// Stats returns a snapshot of the published index and queue depths.
	Stats(ctx context.Context) (domain.IndexStats, error)
}
