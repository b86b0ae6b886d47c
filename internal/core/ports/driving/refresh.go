package driving

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// RefreshService is the task submission API for corpus refreshes.
type RefreshService interface {
	// SubmitRefresh starts a refresh cycle in the background and returns its ID.
	SubmitRefresh(ctx context.Context, sourceRef string) (string, error)

	// RunFullRefresh runs a refresh cycle and blocks until its build task
	// has been submitted, or the cycle failed.
	RunFullRefresh(ctx context.Context, sourceRef string) (domain.RefreshStats, error)

	// GetStatus returns the status of a refresh cycle.
	GetStatus(ctx context.Context, cycleID string) (domain.RefreshStats, error)

	// ListCycles returns the most recent refresh cycles, newest first.
	ListCycles(ctx context.Context, limit int) ([]domain.RefreshStats, error)
}

// TaskService exposes queue administration.
type TaskService interface {
	// Revoke cancels a task. A running task is cancelled if this process runs it.
	Revoke(ctx context.Context, taskID string) error

	// Retry re-queues a dead-lettered task.
	Retry(ctx context.Context, taskID string) error

	// List returns tasks matching the filter.
	List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error)
}
