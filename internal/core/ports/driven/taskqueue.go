package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// TaskQueue is a lane-partitioned, at-least-once work queue.
//
// Leasing uses a visibility timeout: a task leased but neither acked nor
// nacked before its lease expires becomes leasable again. Each lease
// increments the task's attempt count; a task whose attempts are exhausted
// is dead-lettered instead of being leased again.
type TaskQueue interface {
	// Submit enqueues a task and returns its ID.
	// The lane is derived from the task kind. A preset task ID is kept.
	Submit(ctx context.Context, task *domain.Task) (string, error)

	// Lease hands the next available task of lane to workerID.
	// Returns nil and no error when the lane has no available task.
	Lease(ctx context.Context, lane domain.Lane, workerID string, visibility time.Duration) (*domain.Task, error)

	// Extend pushes out the lease of a running task held by workerID.
	// Returns domain.ErrLeaseLost if workerID no longer holds the lease.
	Extend(ctx context.Context, taskID, workerID string, visibility time.Duration) error

	// Ack marks a task as succeeded and stores the handler result, which may be nil.
	Ack(ctx context.Context, taskID string, result []byte) error

	// Nack records a failure. The task is retry-queued and becomes
	// leasable after retryAfter, or dead-lettered once its attempts are exhausted.
	Nack(ctx context.Context, taskID string, retryAfter time.Duration, cause error) error

	// Bury dead-letters a task immediately, without retrying.
	Bury(ctx context.Context, taskID string, cause error) error

	// Revoke moves a non-terminal task to the revoked state.
	Revoke(ctx context.Context, taskID string) error

	// Retry re-queues a dead task with a fresh attempt budget.
	Retry(ctx context.Context, taskID string) error

	// Get returns a task by ID.
	// Returns an error wrapping domain.ErrNotFound if it does not exist.
	Get(ctx context.Context, taskID string) (*domain.Task, error)

	// List returns tasks matching the filter, oldest first.
	List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error)

	// Depth returns the number of leasable tasks in a lane.
	Depth(ctx context.Context, lane domain.Lane) (int, error)
}
