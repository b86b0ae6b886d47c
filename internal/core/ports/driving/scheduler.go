package driving

import "context"

// Scheduler manages background work: periodic triggers and lane workers.
type Scheduler interface {
	// Start begins running scheduled work.
	// Blocks until context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops all running work.
	Stop() error
}
