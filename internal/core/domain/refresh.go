package domain

import "time"

// RefreshState is the lifecycle state of a refresh cycle.
type RefreshState string

// Refresh cycle states.
const (
	RefreshEmbedding RefreshState = "embedding"
	RefreshBuilding  RefreshState = "building"
	RefreshPublished RefreshState = "published"
	RefreshFailed    RefreshState = "failed"
)

// IsTerminal returns true once the cycle can no longer change.
func (s RefreshState) IsTerminal() bool {
	return s == RefreshPublished || s == RefreshFailed
}

// RefreshStats records the progress and throughput of one refresh cycle.
type RefreshStats struct {
	// CycleID identifies the refresh cycle.
	CycleID string

	// SourceRef is the corpus reference the cycle was run against.
	SourceRef string

	// State is the cycle state.
	State RefreshState

	// TotalDocuments is the corpus size at orchestration time.
	TotalDocuments int

	// TotalBatches is the number of embed tasks submitted.
	TotalBatches int

	// SucceededBatches counts batches whose embed task succeeded.
	SucceededBatches int

	// FailedBatches counts batches that ended dead, revoked or timed out.
	FailedBatches int

	// SkippedDocuments counts documents dropped by embedding for data errors.
	SkippedDocuments int

	// BatchIDs is the batch-id set handed to the index builder.
	BatchIDs []string

	// BuildTaskID is the build_index task submitted for the cycle.
	BuildTaskID string

	// VersionID is the published version, set once the build completes.
	VersionID string

	// StartedAt is when orchestration began.
	StartedAt time.Time

	// EndedAt is when the cycle reached a terminal state.
	EndedAt time.Time

	// EmbedDuration is the time spent waiting for embedding tasks.
	EmbedDuration time.Duration

	// DocsPerSecond is the embedding throughput of the cycle.
	DocsPerSecond float64

	// Error holds the failure reason of a failed cycle.
	Error string
}

// ComputeThroughput sets DocsPerSecond from the documents covered by
// successful batches and the embedding duration.
func (s *RefreshStats) ComputeThroughput(embeddedDocs int) {
	if s.EmbedDuration <= 0 {
		s.DocsPerSecond = 0
		return
	}
	s.DocsPerSecond = float64(embeddedDocs) / s.EmbedDuration.Seconds()
}
