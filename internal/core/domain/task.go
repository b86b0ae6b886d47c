package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskKind identifies what a task does.
type TaskKind string

// Task kinds.
const (
	TaskKindEmbed      TaskKind = "embed"
	TaskKindBuildIndex TaskKind = "build_index"
	TaskKindHotSwap    TaskKind = "hot_swap"
	TaskKindCleanup    TaskKind = "cleanup"
	TaskKindStats      TaskKind = "stats"
)

// IsValid returns true if the task kind is recognised.
func (k TaskKind) IsValid() bool {
	_, ok := kindLanes[k]
	return ok
}

// Lane is an isolated priority partition of the task queue.
type Lane string

// Queue lanes, highest priority first.
const (
	LaneEmbedding   Lane = "embedding"
	LaneIndexing    Lane = "indexing"
	LaneMaintenance Lane = "maintenance"
)

// Lanes lists every lane in priority order.
var Lanes = []Lane{LaneEmbedding, LaneIndexing, LaneMaintenance}

// IsValid returns true if the lane is recognised.
func (l Lane) IsValid() bool {
	switch l {
	case LaneEmbedding, LaneIndexing, LaneMaintenance:
		return true
	default:
		return false
	}
}

// Exclusive reports whether at most one task of the lane may run at a
// time. Index builds all write the latest pointer, so the indexing lane is.
func (l Lane) Exclusive() bool {
	return l == LaneIndexing
}

// kindLanes is the static routing table from task kind to lane.
var kindLanes = map[TaskKind]Lane{
	TaskKindEmbed:      LaneEmbedding,
	TaskKindBuildIndex: LaneIndexing,
	TaskKindHotSwap:    LaneIndexing,
	TaskKindCleanup:    LaneMaintenance,
	TaskKindStats:      LaneMaintenance,
}

// LaneFor returns the lane a task kind is routed to.
func LaneFor(kind TaskKind) (Lane, error) {
	lane, ok := kindLanes[kind]
	if !ok {
		return "", fmt.Errorf("%w: task kind %q", ErrUnsupportedType, kind)
	}
	return lane, nil
}

// TaskState is the lifecycle state of a task.
type TaskState string

// Task states.
//
//	queued -> running -> succeeded
//	                  -> retry_queued -> running ...
//	                  -> dead
//
// Revoked is terminal and may be entered from any non-terminal state.
const (
	TaskQueued      TaskState = "queued"
	TaskRunning     TaskState = "running"
	TaskSucceeded   TaskState = "succeeded"
	TaskRetryQueued TaskState = "retry_queued"
	TaskDead        TaskState = "dead"
	TaskRevoked     TaskState = "revoked"
)

// IsTerminal returns true if no further transition can happen without
// manual intervention.
func (s TaskState) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskDead || s == TaskRevoked
}

// IsLeasable returns true if a worker may pick the task up.
func (s TaskState) IsLeasable() bool {
	return s == TaskQueued || s == TaskRetryQueued
}

// Task is a unit of work in a queue lane.
type Task struct {
	// ID is the unique identifier for the task.
	ID string

	// Kind determines the handler and the lane.
	Kind TaskKind

	// Lane is derived from Kind at submission.
	Lane Lane

	// Payload is the JSON encoded kind-specific payload.
	Payload []byte

	// Attempt counts how many times the task has been leased.
	Attempt int

	// MaxAttempts bounds Attempt. Zero means the queue default.
	MaxAttempts int

	// State is the lifecycle state.
	State TaskState

	// LeasedBy is the worker holding the current lease.
	LeasedBy string

	// LeaseExpiresAt is when the current lease lapses and the task
	// becomes leasable again.
	LeaseExpiresAt time.Time

	// AvailableAt is the earliest time the task may be leased.
	AvailableAt time.Time

	// LastError contains the last failure message, if any.
	LastError string

	// Result is the JSON encoded handler result of a succeeded task.
	Result []byte

	// CreatedAt is when the task was submitted.
	CreatedAt time.Time

	// UpdatedAt is when the task last changed state.
	UpdatedAt time.Time
}

// NewTask builds a queued task for kind with a JSON encoded payload.
func NewTask(kind TaskKind, payload any) (*Task, error) {
	lane, err := LaneFor(kind)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s payload: %w", kind, err)
	}
	return &Task{
		Kind:    kind,
		Lane:    lane,
		Payload: data,
		State:   TaskQueued,
	}, nil
}

// DecodeResult unmarshals the task result into v.
func (t *Task) DecodeResult(v any) error {
	if len(t.Result) == 0 {
		return fmt.Errorf("%w: %s task %s has no result", ErrNotFound, t.Kind, t.ID)
	}
	if err := json.Unmarshal(t.Result, v); err != nil {
		return fmt.Errorf("%w: %s result: %v", ErrInvalidInput, t.Kind, err)
	}
	return nil
}

// DecodePayload unmarshals the task payload into v.
func (t *Task) DecodePayload(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrInvalidInput, t.Kind, err)
	}
	return nil
}

// EmbedPayload is the payload of an embed task.
type EmbedPayload struct {
	CycleID   string   `json:"cycle_id"`
	BatchID   string   `json:"batch_id"`
	SourceRef string   `json:"source_ref"`
	DocIDs    []string `json:"doc_ids"`
}

// EmbedResult is the result of a succeeded embed task.
type EmbedResult struct {
	Embedded int `json:"embedded"`
	Skipped  int `json:"skipped"`
}

// BuildPayload is the payload of a build_index task.
type BuildPayload struct {
	CycleID  string   `json:"cycle_id"`
	BatchIDs []string `json:"batch_ids"`
}

// BuildResult is the result of a succeeded build_index task.
type BuildResult struct {
	VersionID   string `json:"version_id"`
	VectorCount int    `json:"vector_count"`
}

// SwapPayload is the payload of a hot_swap task.
type SwapPayload struct {
	CycleID     string `json:"cycle_id,omitempty"`
	VersionID   string `json:"version_id"`
	VectorCount int    `json:"vector_count"`
}

// MaintenancePayload is the payload of cleanup and stats tasks.
type MaintenancePayload struct {
	Reason string `json:"reason,omitempty"`
}

// TaskFilter narrows a task listing. Zero fields match everything.
type TaskFilter struct {
	Lane  Lane
	Kind  TaskKind
	State TaskState
	Limit int
}

// Matches reports whether t satisfies the filter.
func (f TaskFilter) Matches(t *Task) bool {
	if f.Lane != "" && t.Lane != f.Lane {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if f.State != "" && t.State != f.State {
		return false
	}
	return true
}

// RetryPolicy controls retry counts and exponential backoff.
type RetryPolicy struct {
	// MaxRetries is how many times a failed task is retried before it is dead-lettered.
	MaxRetries int

	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps the delay.
	Max time.Duration
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Base:       2 * time.Second,
		Max:        5 * time.Minute,
	}
}

// MaxAttempts returns the total number of leases a task may receive.
func (p RetryPolicy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// Delay returns base * 2^attempt, capped at Max.
// attempt is zero-based: the first retry uses attempt 0.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}
