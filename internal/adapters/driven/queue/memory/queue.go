// Package memory provides an in-process implementation of driven.TaskQueue.
//
// It is used by single-process deployments and by service tests. Tasks do
// not survive a restart; use the sqlite queue for durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Ensure TaskQueue implements the interface.
var _ driven.TaskQueue = (*TaskQueue)(nil)

// TaskQueue is an in-memory lane-partitioned task queue.
type TaskQueue struct {
	mu          sync.Mutex
	tasks       map[string]*domain.Task
	seq         map[string]uint64
	next        uint64
	maxAttempts int
	now         func() time.Time
}

// NewTaskQueue creates an empty queue. maxAttempts is applied to tasks
// submitted without their own limit.
func NewTaskQueue(maxAttempts int) *TaskQueue {
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultRetryPolicy().MaxAttempts()
	}
	return &TaskQueue{
		tasks:       make(map[string]*domain.Task),
		seq:         make(map[string]uint64),
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (q *TaskQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Submit enqueues a task.
func (q *TaskQueue) Submit(_ context.Context, task *domain.Task) (string, error) {
	if task == nil {
		return "", fmt.Errorf("%w: nil task", domain.ErrInvalidInput)
	}
	lane, err := domain.LaneFor(task.Kind)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	t := *task
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if _, exists := q.tasks[t.ID]; exists {
		return "", fmt.Errorf("%w: task %s already submitted", domain.ErrInvalidInput, t.ID)
	}
	now := q.now()
	t.Lane = lane
	t.State = domain.TaskQueued
	t.Attempt = 0
	t.LeasedBy = ""
	t.LeaseExpiresAt = time.Time{}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = q.maxAttempts
	}
	if t.AvailableAt.IsZero() {
		t.AvailableAt = now
	}
	t.CreatedAt = now
	t.UpdatedAt = now

	q.tasks[t.ID] = &t
	q.next++
	q.seq[t.ID] = q.next
	return t.ID, nil
}

// Lease hands out the next available task of the lane.
func (q *TaskQueue) Lease(_ context.Context, lane domain.Lane, workerID string, visibility time.Duration) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.reclaimExpired(now)

	if lane.Exclusive() && q.laneBusy(lane) {
		return nil, nil
	}

	var best *domain.Task
	for _, t := range q.tasks {
		if t.Lane != lane || !t.State.IsLeasable() || t.AvailableAt.After(now) {
			continue
		}
		if best == nil || q.before(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Attempt++
	best.State = domain.TaskRunning
	best.LeasedBy = workerID
	best.LeaseExpiresAt = now.Add(visibility)
	best.UpdatedAt = now
	return cloneTask(best), nil
}

// laneBusy reports whether a task of lane is running.
func (q *TaskQueue) laneBusy(lane domain.Lane) bool {
	for _, t := range q.tasks {
		if t.Lane == lane && t.State == domain.TaskRunning {
			return true
		}
	}
	return false
}

// reclaimExpired returns running tasks whose lease lapsed to the queue,
// or dead-letters them when their attempts are used up.
func (q *TaskQueue) reclaimExpired(now time.Time) {
	for _, t := range q.tasks {
		if t.State != domain.TaskRunning || t.LeaseExpiresAt.After(now) {
			continue
		}
		t.LeasedBy = ""
		t.LeaseExpiresAt = time.Time{}
		t.UpdatedAt = now
		if t.Attempt >= t.MaxAttempts {
			t.State = domain.TaskDead
			t.LastError = "lease expired after final attempt"
			continue
		}
		t.State = domain.TaskRetryQueued
		t.AvailableAt = now
		t.LastError = "lease expired"
	}
}

// before orders tasks by availability, then submission order.
func (q *TaskQueue) before(a, b *domain.Task) bool {
	if !a.AvailableAt.Equal(b.AvailableAt) {
		return a.AvailableAt.Before(b.AvailableAt)
	}
	return q.seq[a.ID] < q.seq[b.ID]
}

// Extend pushes out the lease of a running task.
func (q *TaskQueue) Extend(_ context.Context, taskID, workerID string, visibility time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.get(taskID)
	if err != nil {
		return err
	}
	now := q.now()
	if t.State != domain.TaskRunning || t.LeasedBy != workerID || !t.LeaseExpiresAt.After(now) {
		return fmt.Errorf("%w: task %s", domain.ErrLeaseLost, taskID)
	}
	t.LeaseExpiresAt = now.Add(visibility)
	t.UpdatedAt = now
	return nil
}

// Ack marks a task as succeeded.
func (q *TaskQueue) Ack(_ context.Context, taskID string, result []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.get(taskID)
	if err != nil {
		return err
	}
	if t.State.IsTerminal() {
		return fmt.Errorf("%w: task %s is %s", domain.ErrTaskTerminal, taskID, t.State)
	}
	t.State = domain.TaskSucceeded
	t.Result = append([]byte(nil), result...)
	t.LeasedBy = ""
	t.LeaseExpiresAt = time.Time{}
	t.UpdatedAt = q.now()
	return nil
}

// Nack records a failure and schedules a retry or dead-letters the task.
func (q *TaskQueue) Nack(_ context.Context, taskID string, retryAfter time.Duration, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.get(taskID)
	if err != nil {
		return err
	}
	if t.State.IsTerminal() {
		return fmt.Errorf("%w: task %s is %s", domain.ErrTaskTerminal, taskID, t.State)
	}
	now := q.now()
	t.LastError = errorText(cause)
	t.LeasedBy = ""
	t.LeaseExpiresAt = time.Time{}
	t.UpdatedAt = now
	if t.Attempt >= t.MaxAttempts {
		t.State = domain.TaskDead
		return nil
	}
	t.State = domain.TaskRetryQueued
	t.AvailableAt = now.Add(retryAfter)
	return nil
}

// Bury dead-letters a task without retrying.
func (q *TaskQueue) Bury(_ context.Context, taskID string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.get(taskID)
	if err != nil {
		return err
	}
	if t.State.IsTerminal() {
		return fmt.Errorf("%w: task %s is %s", domain.ErrTaskTerminal, taskID, t.State)
	}
	t.State = domain.TaskDead
	t.LastError = errorText(cause)
	t.LeasedBy = ""
	t.LeaseExpiresAt = time.Time{}
	t.UpdatedAt = q.now()
	return nil
}

// Revoke moves a non-terminal task to the revoked state.
func (q *TaskQueue) Revoke(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.get(taskID)
	if err != nil {
		return err
	}
	if t.State.IsTerminal() {
		return fmt.Errorf("%w: task %s is %s", domain.ErrTaskTerminal, taskID, t.State)
	}
	t.State = domain.TaskRevoked
	t.LeasedBy = ""
	t.LeaseExpiresAt = time.Time{}
	t.UpdatedAt = q.now()
	return nil
}

// Retry re-queues a dead task with a fresh attempt budget.
func (q *TaskQueue) Retry(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.get(taskID)
	if err != nil {
		return err
	}
	if t.State != domain.TaskDead {
		return fmt.Errorf("%w: task %s is %s, only dead tasks can be retried", domain.ErrInvalidInput, taskID, t.State)
	}
	now := q.now()
	t.State = domain.TaskQueued
	t.Attempt = 0
	t.AvailableAt = now
	t.UpdatedAt = now
	return nil
}

// Get returns a copy of a task.
func (q *TaskQueue) Get(_ context.Context, taskID string) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.get(taskID)
	if err != nil {
		return nil, err
	}
	return cloneTask(t), nil
}

// List returns tasks matching the filter in submission order.
func (q *TaskQueue) List(_ context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []domain.Task
	for _, t := range q.tasks {
		if filter.Matches(t) {
			out = append(out, *cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return q.seq[out[i].ID] < q.seq[out[j].ID]
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Depth counts queued and retry-queued tasks of a lane.
func (q *TaskQueue) Depth(_ context.Context, lane domain.Lane) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, t := range q.tasks {
		if t.Lane == lane && t.State.IsLeasable() {
			n++
		}
	}
	return n, nil
}

func (q *TaskQueue) get(taskID string) (*domain.Task, error) {
	t, ok := q.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", domain.ErrNotFound, taskID)
	}
	return t, nil
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	c.Payload = append([]byte(nil), t.Payload...)
	if t.Result != nil {
		c.Result = append([]byte(nil), t.Result...)
	}
	return &c
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
