package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// taskColumns lists the columns read by scanTask, in order.
const taskColumns = `id, kind, lane, payload, attempt, max_attempts, state, leased_by,
	lease_expires_at, available_at, last_error, result, created_at, updated_at`

// taskQueue implements driven.TaskQueue.
type taskQueue struct {
	store       *Store
	maxAttempts int
	now         func() time.Time
}

var _ driven.TaskQueue = (*taskQueue)(nil)

// Submit enqueues a task.
func (q *taskQueue) Submit(ctx context.Context, task *domain.Task) (string, error) {
	if task == nil {
		return "", fmt.Errorf("%w: nil task", domain.ErrInvalidInput)
	}
	lane, err := domain.LaneFor(task.Kind)
	if err != nil {
		return "", err
	}

	id := task.ID
	if id == "" {
		id = uuid.New().String()
	}
	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}
	now := q.now()
	availableAt := task.AvailableAt
	if availableAt.IsZero() {
		availableAt = now
	}

	_, err = q.store.db.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, lane, payload, attempt, max_attempts, state,
			available_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
	`, id, string(task.Kind), string(lane), task.Payload, maxAttempts,
		string(domain.TaskQueued), availableAt.UnixNano(), now.UnixNano(), now.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return "", fmt.Errorf("%w: task %s already submitted", domain.ErrInvalidInput, id)
		}
		return "", fmt.Errorf("submitting task: %w", err)
	}
	return id, nil
}

// Lease hands out the next available task of the lane.
func (q *taskQueue) Lease(ctx context.Context, lane domain.Lane, workerID string, visibility time.Duration) (*domain.Task, error) {
	var leased *domain.Task
	err := q.inTx(ctx, func(tx *sql.Tx) error {
		now := q.now()
		if err := reclaimExpired(ctx, tx, now); err != nil {
			return err
		}

		// An exclusive lane leases nothing while one of its tasks runs.
		var id string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM tasks
			WHERE lane = ? AND state IN (?, ?) AND available_at <= ?
				AND NOT (? = 1 AND EXISTS (SELECT 1 FROM tasks WHERE lane = ? AND state = ?))
			ORDER BY available_at, seq
			LIMIT 1
		`, string(lane), string(domain.TaskQueued), string(domain.TaskRetryQueued), now.UnixNano(),
			boolToInt(lane.Exclusive()), string(lane), string(domain.TaskRunning)).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("selecting task: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET state = ?, attempt = attempt + 1, leased_by = ?,
				lease_expires_at = ?, updated_at = ?
			WHERE id = ?
		`, string(domain.TaskRunning), workerID, now.Add(visibility).UnixNano(), now.UnixNano(), id)
		if err != nil {
			return fmt.Errorf("leasing task: %w", err)
		}

		leased, err = getTask(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// reclaimExpired returns running tasks whose lease lapsed to the queue,
// or dead-letters them when their attempts are used up.
func reclaimExpired(ctx context.Context, tx *sql.Tx, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tasks SET
			state = CASE WHEN attempt >= max_attempts THEN ? ELSE ? END,
			last_error = CASE WHEN attempt >= max_attempts
				THEN 'lease expired after final attempt' ELSE 'lease expired' END,
			available_at = ?,
			leased_by = NULL,
			lease_expires_at = NULL,
			updated_at = ?
		WHERE state = ? AND lease_expires_at <= ?
	`, string(domain.TaskDead), string(domain.TaskRetryQueued), now.UnixNano(), now.UnixNano(),
		string(domain.TaskRunning), now.UnixNano())
	if err != nil {
		return fmt.Errorf("reclaiming expired leases: %w", err)
	}
	return nil
}

// Extend pushes out the lease of a running task.
func (q *taskQueue) Extend(ctx context.Context, taskID, workerID string, visibility time.Duration) error {
	return q.inTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		now := q.now()
		if t.State != domain.TaskRunning || t.LeasedBy != workerID || !t.LeaseExpiresAt.After(now) {
			return fmt.Errorf("%w: task %s", domain.ErrLeaseLost, taskID)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET lease_expires_at = ?, updated_at = ? WHERE id = ?
		`, now.Add(visibility).UnixNano(), now.UnixNano(), taskID)
		if err != nil {
			return fmt.Errorf("extending lease: %w", err)
		}
		return nil
	})
}

// Ack marks a task as succeeded.
func (q *taskQueue) Ack(ctx context.Context, taskID string, result []byte) error {
	return q.transition(ctx, taskID, func(tx *sql.Tx, _ *domain.Task, now time.Time) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE tasks SET state = ?, result = ?, leased_by = NULL,
				lease_expires_at = NULL, updated_at = ?
			WHERE id = ?
		`, string(domain.TaskSucceeded), result, now.UnixNano(), taskID)
		return err
	})
}

// Nack records a failure and schedules a retry or dead-letters the task.
func (q *taskQueue) Nack(ctx context.Context, taskID string, retryAfter time.Duration, cause error) error {
	return q.transition(ctx, taskID, func(tx *sql.Tx, t *domain.Task, now time.Time) error {
		state := domain.TaskRetryQueued
		if t.Attempt >= t.MaxAttempts {
			state = domain.TaskDead
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE tasks SET state = ?, last_error = ?, available_at = ?,
				leased_by = NULL, lease_expires_at = NULL, updated_at = ?
			WHERE id = ?
		`, string(state), nullString(errorText(cause)), now.Add(retryAfter).UnixNano(), now.UnixNano(), taskID)
		return err
	})
}

// Bury dead-letters a task without retrying.
func (q *taskQueue) Bury(ctx context.Context, taskID string, cause error) error {
	return q.transition(ctx, taskID, func(tx *sql.Tx, _ *domain.Task, now time.Time) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE tasks SET state = ?, last_error = ?, leased_by = NULL,
				lease_expires_at = NULL, updated_at = ?
			WHERE id = ?
		`, string(domain.TaskDead), nullString(errorText(cause)), now.UnixNano(), taskID)
		return err
	})
}

// Revoke moves a non-terminal task to the revoked state.
func (q *taskQueue) Revoke(ctx context.Context, taskID string) error {
	return q.transition(ctx, taskID, func(tx *sql.Tx, _ *domain.Task, now time.Time) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE tasks SET state = ?, leased_by = NULL, lease_expires_at = NULL, updated_at = ?
			WHERE id = ?
		`, string(domain.TaskRevoked), now.UnixNano(), taskID)
		return err
	})
}

// Retry re-queues a dead task with a fresh attempt budget.
func (q *taskQueue) Retry(ctx context.Context, taskID string) error {
	return q.inTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if t.State != domain.TaskDead {
			return fmt.Errorf("%w: task %s is %s, only dead tasks can be retried",
				domain.ErrInvalidInput, taskID, t.State)
		}
		now := q.now()
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET state = ?, attempt = 0, available_at = ?, updated_at = ?
			WHERE id = ?
		`, string(domain.TaskQueued), now.UnixNano(), now.UnixNano(), taskID)
		if err != nil {
			return fmt.Errorf("retrying task: %w", err)
		}
		return nil
	})
}

// Get returns a task by ID.
func (q *taskQueue) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	return getTask(ctx, q.store.db, taskID)
}

// List returns tasks matching the filter in submission order.
func (q *taskQueue) List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	var (
		where []string
		args  []any
	)
	if filter.Lane != "" {
		where = append(where, "lane = ?")
		args = append(args, string(filter.Lane))
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task //nolint:prealloc // size unknown from query
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}
	return tasks, nil
}

// Depth counts queued and retry-queued tasks of a lane.
func (q *taskQueue) Depth(ctx context.Context, lane domain.Lane) (int, error) {
	var n int
	err := q.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks WHERE lane = ? AND state IN (?, ?)
	`, string(lane), string(domain.TaskQueued), string(domain.TaskRetryQueued)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting tasks: %w", err)
	}
	return n, nil
}

// transition applies fn to a non-terminal task inside a transaction.
func (q *taskQueue) transition(ctx context.Context, taskID string,
	fn func(tx *sql.Tx, t *domain.Task, now time.Time) error) error {
	return q.inTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if t.State.IsTerminal() {
			return fmt.Errorf("%w: task %s is %s", domain.ErrTaskTerminal, taskID, t.State)
		}
		if err := fn(tx, t, q.now()); err != nil {
			return fmt.Errorf("updating task %s: %w", taskID, err)
		}
		return nil
	})
}

// inTx runs fn in an immediate transaction.
func (q *taskQueue) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := q.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", domain.ErrStoreUnavailable, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTask(ctx context.Context, db querier, taskID string) (*domain.Task, error) {
	row := db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", domain.ErrNotFound, taskID)
	}
	return t, err
}

// scanTask scans a task row selected with taskColumns.
func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var kind, lane, state string
	var leasedBy, lastError sql.NullString
	var leaseExpiresAt, availableAt sql.NullInt64
	var createdAt, updatedAt int64

	if err := row.Scan(&t.ID, &kind, &lane, &t.Payload, &t.Attempt, &t.MaxAttempts, &state,
		&leasedBy, &leaseExpiresAt, &availableAt, &lastError, &t.Result, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}

	t.Kind = domain.TaskKind(kind)
	t.Lane = domain.Lane(lane)
	t.State = domain.TaskState(state)
	t.LeasedBy = leasedBy.String
	t.LastError = lastError.String
	t.LeaseExpiresAt = fromUnixNanos(leaseExpiresAt)
	t.AvailableAt = fromUnixNanos(availableAt)
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	t.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &t, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
