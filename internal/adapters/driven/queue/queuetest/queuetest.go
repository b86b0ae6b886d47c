// Package queuetest holds a conformance suite shared by every
// driven.TaskQueue implementation.
package queuetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Factory creates an empty queue that reads time from now.
type Factory func(t *testing.T, maxAttempts int, now func() time.Time) driven.TaskQueue

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func submit(t *testing.T, q driven.TaskQueue, kind domain.TaskKind, payload any) string {
	t.Helper()
	task, err := domain.NewTask(kind, payload)
	require.NoError(t, err)
	id, err := q.Submit(context.Background(), task)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

// Run executes the conformance suite.
func Run(t *testing.T, newQueue Factory) {
	ctx := context.Background()
	const visibility = time.Minute

	t.Run("SubmitRoutesByKind", func(t *testing.T) {
		clock := NewClock()
		q := newQueue(t, 3, clock.Now)

		embedID := submit(t, q, domain.TaskKindEmbed, domain.EmbedPayload{BatchID: "b"})
		buildID := submit(t, q, domain.TaskKindBuildIndex, domain.BuildPayload{})

		embed, err := q.Get(ctx, embedID)
		require.NoError(t, err)
		assert.Equal(t, domain.LaneEmbedding, embed.Lane)
		assert.Equal(t, domain.TaskQueued, embed.State)
		assert.Equal(t, 3, embed.MaxAttempts)

		build, err := q.Get(ctx, buildID)
		require.NoError(t, err)
		assert.Equal(t, domain.LaneIndexing, build.Lane)

		_, err = q.Submit(ctx, &domain.Task{Kind: "bogus"})
		assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	})

	t.Run("SubmitKeepsPresetID", func(t *testing.T) {
		q := newQueue(t, 3, NewClock().Now)
		task, err := domain.NewTask(domain.TaskKindStats, domain.MaintenancePayload{})
		require.NoError(t, err)
		task.ID = "preset-id"

		id, err := q.Submit(ctx, task)
		require.NoError(t, err)
		assert.Equal(t, "preset-id", id)

		_, err = q.Submit(ctx, task)
		assert.Error(t, err)
	})

	t.Run("LeaseIsFIFOWithinLane", func(t *testing.T) {
		clock := NewClock()
		q := newQueue(t, 3, clock.Now)

		first := submit(t, q, domain.TaskKindEmbed, domain.EmbedPayload{BatchID: "1"})
		clock.Advance(time.Millisecond)
		second := submit(t, q, domain.TaskKindEmbed, domain.EmbedPayload{BatchID: "2"})
		submit(t, q, domain.TaskKindCleanup, domain.MaintenancePayload{})

		got, err := q.Lease(ctx, domain.LaneEmbedding, "w1", visibility)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, first, got.ID)
		assert.Equal(t, 1, got.Attempt)
		assert.Equal(t, domain.TaskRunning, got.State)
		assert.Equal(t, "w1", got.LeasedBy)

		got, err = q.Lease(ctx, domain.LaneEmbedding, "w2", visibility)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, second, got.ID)

		got, err = q.Lease(ctx, domain.LaneEmbedding, "w3", visibility)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("LanesAreIsolated", func(t *testing.T) {
		q := newQueue(t, 3, NewClock().Now)
		for i := 0; i < 5; i++ {
			submit(t, q, domain.TaskKindEmbed, domain.EmbedPayload{})
		}
		buildID := submit(t, q, domain.TaskKindBuildIndex, domain.BuildPayload{})

		got, err := q.Lease(ctx, domain.LaneIndexing, "w", visibility)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, buildID, got.ID)

		depth, err := q.Depth(ctx, domain.LaneEmbedding)
		require.NoError(t, err)
		assert.Equal(t, 5, depth)

		depth, err = q.Depth(ctx, domain.LaneMaintenance)
		require.NoError(t, err)
		assert.Equal(t, 0, depth)
	})

	t.Run("IndexingLaneRunsOneAtATime", func(t *testing.T) {
		q := newQueue(t, 3, NewClock().Now)
		first := submit(t, q, domain.TaskKindBuildIndex, domain.BuildPayload{})
		second := submit(t, q, domain.TaskKindBuildIndex, domain.BuildPayload{})
		submit(t, q, domain.TaskKindEmbed, domain.EmbedPayload{})

		got, err := q.Lease(ctx, domain.LaneIndexing, "w1", visibility)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, first, got.ID)

		blocked, err := q.Lease(ctx, domain.LaneIndexing, "w2", visibility)
		require.NoError(t, err)
		assert.Nil(t, blocked, "a second build must wait for the running one")

		// Other lanes are unaffected.
		embed, err := q.Lease(ctx, domain.LaneEmbedding, "w3", visibility)
		require.NoError(t, err)
		assert.NotNil(t, embed)

		require.NoError(t, q.Ack(ctx, first, nil))
		got, err = q.Lease(ctx, domain.LaneIndexing, "w2", visibility)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, second, got.ID)
	})

	t.Run("AckStoresResult", func(t *testing.T) {
		q := newQueue(t, 3, NewClock().Now)
		id := submit(t, q, domain.TaskKindEmbed, domain.EmbedPayload{})

		_, err := q.Lease(ctx, domain.LaneEmbedding, "w", visibility)
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, id, []byte(`{"embedded":3}`)))

		got, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskSucceeded, got.State)
		var res domain.EmbedResult
		require.NoError(t, got.DecodeResult(&res))
		assert.Equal(t, 3, res.Embedded)

		assert.ErrorIs(t, q.Ack(ctx, id, nil), domain.ErrTaskTerminal)
	})

	t.Run("NackBacksOffThenDeadLetters", func(t *testing.T) {
		clock := NewClock()
		q := newQueue(t, 2, clock.Now)
		id := submit(t, q, domain.TaskKindEmbed, domain.EmbedPayload{})

		_, err := q.Lease(ctx, domain.LaneEmbedding, "w", visibility)
		require.NoError(t, err)
		require.NoError(t, q.Nack(ctx, id, 10*time.Second, errors.New("store down")))

		got, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskRetryQueued, got.State)
		assert.Equal(t, "store down", got.LastError)

		// Not yet available.
		leased, err := q.Lease(ctx, domain.LaneEmbedding, "w", visibility)
		require.NoError(t, err)
		assert.Nil(t, leased)

		clock.Advance(10 * time.Second)
		leased, err = q.Lease(ctx, domain.LaneEmbedding, "w", visibility)
		require.NoError(t, err)
		require.NotNil(t, leased)
		assert.Equal(t, 2, leased.Attempt)

		require.NoError(t, q.Nack(ctx, id, time.Second, errors.New("still down")))
		got, err = q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskDead, got.State)
	})

	t.Run("ExpiredLeaseIsReleased", func(t *testing.T) {
		clock := NewClock()
		q := newQueue(t, 2, clock.Now)
		id := submit(t, q, domain.TaskKindBuildIndex, domain.BuildPayload{})

		_, err := q.Lease(ctx, domain.LaneIndexing, "crashed", visibility)
		require.NoError(t, err)

		clock.Advance(visibility + time.Second)
		got, err := q.Lease(ctx, domain.LaneIndexing, "healthy", visibility)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, 2, got.Attempt)
		assert.Equal(t, "healthy", got.LeasedBy)

		// The crashed worker has lost its lease.
		assert.ErrorIs(t, q.Extend(ctx, id, "crashed", visibility), domain.ErrLeaseLost)

		// Final attempt expires too: dead.
		clock.Advance(visibility + time.Second)
		again, err := q.Lease(ctx, domain.LaneIndexing, "healthy", visibility)
		require.NoError(t, err)
		assert.Nil(t, again)

		got, err = q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskDead, got.State)
	})

	t.Run("ExtendKeepsLease", func(t *testing.T) {
		clock := NewClock()
		q := newQueue(t, 3, clock.Now)
		id := submit(t, q, domain.TaskKindBuildIndex, domain.BuildPayload{})

		_, err := q.Lease(ctx, domain.LaneIndexing, "w", visibility)
		require.NoError(t, err)

		clock.Advance(visibility / 2)
		require.NoError(t, q.Extend(ctx, id, "w", visibility))
		clock.Advance(visibility * 3 / 4)

		other, err := q.Lease(ctx, domain.LaneIndexing, "other", visibility)
		require.NoError(t, err)
		assert.Nil(t, other)

		assert.ErrorIs(t, q.Extend(ctx, id, "other", visibility), domain.ErrLeaseLost)
	})

	t.Run("BuryAndRetry", func(t *testing.T) {
		q := newQueue(t, 3, NewClock().Now)
		id := submit(t, q, domain.TaskKindEmbed, domain.EmbedPayload{})

		_, err := q.Lease(ctx, domain.LaneEmbedding, "w", visibility)
		require.NoError(t, err)
		require.NoError(t, q.Bury(ctx, id, domain.ErrCorruptBlob))

		got, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskDead, got.State)
		assert.Contains(t, got.LastError, "corrupt blob")

		require.NoError(t, q.Retry(ctx, id))
		got, err = q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskQueued, got.State)
		assert.Equal(t, 0, got.Attempt)

		assert.ErrorIs(t, q.Retry(ctx, id), domain.ErrInvalidInput)
	})

	t.Run("Revoke", func(t *testing.T) {
		q := newQueue(t, 3, NewClock().Now)
		queued := submit(t, q, domain.TaskKindEmbed, domain.EmbedPayload{})
		running := submit(t, q, domain.TaskKindBuildIndex, domain.BuildPayload{})

		_, err := q.Lease(ctx, domain.LaneIndexing, "w", visibility)
		require.NoError(t, err)

		require.NoError(t, q.Revoke(ctx, queued))
		require.NoError(t, q.Revoke(ctx, running))

		got, err := q.Lease(ctx, domain.LaneEmbedding, "w", visibility)
		require.NoError(t, err)
		assert.Nil(t, got)

		assert.ErrorIs(t, q.Extend(ctx, running, "w", visibility), domain.ErrLeaseLost)
		assert.ErrorIs(t, q.Ack(ctx, running, nil), domain.ErrTaskTerminal)
		assert.ErrorIs(t, q.Revoke(ctx, running), domain.ErrTaskTerminal)
	})

	t.Run("GetMissing", func(t *testing.T) {
		q := newQueue(t, 3, NewClock().Now)
		_, err := q.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, q.Ack(ctx, "missing", nil), domain.ErrNotFound)
		assert.ErrorIs(t, q.Revoke(ctx, "missing"), domain.ErrNotFound)
	})

	t.Run("ListFilters", func(t *testing.T) {
		clock := NewClock()
		q := newQueue(t, 3, clock.Now)
		var embeds []string
		for i := 0; i < 3; i++ {
			embeds = append(embeds, submit(t, q, domain.TaskKindEmbed, domain.EmbedPayload{}))
			clock.Advance(time.Millisecond)
		}
		submit(t, q, domain.TaskKindStats, domain.MaintenancePayload{})

		all, err := q.List(ctx, domain.TaskFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		lane, err := q.List(ctx, domain.TaskFilter{Lane: domain.LaneEmbedding})
		require.NoError(t, err)
		require.Len(t, lane, 3)
		for i, task := range lane {
			assert.Equal(t, embeds[i], task.ID)
		}

		limited, err := q.List(ctx, domain.TaskFilter{Kind: domain.TaskKindEmbed, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		require.NoError(t, q.Revoke(ctx, embeds[1]))
		revoked, err := q.List(ctx, domain.TaskFilter{State: domain.TaskRevoked})
		require.NoError(t, err)
		require.Len(t, revoked, 1)
		assert.Equal(t, embeds[1], revoked[0].ID)
	})

	t.Run("ConcurrentLeaseIsExclusive", func(t *testing.T) {
		q := newQueue(t, 3, NewClock().Now)
		const n = 50
		for i := 0; i < n; i++ {
			submit(t, q, domain.TaskKindEmbed, domain.EmbedPayload{})
		}

		var mu sync.Mutex
		seen := make(map[string]int)
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					task, err := q.Lease(ctx, domain.LaneEmbedding, "w", visibility)
					if err != nil || task == nil {
						return
					}
					mu.Lock()
					seen[task.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, n)
		for id, count := range seen {
			assert.Equal(t, 1, count, "task %s leased more than once", id)
		}
	})
}
