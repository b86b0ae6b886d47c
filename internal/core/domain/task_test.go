package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaneFor(t *testing.T) {
	tests := []struct {
		kind TaskKind
		lane Lane
	}{
		{TaskKindEmbed, LaneEmbedding},
		{TaskKindBuildIndex, LaneIndexing},
		{TaskKindHotSwap, LaneIndexing},
		{TaskKindCleanup, LaneMaintenance},
		{TaskKindStats, LaneMaintenance},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			lane, err := LaneFor(tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.lane, lane)
			assert.True(t, tt.kind.IsValid())
		})
	}
}

func TestLaneFor_Unknown(t *testing.T) {
	_, err := LaneFor("reindex_everything")
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.False(t, TaskKind("reindex_everything").IsValid())
}

func TestTaskState_IsTerminal(t *testing.T) {
	assert.False(t, TaskQueued.IsTerminal())
	assert.False(t, TaskRunning.IsTerminal())
	assert.False(t, TaskRetryQueued.IsTerminal())
	assert.True(t, TaskSucceeded.IsTerminal())
	assert.True(t, TaskDead.IsTerminal())
	assert.True(t, TaskRevoked.IsTerminal())

	assert.True(t, TaskQueued.IsLeasable())
	assert.True(t, TaskRetryQueued.IsLeasable())
	assert.False(t, TaskRunning.IsLeasable())
}

func TestNewTask_RoutesAndEncodesPayload(t *testing.T) {
	task, err := NewTask(TaskKindEmbed, EmbedPayload{
		CycleID: "c1",
		BatchID: "c1.00000",
		DocIDs:  []string{"a", "b"},
	})
	require.NoError(t, err)

	assert.Equal(t, LaneEmbedding, task.Lane)
	assert.Equal(t, TaskQueued, task.State)

	var payload EmbedPayload
	require.NoError(t, task.DecodePayload(&payload))
	assert.Equal(t, "c1.00000", payload.BatchID)
	assert.Equal(t, []string{"a", "b"}, payload.DocIDs)
}

func TestTask_DecodePayload_Malformed(t *testing.T) {
	task := &Task{Kind: TaskKindBuildIndex, Payload: []byte("{not json")}
	var payload BuildPayload
	err := task.DecodePayload(&payload)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.True(t, IsDataError(err))
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, Base: time.Second, Max: 10 * time.Second}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 10*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(40))
	assert.Equal(t, time.Second, p.Delay(-1))
	assert.Equal(t, 6, p.MaxAttempts())
}

func TestTaskFilter_Matches(t *testing.T) {
	task := &Task{Kind: TaskKindEmbed, Lane: LaneEmbedding, State: TaskDead}

	assert.True(t, TaskFilter{}.Matches(task))
	assert.True(t, TaskFilter{State: TaskDead}.Matches(task))
	assert.False(t, TaskFilter{Lane: LaneIndexing}.Matches(task))
	assert.False(t, TaskFilter{Kind: TaskKindStats}.Matches(task))
}
