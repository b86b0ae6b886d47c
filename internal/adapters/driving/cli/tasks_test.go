package cli

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestRevokeCmd_RequiresExactlyOneArg(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	_, err := execute("revoke")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestRevokeCmd(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("revoke", "t-42")
	require.NoError(t, err)
	assert.Contains(t, out, "Task t-42 revoked.")
	assert.Equal(t, []string{"t-42"}, mocks.tasks.revoked)
}

func TestRevokeCmd_TerminalTask(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	mocks.tasks.err = domain.ErrTaskTerminal

	_, err := execute("revoke", "t-42")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTaskTerminal)
}

func TestRevokeCmd_ServiceNotConfigured(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	taskService = nil

	_, err := execute("revoke", "t-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task service not configured")
}

func TestTasksRetryCmd(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("tasks", "retry", "t-dead")
	require.NoError(t, err)
	assert.Contains(t, out, "Task t-dead re-queued.")
	assert.Equal(t, []string{"t-dead"}, mocks.tasks.retried)
}

func TestTasksRetryCmd_NotDead(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	mocks.tasks.err = domain.ErrInvalidInput

	_, err := execute("tasks", "retry", "t-live")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry failed")
}

func TestTasksListCmd_Filter(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	_, err := execute("tasks", "list", "--lane", "embedding", "--kind", "embed", "--state", "dead", "-n", "5")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFilter{
		Lane:  domain.LaneEmbedding,
		Kind:  domain.TaskKindEmbed,
		State: domain.TaskDead,
		Limit: 5,
	}, mocks.tasks.lastFilter)
}

func TestTasksListCmd_Table(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mocks.tasks.tasks = []domain.Task{
		{ID: "t-1", Kind: domain.TaskKindEmbed, Lane: domain.LaneEmbedding, State: domain.TaskDead, Attempt: 3, LastError: "embedding service unavailable", UpdatedAt: now},
		{ID: "t-2", Kind: domain.TaskKindBuildIndex, Lane: domain.LaneIndexing, State: domain.TaskSucceeded, Attempt: 1, UpdatedAt: now},
	}

	out, err := execute("tasks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "t-1")
	assert.Contains(t, out, "error: embedding service unavailable")
	assert.Contains(t, out, "t-2")
	assert.Contains(t, out, "2026-01-02T03:04:05Z")
}

func TestTasksListCmd_JSON(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	mocks.tasks.tasks = []domain.Task{{ID: "t-1", Kind: domain.TaskKindStats}}

	out, err := execute("tasks", "list", "--json")
	require.NoError(t, err)

	var tasks []domain.Task
	require.NoError(t, json.Unmarshal([]byte(out), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "t-1", tasks[0].ID)
}

func TestTasksListCmd_InvalidFilter(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	mocks.tasks.err = domain.ErrInvalidInput

	_, err := execute("tasks", "list", "--lane", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter")
}

func TestTasksListCmd_Empty(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("tasks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No tasks.")
}
