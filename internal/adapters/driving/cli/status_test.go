package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestStatusCmd_Use(t *testing.T) {
	assert.Equal(t, "status [cycle-id]", statusCmd.Use)
}

func TestStatusCmd_ServiceNotConfigured(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	refreshService = nil

	_, err := execute("status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh service not configured")
}

func TestStatusCmd_SingleCycle(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	mocks.refresh.stats = domain.RefreshStats{
		CycleID:          "c-7",
		State:            domain.RefreshPublished,
		TotalBatches:     100,
		SucceededBatches: 99,
		FailedBatches:    1,
		VersionID:        "v-abc",
	}

	out, err := execute("status", "c-7")
	require.NoError(t, err)
	assert.Contains(t, out, "Cycle:     c-7")
	assert.Contains(t, out, "100 total, 99 succeeded, 1 failed")
	assert.Contains(t, out, "Version:   v-abc")
}

func TestStatusCmd_NotFound(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	mocks.refresh.statusErr = domain.ErrNotFound

	_, err := execute("status", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatusCmd_ListCycles(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	mocks.refresh.cycles = []domain.RefreshStats{
		{CycleID: "c-2", State: domain.RefreshEmbedding, TotalDocuments: 10, TotalBatches: 1},
		{CycleID: "c-1", State: domain.RefreshPublished, TotalDocuments: 10, TotalBatches: 1, VersionID: "v-0123456789abcdef"},
	}

	out, err := execute("status")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "CYCLE")
	assert.Contains(t, lines[1], "c-2")
	assert.Contains(t, lines[2], "v-0123456789ab")
	assert.NotContains(t, lines[2], "v-0123456789abc")
}

func TestStatusCmd_LimitFlag(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	mocks.refresh.cycles = []domain.RefreshStats{{CycleID: "c-2"}, {CycleID: "c-1"}}

	out, err := execute("status", "-n", "1", "--json")
	require.NoError(t, err)

	var cycles []domain.RefreshStats
	require.NoError(t, json.Unmarshal([]byte(out), &cycles))
	require.Len(t, cycles, 1)
	assert.Equal(t, "c-2", cycles[0].CycleID)
}

func TestStatusCmd_Empty(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("status")
	require.NoError(t, err)
	assert.Contains(t, out, "No refresh cycles.")
}
