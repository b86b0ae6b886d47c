package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestGCCmd(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	mocks.maintenance.report = domain.CleanupReport{
		KeptVersions:    []string{"v-3", "v-2"},
		DeletedVersions: []string{"v-1"},
		DeletedCycles:   []string{"c-1"},
		DeletedKeys:     5,
	}

	out, err := execute("gc")
	require.NoError(t, err)
	assert.Contains(t, out, "Kept 2 versions, deleted 1 versions and 1 cycles (5 objects).")
	assert.Contains(t, out, "- v-1")
}

func TestGCCmd_JSON(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	mocks.maintenance.report = domain.CleanupReport{DeletedKeys: 2}

	out, err := execute("gc", "--json")
	require.NoError(t, err)

	var report domain.CleanupReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.DeletedKeys)
}

func TestGCCmd_Failure(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	mocks.maintenance.err = domain.ErrStoreUnavailable

	_, err := execute("gc")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestStatsCmd(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	mocks.maintenance.stats = domain.IndexStats{
		LatestVersion:  "v-9",
		LatestVectors:  1200,
		LatestKind:     domain.IndexKindFlat,
		StoredVersions: 3,
		BatchCycles:    2,
		QueueDepth:     map[domain.Lane]int{domain.LaneIndexing: 1, domain.LaneEmbedding: 7},
	}

	out, err := execute("stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Latest version:  v-9")
	assert.Contains(t, out, "Vectors:         1200 (flat)")
	assert.Contains(t, out, "Stored versions: 3")
	assert.Regexp(t, `(?s)embedding\s+7.*indexing\s+1`, out)
}

func TestStatsCmd_NoIndex(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Latest version:  (none)")
	assert.NotContains(t, out, "Vectors:")
}

func TestMaintenanceCmds_ServiceNotConfigured(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	maintenanceService = nil

	for _, name := range []string{"gc", "stats"} {
		_, err := execute(name)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "maintenance service not configured")
	}
}
