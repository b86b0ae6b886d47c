package cli

import (
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestServeCmd_StartsSubscriber(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	newRouter = func() chi.Router { return chi.NewRouter() }
	mocks.search.matches = []domain.DocMatch{{DocID: "d", VersionID: "v-live"}}

	stop := runInBackground(t, "serve")
	require.Eventually(t, mocks.subscriber.isStarted, 2*time.Second, 5*time.Millisecond)

	out, err := stop()
	require.NoError(t, err)
	assert.Contains(t, out, "Serving node started.")
	assert.Contains(t, out, "Last served version: v-live")
	assert.True(t, mocks.subscriber.isStopped())
	assert.False(t, mocks.workers.isStarted())
}

func TestServeCmd_WithWorkers(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	stop := runInBackground(t, "serve", "--workers", "--addr", "127.0.0.1:0")
	require.Eventually(t, func() bool {
		return mocks.subscriber.isStarted() && mocks.workers.isStarted() && mocks.scheduler.isStarted()
	}, 2*time.Second, 5*time.Millisecond)

	_, err := stop()
	require.NoError(t, err)
}

func TestServeCmd_NotConfigured(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	swapSubscriber = nil

	_, err := execute("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "swap subscriber not configured")
}

func TestHubCmd_NotConfigured(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	_, err := execute("hub")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus hub not configured")
}
