package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestLoadSettings_ReturnsDefaults(t *testing.T) {
	settings, err := LoadSettings(memory.NewConfigStore(nil))

	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), settings)
}

func TestLoadSettings_NilStore(t *testing.T) {
	settings, err := LoadSettings(nil)

	require.NoError(t, err)
	assert.Equal(t, domain.MaxBatchSize, settings.Pipeline.BatchSize)
}

func TestLoadSettings_ReturnsStoredValues(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{
		"pipeline.batch_size":           250,
		"pipeline.refresh_ceiling":      "20m",
		"queue.max_retries":             5,
		"queue.backoff_base":            "1s",
		"queue.visibility_timeout":      90,
		"lanes.embedding.concurrency":   4,
		"index.ivf_threshold":           1000,
		"index.retain_versions":         2,
		"serving.swap_timeout":          "30s",
		"embedding.provider":            "ollama",
		"embedding.model":               "nomic-embed-text",
		"embedding.dimensions":          768,
		"embedding.rate_limit":          12.5,
		"store.backend":                 "s3",
		"store.bucket":                  "vectors",
		"bus.backend":                   "websocket",
		"bus.url":                       "ws://indexer:9470/bus",
		"scheduler.enabled":             false,
		"scheduler.refresh_interval":    "1h",
		"scheduler.stats_interval":      "0s",
		"lanes.maintenance.concurrency": 0,
	})

	s, err := LoadSettings(store)

	require.NoError(t, err)
	assert.Equal(t, 250, s.Pipeline.BatchSize)
	assert.Equal(t, 20*time.Minute, s.Pipeline.RefreshCeiling)
	assert.Equal(t, 5, s.Queue.Retry.MaxRetries)
	assert.Equal(t, time.Second, s.Queue.Retry.Base)
	assert.Equal(t, 90*time.Second, s.Queue.VisibilityTimeout)
	assert.Equal(t, 4, s.Lanes.EmbeddingConcurrency)
	assert.Equal(t, 0, s.Lanes.MaintenanceConcurrency)
	assert.Equal(t, 1000, s.Index.IVFThreshold)
	assert.Equal(t, 2, s.Index.RetainVersions)
	assert.Equal(t, 30*time.Second, s.Serving.SwapTimeout)
	assert.Equal(t, domain.EmbeddingProviderOllama, s.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text", s.Embedding.Model)
	assert.Equal(t, 768, s.Embedding.Dimensions)
	assert.InDelta(t, 12.5, s.Embedding.RateLimit, 1e-9)
	assert.Equal(t, domain.StoreBackendS3, s.Store.Backend)
	assert.Equal(t, "vectors", s.Store.Bucket)
	assert.Equal(t, domain.BusBackendWebsocket, s.Bus.Backend)
	assert.False(t, s.Scheduler.Enabled)

	refresh := s.Scheduler.GetTaskConfig(domain.TaskIDCorpusRefresh)
	assert.True(t, refresh.Enabled)
	assert.Equal(t, time.Hour, refresh.Interval)
	assert.False(t, s.Scheduler.GetTaskConfig(domain.TaskIDIndexStats).Enabled)
	assert.True(t, s.Scheduler.GetTaskConfig(domain.TaskIDIndexCleanup).Enabled)
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		want   error
	}{
		{"batch size too large", map[string]any{"pipeline.batch_size": 1001}, domain.ErrInvalidInput},
		{"batch size zero", map[string]any{"pipeline.batch_size": 0}, domain.ErrInvalidInput},
		{"negative retries", map[string]any{"queue.max_retries": -1}, domain.ErrInvalidInput},
		{"unknown provider", map[string]any{"embedding.provider": "word2vec"}, domain.ErrUnsupportedType},
		{"unknown store", map[string]any{"store.backend": "ftp"}, domain.ErrUnsupportedType},
		{"s3 without bucket", map[string]any{"store.backend": "s3"}, domain.ErrInvalidInput},
		{"unknown bus", map[string]any{"bus.backend": "kafka"}, domain.ErrUnsupportedType},
		{"parallel builds", map[string]any{"lanes.indexing.concurrency": 4}, domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSettings(memory.NewConfigStore(tt.values))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateSettings_IndexingLane(t *testing.T) {
	s := domain.DefaultSettings()
	s.Lanes.IndexingConcurrency = 4
	assert.ErrorIs(t, ValidateSettings(s), domain.ErrInvalidInput)

	s.Lanes.IndexingConcurrency = 0
	assert.NoError(t, ValidateSettings(s))
}

func TestLoadSettings_OpenAIKeyFromEnvironment(t *testing.T) {
	t.Setenv(EnvOpenAIKey, "sk-from-env")

	s, err := LoadSettings(memory.NewConfigStore(map[string]any{"embedding.provider": "openai"}))
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", s.Embedding.APIKey)

	s, err = LoadSettings(memory.NewConfigStore(map[string]any{
		"embedding.provider": "openai",
		"embedding.api_key":  "sk-from-config",
	}))
	require.NoError(t, err)
	assert.Equal(t, "sk-from-config", s.Embedding.APIKey)
}
