package services

import (
	"fmt"
	"os"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyDataDir     = "data_dir"
	keyMetricsAddr = "metrics.addr"

	keyBatchSize      = "pipeline.batch_size"
	keyRefreshCeiling = "pipeline.refresh_ceiling"
	keyPipelinePoll   = "pipeline.poll_interval"
	keySourceRef      = "pipeline.source"

	keyMaxRetries   = "queue.max_retries"
	keyBackoffBase  = "queue.backoff_base"
	keyBackoffMax   = "queue.backoff_max"
	keyVisibility   = "queue.visibility_timeout"
	keyLeasePoll    = "queue.lease_poll_interval"
	keyEmbedLanes   = "lanes.embedding.concurrency"
	keyIndexLanes   = "lanes.indexing.concurrency"
	keyMaintLanes   = "lanes.maintenance.concurrency"
	keyIVFThreshold = "index.ivf_threshold"
	keyNProbe       = "index.nprobe"
	keyMaxVectors   = "index.max_vectors"
	keyRetain       = "index.retain_versions"
	keyRetention    = "index.retention"

	keyServingPoll   = "serving.poll_interval"
	keySwapTimeout   = "serving.swap_timeout"
	keyColdStartWait = "serving.cold_start_wait"

	keyEmbedProvider  = "embedding.provider"
	keyEmbedModel     = "embedding.model"
	keyEmbedBaseURL   = "embedding.base_url"
	keyEmbedAPIKey    = "embedding.api_key"
	keyEmbedDims      = "embedding.dimensions"
	keyEmbedRateLimit = "embedding.rate_limit"
	keyEmbedBurst     = "embedding.burst"

	keyStoreBackend  = "store.backend"
	keyStorePath     = "store.path"
	keyStoreBucket   = "store.bucket"
	keyStorePrefix   = "store.prefix"
	keyStoreEndpoint = "store.endpoint"
	keyStoreRegion   = "store.region"

	keyBusBackend = "bus.backend"
	keyBusURL     = "bus.url"
	keyBusListen  = "bus.listen"

	keySchedulerEnabled = "scheduler.enabled"
	keyRefreshInterval  = "scheduler.refresh_interval"
	keyCleanupInterval  = "scheduler.cleanup_interval"
	keyStatsInterval    = "scheduler.stats_interval"
)

// EnvOpenAIKey is read when no embedding API key is configured.
//
//nolint:gosec // G101: environment variable name, not a credential.
const EnvOpenAIKey = "OPENAI_API_KEY"

// LoadSettings reads the runtime configuration from the config store.
// Missing keys keep their defaults; invalid values are rejected.
func LoadSettings(cfg driven.ConfigStore) (domain.Settings, error) {
	s := domain.DefaultSettings()
	if cfg == nil {
		return s, nil
	}
	r := settingsReader{cfg: cfg}

	s.DataDir = r.getString(keyDataDir, s.DataDir)
	s.MetricsAddr = r.getString(keyMetricsAddr, s.MetricsAddr)

	s.Pipeline.BatchSize = r.getInt(keyBatchSize, s.Pipeline.BatchSize)
	s.Pipeline.RefreshCeiling = r.getDuration(keyRefreshCeiling, s.Pipeline.RefreshCeiling)
	s.Pipeline.PollInterval = r.getDuration(keyPipelinePoll, s.Pipeline.PollInterval)
	s.Pipeline.SourceRef = r.getString(keySourceRef, s.Pipeline.SourceRef)

	s.Queue.Retry.MaxRetries = r.getInt(keyMaxRetries, s.Queue.Retry.MaxRetries)
	s.Queue.Retry.Base = r.getDuration(keyBackoffBase, s.Queue.Retry.Base)
	s.Queue.Retry.Max = r.getDuration(keyBackoffMax, s.Queue.Retry.Max)
	s.Queue.VisibilityTimeout = r.getDuration(keyVisibility, s.Queue.VisibilityTimeout)
	s.Queue.LeasePollInterval = r.getDuration(keyLeasePoll, s.Queue.LeasePollInterval)

	s.Lanes.EmbeddingConcurrency = r.getInt(keyEmbedLanes, s.Lanes.EmbeddingConcurrency)
	s.Lanes.IndexingConcurrency = r.getInt(keyIndexLanes, s.Lanes.IndexingConcurrency)
	s.Lanes.MaintenanceConcurrency = r.getInt(keyMaintLanes, s.Lanes.MaintenanceConcurrency)

	s.Index.IVFThreshold = r.getInt(keyIVFThreshold, s.Index.IVFThreshold)
	s.Index.NProbe = r.getInt(keyNProbe, s.Index.NProbe)
	s.Index.MaxVectors = r.getInt(keyMaxVectors, s.Index.MaxVectors)
	s.Index.RetainVersions = r.getInt(keyRetain, s.Index.RetainVersions)
	s.Index.Retention = r.getDuration(keyRetention, s.Index.Retention)

	s.Serving.PollInterval = r.getDuration(keyServingPoll, s.Serving.PollInterval)
	s.Serving.SwapTimeout = r.getDuration(keySwapTimeout, s.Serving.SwapTimeout)
	s.Serving.ColdStartWait = r.getDuration(keyColdStartWait, s.Serving.ColdStartWait)

	s.Embedding.Provider = domain.EmbeddingProvider(r.getString(keyEmbedProvider, string(s.Embedding.Provider)))
	s.Embedding.Model = r.getString(keyEmbedModel, s.Embedding.Model)
	s.Embedding.BaseURL = r.getString(keyEmbedBaseURL, s.Embedding.BaseURL)
	s.Embedding.APIKey = r.getString(keyEmbedAPIKey, s.Embedding.APIKey)
	s.Embedding.Dimensions = r.getInt(keyEmbedDims, s.Embedding.Dimensions)
	s.Embedding.RateLimit = r.getFloat(keyEmbedRateLimit, s.Embedding.RateLimit)
	s.Embedding.Burst = r.getInt(keyEmbedBurst, s.Embedding.Burst)
	if s.Embedding.APIKey == "" && s.Embedding.Provider == domain.EmbeddingProviderOpenAI {
		s.Embedding.APIKey = os.Getenv(EnvOpenAIKey)
	}

	s.Store.Backend = domain.StoreBackend(r.getString(keyStoreBackend, string(s.Store.Backend)))
	s.Store.Path = r.getString(keyStorePath, s.Store.Path)
	s.Store.Bucket = r.getString(keyStoreBucket, s.Store.Bucket)
	s.Store.Prefix = r.getString(keyStorePrefix, s.Store.Prefix)
	s.Store.Endpoint = r.getString(keyStoreEndpoint, s.Store.Endpoint)
	s.Store.Region = r.getString(keyStoreRegion, s.Store.Region)

	s.Bus.Backend = domain.BusBackend(r.getString(keyBusBackend, string(s.Bus.Backend)))
	s.Bus.URL = r.getString(keyBusURL, s.Bus.URL)
	s.Bus.Listen = r.getString(keyBusListen, s.Bus.Listen)

	s.Scheduler.Enabled = r.getBool(keySchedulerEnabled, s.Scheduler.Enabled)
	r.setInterval(&s.Scheduler, domain.TaskIDCorpusRefresh, keyRefreshInterval)
	r.setInterval(&s.Scheduler, domain.TaskIDIndexCleanup, keyCleanupInterval)
	r.setInterval(&s.Scheduler, domain.TaskIDIndexStats, keyStatsInterval)

	if err := ValidateSettings(s); err != nil {
		return domain.Settings{}, err
	}
	return s, nil
}

// ValidateSettings rejects settings the pipeline cannot run with.
func ValidateSettings(s domain.Settings) error {
	switch {
	case s.Pipeline.BatchSize < 1 || s.Pipeline.BatchSize > domain.MaxBatchSize:
		return fmt.Errorf("%w: %s must be between 1 and %d, got %d",
			domain.ErrInvalidInput, keyBatchSize, domain.MaxBatchSize, s.Pipeline.BatchSize)
	case s.Pipeline.RefreshCeiling <= 0:
		return fmt.Errorf("%w: %s must be positive", domain.ErrInvalidInput, keyRefreshCeiling)
	case s.Queue.Retry.MaxRetries < 0:
		return fmt.Errorf("%w: %s must not be negative", domain.ErrInvalidInput, keyMaxRetries)
	case s.Queue.VisibilityTimeout <= 0:
		return fmt.Errorf("%w: %s must be positive", domain.ErrInvalidInput, keyVisibility)
	case s.Lanes.EmbeddingConcurrency < 0 || s.Lanes.IndexingConcurrency < 0 || s.Lanes.MaintenanceConcurrency < 0:
		return fmt.Errorf("%w: lane concurrency must not be negative", domain.ErrInvalidInput)
	case s.Lanes.IndexingConcurrency > 1:
		return fmt.Errorf("%w: %s must be 0 or 1, got %d", domain.ErrInvalidInput, keyIndexLanes, s.Lanes.IndexingConcurrency)
	case s.Embedding.Dimensions < 0:
		return fmt.Errorf("%w: %s must not be negative", domain.ErrInvalidInput, keyEmbedDims)
	case !s.Embedding.Provider.IsValid():
		return fmt.Errorf("%w: %s %q", domain.ErrUnsupportedType, keyEmbedProvider, s.Embedding.Provider)
	case !s.Store.Backend.IsValid():
		return fmt.Errorf("%w: %s %q", domain.ErrUnsupportedType, keyStoreBackend, s.Store.Backend)
	case s.Store.Backend == domain.StoreBackendS3 && s.Store.Bucket == "":
		return fmt.Errorf("%w: %s is required for the s3 backend", domain.ErrInvalidInput, keyStoreBucket)
	case !s.Bus.Backend.IsValid():
		return fmt.Errorf("%w: %s %q", domain.ErrUnsupportedType, keyBusBackend, s.Bus.Backend)
	}
	return nil
}

type settingsReader struct {
	cfg driven.ConfigStore
}

func (r settingsReader) getString(key, defaultVal string) string {
	if val := r.cfg.GetString(key); val != "" {
		return val
	}
	return defaultVal
}

func (r settingsReader) getInt(key string, defaultVal int) int {
	if _, ok := r.cfg.Get(key); ok {
		return r.cfg.GetInt(key)
	}
	return defaultVal
}

func (r settingsReader) getFloat(key string, defaultVal float64) float64 {
	if _, ok := r.cfg.Get(key); ok {
		return r.cfg.GetFloat(key)
	}
	return defaultVal
}

func (r settingsReader) getBool(key string, defaultVal bool) bool {
	if _, ok := r.cfg.Get(key); ok {
		return r.cfg.GetBool(key)
	}
	return defaultVal
}

func (r settingsReader) getDuration(key string, defaultVal time.Duration) time.Duration {
	if d := r.cfg.GetDuration(key); d > 0 {
		return d
	}
	return defaultVal
}

// setInterval overrides a trigger interval. A zero or negative value disables the trigger.
func (r settingsReader) setInterval(cfg *domain.SchedulerConfig, taskID, key string) {
	if _, ok := r.cfg.Get(key); !ok {
		return
	}
	if cfg.TaskConfigs == nil {
		cfg.TaskConfigs = make(map[string]domain.TaskConfig)
	}
	d := r.cfg.GetDuration(key)
	cfg.TaskConfigs[taskID] = domain.TaskConfig{Enabled: d > 0, Interval: d}
}
