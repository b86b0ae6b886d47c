package domain

import (
	"runtime"
	"time"
)

// StoreBackend identifies the object store implementation.
type StoreBackend string

// Available object store backends.
const (
	StoreBackendMemory     StoreBackend = "memory"
	StoreBackendFilesystem StoreBackend = "filesystem"
	StoreBackendS3         StoreBackend = "s3"
)

// IsValid returns true if the store backend is recognised.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreBackendMemory, StoreBackendFilesystem, StoreBackendS3:
		return true
	default:
		return false
	}
}

// BusBackend identifies the message bus implementation.
type BusBackend string

// Available bus backends.
const (
	BusBackendMemory    BusBackend = "memory"
	BusBackendWebsocket BusBackend = "websocket"
)

// IsValid returns true if the bus backend is recognised.
func (b BusBackend) IsValid() bool {
	return b == BusBackendMemory || b == BusBackendWebsocket
}

// EmbeddingProvider identifies an embedding service provider.
type EmbeddingProvider string

// Available embedding providers.
const (
	// EmbeddingProviderOllama is a local Ollama instance.
	EmbeddingProviderOllama EmbeddingProvider = "ollama"

	// EmbeddingProviderOpenAI is the OpenAI cloud API.
	EmbeddingProviderOpenAI EmbeddingProvider = "openai"

	// EmbeddingProviderHash is a deterministic offline encoder.
	EmbeddingProviderHash EmbeddingProvider = "hash"
)

// IsValid returns true if the provider is recognised.
func (p EmbeddingProvider) IsValid() bool {
	switch p {
	case EmbeddingProviderOllama, EmbeddingProviderOpenAI, EmbeddingProviderHash:
		return true
	default:
		return false
	}
}

// PipelineSettings controls orchestration.
type PipelineSettings struct {
	// BatchSize is the number of documents per embedding task.
	BatchSize int

	// RefreshCeiling bounds how long a cycle waits for embedding tasks.
	RefreshCeiling time.Duration

	// PollInterval is how often the orchestrator checks task states.
	PollInterval time.Duration

	// SourceRef is the default corpus reference for scheduled refreshes.
	SourceRef string
}

// QueueSettings controls leasing and retries.
type QueueSettings struct {
	Retry             RetryPolicy
	VisibilityTimeout time.Duration
	LeasePollInterval time.Duration
}

// LaneSettings controls per-lane concurrency.
type LaneSettings struct {
	EmbeddingConcurrency   int
	IndexingConcurrency    int
	MaintenanceConcurrency int
}

// Concurrency returns the worker count of a lane.
func (s LaneSettings) Concurrency(lane Lane) int {
	switch lane {
	case LaneEmbedding:
		return s.EmbeddingConcurrency
	case LaneIndexing:
		return s.IndexingConcurrency
	case LaneMaintenance:
		return s.MaintenanceConcurrency
	default:
		return 0
	}
}

// IndexSettings controls index construction and retention.
type IndexSettings struct {
	// IVFThreshold is the vector count at which builds switch from the
	// exact flat index to the clustered IVF index.
	IVFThreshold int

	// NProbe is the number of IVF clusters scanned per query.
	NProbe int

	// MaxVectors fails a build that would exceed it. Zero disables the check.
	MaxVectors int

	// RetainVersions is how many of the most recent versions cleanup always keeps.
	RetainVersions int

	// Retention is how long older versions are kept before cleanup deletes them.
	Retention time.Duration
}

// ServingSettings controls the serving-side cache.
type ServingSettings struct {
	// PollInterval is how often a node re-reads the latest pointer.
	PollInterval time.Duration

	// SwapTimeout bounds loading and validating an announced version.
	SwapTimeout time.Duration

	// ColdStartWait is how long a query waits for the first load
	// before falling back to a synchronous load.
	ColdStartWait time.Duration
}

// EmbeddingSettings selects and configures the embedding provider.
type EmbeddingSettings struct {
	Provider   EmbeddingProvider
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int

	// RateLimit is the sustained request rate. Zero disables limiting.
	RateLimit float64
	Burst     int
}

// StoreSettings selects and configures the object store.
type StoreSettings struct {
	Backend  StoreBackend
	Path     string
	Bucket   string
	Prefix   string
	Endpoint string
	Region   string
}

// BusSettings selects and configures the bus.
type BusSettings struct {
	Backend BusBackend
	URL     string
	Listen  string
}

// Settings is the full runtime configuration.
type Settings struct {
	DataDir     string
	MetricsAddr string
	Pipeline    PipelineSettings
	Queue       QueueSettings
	Lanes       LaneSettings
	Index       IndexSettings
	Serving     ServingSettings
	Embedding   EmbeddingSettings
	Store       StoreSettings
	Bus         BusSettings
	Scheduler   SchedulerConfig
}

// DefaultSettings returns sensible defaults for every setting.
func DefaultSettings() Settings {
	return Settings{
		MetricsAddr: ":9464",
		Pipeline: PipelineSettings{
			BatchSize:      MaxBatchSize,
			RefreshCeiling: time.Hour,
			PollInterval:   time.Second,
		},
		Queue: QueueSettings{
			Retry:             DefaultRetryPolicy(),
			VisibilityTimeout: 5 * time.Minute,
			LeasePollInterval: 250 * time.Millisecond,
		},
		Lanes: LaneSettings{
			EmbeddingConcurrency:   runtime.NumCPU(),
			IndexingConcurrency:    1,
			MaintenanceConcurrency: 1,
		},
		Index: IndexSettings{
			IVFThreshold:   500000,
			NProbe:         8,
			RetainVersions: 3,
			Retention:      7 * 24 * time.Hour,
		},
		Serving: ServingSettings{
			PollInterval:  30 * time.Second,
			SwapTimeout:   2 * time.Minute,
			ColdStartWait: 5 * time.Second,
		},
		Embedding: EmbeddingSettings{
			Provider:   EmbeddingProviderHash,
			Dimensions: 384,
		},
		Store: StoreSettings{
			Backend: StoreBackendFilesystem,
		},
		Bus: BusSettings{
			Backend: BusBackendMemory,
		},
		Scheduler: DefaultSchedulerConfig(),
	}
}
