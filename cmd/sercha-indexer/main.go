// Command sercha-indexer runs the vector index refresh pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	busmem "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/bus/memory"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/bus/websocket"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/config/file"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/docsource/filesystem"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/embedding/hash"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/embedding/ollama"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/embedding/ratelimit"
	fsstore "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/objectstore/filesystem"
	objmem "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/objectstore/memory"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/objectstore/s3"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/cli"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/core/services"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
	"github.com/custodia-labs/sercha-indexer/internal/metrics"
	"github.com/custodia-labs/sercha-indexer/internal/normalisers"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("loading .env: %v", err)
	}

	cli.SetVersion(version)
	cli.SetBootstrap(bootstrap)
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// bootstrap loads the configuration in configDir and wires every adapter
// and service.
func bootstrap(ctx context.Context, configDir string) (_ *cli.Services, err error) {
	cfg, err := file.NewConfigStore(configDir)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	settings, err := services.LoadSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading settings from %s: %w", cfg.Path(), err)
	}
	if settings.DataDir == "" {
		settings.DataDir = filepath.Join(filepath.Dir(cfg.Path()), "data")
	}

	var cleanup closers
	defer func() {
		if err != nil {
			_ = cleanup.close()
		}
	}()

	db, err := sqlite.NewStore(settings.DataDir)
	if err != nil {
		return nil, err
	}
	cleanup.add(db.Close)
	logger.Debug("database: %s", db.Path())

	queue := db.TaskQueue(settings.Queue.Retry.MaxRetries + 1)
	refreshes := db.RefreshStore()

	store, err := newObjectStore(ctx, settings)
	if err != nil {
		return nil, err
	}

	bus, hub, err := newBus(settings)
	if err != nil {
		return nil, err
	}
	cleanup.add(bus.Close)

	embedder, err := newEmbedder(settings.Embedding)
	if err != nil {
		return nil, err
	}
	cleanup.add(embedder.Close)

	source := filesystem.New(filesystem.Options{Normaliser: normalisers.Default()})
	cleanup.add(source.Close)

	orchestrator := services.NewOrchestrator(source, queue, refreshes, services.OrchestratorConfig{
		BatchSize:    settings.Pipeline.BatchSize,
		Ceiling:      settings.Pipeline.RefreshCeiling,
		PollInterval: settings.Pipeline.PollInterval,
	})
	cleanup.add(func() error {
		orchestrator.Wait()
		return nil
	})

	pool := services.NewWorkerPool(queue, services.WorkerPoolConfig{
		Lanes:        settings.Lanes,
		Retry:        settings.Queue.Retry,
		Visibility:   settings.Queue.VisibilityTimeout,
		PollInterval: settings.Queue.LeasePollInterval,
	})
	coordinator := services.NewHotSwapCoordinator(bus)
	builder := services.NewIndexBuilder(store, queue, refreshes, services.BuilderConfig{
		IVFThreshold: settings.Index.IVFThreshold,
		NProbe:       settings.Index.NProbe,
		MaxVectors:   settings.Index.MaxVectors,
	})
	maintenance := services.NewMaintenance(store, queue, refreshes, services.MaintenanceConfig{
		RetainVersions: settings.Index.RetainVersions,
		Retention:      settings.Index.Retention,
	})
	services.RegisterHandlers(pool, services.Handlers{
		Embedder:    services.NewEmbeddingWorker(embedder, source, store),
		Builder:     builder,
		Coordinator: coordinator,
		Maintenance: maintenance,
	})

	cache := services.NewIndexCache(store, services.IndexCacheConfig{
		SwapTimeout:   settings.Serving.SwapTimeout,
		ColdStartWait: settings.Serving.ColdStartWait,
	})
	subscriber := services.NewSwapSubscriber(coordinator, cache, services.SwapSubscriberConfig{
		PollInterval: settings.Serving.PollInterval,
	})

	scheduler := services.NewScheduler(settings.Scheduler, db.SchedulerStore(), services.SchedulerOptions{
		Refresh:   orchestrator,
		Queue:     queue,
		SourceRef: settings.Pipeline.SourceRef,
		Watch:     source,
	})

	health := func(ctx context.Context) error {
		_, err := queue.Depth(ctx, domain.LaneIndexing)
		return err
	}

	return &cli.Services{
		Settings:    settings,
		Refresh:     orchestrator,
		Tasks:       services.NewTaskService(queue, pool),
		Search:      services.NewSearchService(cache, embedder),
		Maintenance: maintenance,
		Workers:     pool,
		Scheduler:   scheduler,
		Subscriber:  subscriber,
		NewRouter:   func() chi.Router { return metrics.NewRouter(health) },
		Hub:         hub,
		Close:       cleanup.close,
	}, nil
}

func newObjectStore(ctx context.Context, s domain.Settings) (driven.ObjectStore, error) {
	switch s.Store.Backend {
	case domain.StoreBackendMemory:
		return objmem.NewStore(), nil
	case domain.StoreBackendS3:
		return s3.NewStore(ctx, s3.Config{
			Bucket:   s.Store.Bucket,
			Prefix:   s.Store.Prefix,
			Region:   s.Store.Region,
			Endpoint: s.Store.Endpoint,
		})
	default:
		path := s.Store.Path
		if path == "" {
			path = filepath.Join(s.DataDir, "objects")
		}
		return fsstore.NewStore(path)
	}
}

// newBus returns the bus and, for the websocket backend, the relay
// handler the hub command serves.
func newBus(s domain.Settings) (driven.Bus, http.Handler, error) {
	if s.Bus.Backend != domain.BusBackendWebsocket {
		return busmem.NewBus(), nil, nil
	}
	url := s.Bus.URL
	if url == "" {
		return nil, nil, fmt.Errorf("%w: bus.url is required for the websocket bus", domain.ErrInvalidInput)
	}
	bus, err := websocket.NewBus(url)
	if err != nil {
		return nil, nil, err
	}
	return bus, websocket.NewHub().Routes(), nil
}

func newEmbedder(s domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	var (
		embedder driven.EmbeddingService
		err      error
	)
	switch s.Provider {
	case domain.EmbeddingProviderOpenAI:
		embedder, err = openai.NewEmbeddingService(openai.Config{
			APIKey:     s.APIKey,
			BaseURL:    s.BaseURL,
			Model:      s.Model,
			Dimensions: s.Dimensions,
		})
	case domain.EmbeddingProviderOllama:
		embedder = ollama.NewEmbeddingService(ollama.Config{
			BaseURL:    s.BaseURL,
			Model:      s.Model,
			Dimensions: s.Dimensions,
		})
	default:
		embedder = hash.NewEmbeddingService(s.Dimensions)
	}
	if err != nil {
		return nil, err
	}
	if s.RateLimit > 0 {
		embedder = ratelimit.New(embedder, s.RateLimit, s.Burst)
	}
	return embedder, nil
}
