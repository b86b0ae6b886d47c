package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	busmem "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/bus/memory"
	docmem "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/docsource/memory"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/embedding/hash"
	objmem "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/objectstore/memory"
	queuemem "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/queue/memory"
	storemem "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

const (
	testDims   = 32
	testCorpus = "corpus"
)

// pipeline wires every service over in-memory adapters.
type pipeline struct {
	source    *docmem.Source
	queue     *queuemem.TaskQueue
	store     *objmem.Store
	refreshes *storemem.RefreshStore
	bus       *busmem.Bus
	embedder  *hash.EmbeddingService

	pool        *WorkerPool
	worker      *EmbeddingWorker
	orch        *Orchestrator
	builder     *IndexBuilder
	coordinator *HotSwapCoordinator
	maintenance *Maintenance
}

func newPipeline(t *testing.T, batchSize int) *pipeline {
	t.Helper()
	p := &pipeline{
		source:    docmem.NewSource(),
		queue:     queuemem.NewTaskQueue(3),
		store:     objmem.NewStore(),
		refreshes: storemem.NewRefreshStore(),
		bus:       busmem.NewBus(),
		embedder:  hash.NewEmbeddingService(testDims),
	}
	t.Cleanup(func() { _ = p.bus.Close() })

	p.pool = NewWorkerPool(p.queue, WorkerPoolConfig{
		Lanes: domain.LaneSettings{
			EmbeddingConcurrency:   4,
			IndexingConcurrency:    1,
			MaintenanceConcurrency: 1,
		},
		Retry:        domain.RetryPolicy{MaxRetries: 2, Base: time.Millisecond, Max: 5 * time.Millisecond},
		Visibility:   time.Second,
		PollInterval: 2 * time.Millisecond,
		Name:         "test",
	})
	p.worker = NewEmbeddingWorker(p.embedder, p.source, p.store)
	p.orch = NewOrchestrator(p.source, p.queue, p.refreshes, OrchestratorConfig{
		BatchSize:    batchSize,
		Ceiling:      30 * time.Second,
		PollInterval: 2 * time.Millisecond,
	})
	p.builder = NewIndexBuilder(p.store, p.queue, p.refreshes, BuilderConfig{})
	p.coordinator = NewHotSwapCoordinator(p.bus)
	p.maintenance = NewMaintenance(p.store, p.queue, p.refreshes, MaintenanceConfig{RetainVersions: 1, Retention: time.Hour})

	RegisterHandlers(p.pool, Handlers{
		Embedder:    p.worker,
		Builder:     p.builder,
		Coordinator: p.coordinator,
		Maintenance: p.maintenance,
	})
	return p
}

// start runs the worker pool until the test ends.
func (p *pipeline) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.pool.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// seed puts n documents into the test corpus.
func (p *pipeline) seed(n int) {
	docs := make([]domain.Document, n)
	for i := range docs {
		docs[i] = testDoc(i)
	}
	p.source.Put(testCorpus, docs...)
}

func testDoc(i int) domain.Document {
	return domain.Document{
		ID:       fmt.Sprintf("doc-%05d", i),
		Text:     fmt.Sprintf("document %d about topic %d and subject %d", i, i%17, i%5),
		Metadata: map[string]string{"n": fmt.Sprint(i)},
	}
}

// waitCycle waits until the cycle reaches a terminal state.
func (p *pipeline) waitCycle(t *testing.T, cycleID string) domain.RefreshStats {
	t.Helper()
	var stats domain.RefreshStats
	require.Eventually(t, func() bool {
		var err error
		stats, err = p.orch.GetStatus(context.Background(), cycleID)
		return err == nil && stats.State.IsTerminal()
	}, 10*time.Second, 5*time.Millisecond)
	return stats
}

// waitTask waits until the task is terminal and returns it. A cycle can
// report its outcome before the worker acks the task that recorded it.
func (p *pipeline) waitTask(t *testing.T, taskID string) *domain.Task {
	t.Helper()
	var task *domain.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = p.queue.Get(context.Background(), taskID)
		return err == nil && task.State.IsTerminal()
	}, 10*time.Second, 5*time.Millisecond)
	return task
}

// waitIdle waits until no task of any lane is pending or running.
func (p *pipeline) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		tasks, err := p.queue.List(context.Background(), domain.TaskFilter{})
		if err != nil {
			return false
		}
		for _, task := range tasks {
			if !task.State.IsTerminal() {
				return false
			}
		}
		return true
	}, 10*time.Second, 5*time.Millisecond)
}

// storeBatch embeds docs directly into a stored batch.
func (p *pipeline) storeBatch(t *testing.T, batchID string, docs []domain.Document) {
	t.Helper()
	ctx := context.Background()
	cycleID, err := domain.CycleOfBatch(batchID)
	require.NoError(t, err)
	p.source.Put(testCorpus, docs...)

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	task, err := domain.NewTask(domain.TaskKindEmbed, domain.EmbedPayload{
		CycleID: cycleID, BatchID: batchID, SourceRef: testCorpus, DocIDs: ids,
	})
	require.NoError(t, err)
	_, err = p.worker.HandleEmbed(ctx, task)
	require.NoError(t, err)
}

func docRange(from, to int) []domain.Document {
	docs := make([]domain.Document, 0, to-from)
	for i := from; i < to; i++ {
		docs = append(docs, testDoc(i))
	}
	return docs
}
