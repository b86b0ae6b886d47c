package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/custodia-labs/sercha-indexer/internal/codec"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
	"github.com/custodia-labs/sercha-indexer/internal/metrics"
	"github.com/custodia-labs/sercha-indexer/internal/vectorindex"
)

// BuilderConfig configures index construction.
type BuilderConfig struct {
	// IVFThreshold is the vector count at which the clustered index is used.
	IVFThreshold int

	// NProbe is the number of clusters an IVF query scans.
	NProbe int

	// MaxVectors fails builds above it. Zero disables the guard.
	MaxVectors int
}

// IndexBuilder builds index versions from stored embedding batches and
// publishes them with write-then-point: the version blobs are written
// first and indexes/latest last.
type IndexBuilder struct {
	store     driven.ObjectStore
	queue     driven.TaskQueue
	refreshes driven.RefreshStore
	cfg       BuilderConfig
	now       func() time.Time
}

// NewIndexBuilder creates an index builder. queue and refreshes are only
// used by HandleBuild and may be nil when Build is called directly.
func NewIndexBuilder(store driven.ObjectStore, queue driven.TaskQueue, refreshes driven.RefreshStore, cfg BuilderConfig) *IndexBuilder {
	return &IndexBuilder{
		store:     store,
		queue:     queue,
		refreshes: refreshes,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Build builds and publishes the index over batchIDs. Missing or corrupt
// batches are skipped. The version id depends only on the batch-id set, so
// building the same set twice yields the same id.
func (b *IndexBuilder) Build(ctx context.Context, batchIDs []string) (_ domain.IndexVersion, err error) {
	ids := domain.SortedUnique(batchIDs)
	if len(ids) == 0 {
		return domain.IndexVersion{}, fmt.Errorf("%w: empty batch-id set", domain.ErrNoBatches)
	}
	version := domain.IndexVersion{
		VersionID: domain.ComputeVersionID(ids),
		BatchIDs:  ids,
	}

	ctx, span := metrics.StartSpan(ctx, "build_index",
		attribute.String("version.id", version.VersionID),
		attribute.Int("batch.count", len(ids)))
	defer func() { metrics.EndSpan(span, err) }()
	start := time.Now()

	var (
		vectors  [][]float32
		table    codec.MetadataTable
		withMeta bool
	)
	for _, id := range ids {
		batch, err := b.loadBatch(ctx, id, version.Dimension)
		if err != nil {
			if domain.IsDataError(err) || errors.Is(err, domain.ErrNotFound) {
				logger.Warn("build: skipping batch %s: %v", id, err)
				version.SkippedBatchIDs = append(version.SkippedBatchIDs, id)
				continue
			}
			return domain.IndexVersion{}, fmt.Errorf("loading batch %s: %w", id, err)
		}
		if version.Dimension == 0 {
			version.Dimension = batch.Dimension()
		}
		if b.cfg.MaxVectors > 0 && len(vectors)+batch.Len() > b.cfg.MaxVectors {
			return domain.IndexVersion{}, fmt.Errorf("%w: more than %d vectors", domain.ErrIndexTooLarge, b.cfg.MaxVectors)
		}
		vectors = append(vectors, batch.Vectors...)
		table.DocIDs = append(table.DocIDs, batch.DocIDs...)
		if batch.Metadata != nil {
			withMeta = true
			table.Metadata = append(table.Metadata, batch.Metadata...)
		} else {
			table.Metadata = append(table.Metadata, make([]map[string]string, batch.Len())...)
		}
		version.SourceBatchCount++
	}
	if !withMeta {
		table.Metadata = nil
	}
	if version.SourceBatchCount == 0 {
		return domain.IndexVersion{}, fmt.Errorf("%w: none of %d batches could be loaded", domain.ErrNoBatches, len(ids))
	}
	if len(vectors) == 0 {
		return domain.IndexVersion{}, fmt.Errorf("%w: loaded batches hold no vectors", domain.ErrNoBatches)
	}

	opts := vectorindex.Options{
		IVFThreshold: b.cfg.IVFThreshold,
		IVF:          vectorindex.IVFOptions{NProbe: b.cfg.NProbe},
	}
	idx, err := vectorindex.Build(version.Dimension, vectors, opts)
	if err != nil {
		return domain.IndexVersion{}, fmt.Errorf("building index: %w", err)
	}
	version.VectorCount = idx.Len()
	version.Kind = idx.Kind()
	version.CreatedAt = b.now().UTC()
	table.Version = version

	indexBlob, err := vectorindex.Encode(idx)
	if err != nil {
		return domain.IndexVersion{}, err
	}
	metaBlob, err := codec.EncodeMetadata(&table)
	if err != nil {
		return domain.IndexVersion{}, err
	}

	// Metadata goes first: cleanup leaves a version without it alone.
	if err := b.store.Put(ctx, domain.MetadataKey(version.VersionID), metaBlob); err != nil {
		return domain.IndexVersion{}, fmt.Errorf("writing metadata: %w", err)
	}
	if err := b.store.Put(ctx, domain.IndexKey(version.VersionID), indexBlob); err != nil {
		return domain.IndexVersion{}, fmt.Errorf("writing index: %w", err)
	}
	if err := b.store.Put(ctx, domain.LatestPointerKey, []byte(version.VersionID)); err != nil {
		return domain.IndexVersion{}, fmt.Errorf("writing latest pointer: %w", err)
	}

	metrics.BuildDuration.Observe(time.Since(start).Seconds())
	metrics.IndexVectors.Set(float64(version.VectorCount))
	logger.Info("build: published %s (%s, %d vectors from %d/%d batches) in %s",
		version.VersionID, version.Kind, version.VectorCount, version.SourceBatchCount, len(ids),
		time.Since(start).Round(time.Millisecond))
	return version, nil
}

// loadBatch reads and validates one batch. A batch whose dimension differs
// from dim (when non-zero) is a data error.
func (b *IndexBuilder) loadBatch(ctx context.Context, batchID string, dim int) (*domain.EmbeddingBatch, error) {
	key, err := domain.BatchKey(batchID)
	if err != nil {
		return nil, err
	}
	data, err := b.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	batch, err := codec.DecodeBatch(data)
	if err != nil {
		return nil, err
	}
	if batch.BatchID != batchID {
		return nil, fmt.Errorf("%w: blob %s holds batch %s", domain.ErrCorruptBlob, key, batch.BatchID)
	}
	if batch.Len() > 0 && dim > 0 {
		if err := batch.Validate(dim); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

// HandleBuild is the build_index task handler. It builds the version,
// enqueues its hot_swap task and records the cycle as published.
func (b *IndexBuilder) HandleBuild(ctx context.Context, task *domain.Task) ([]byte, error) {
	var p domain.BuildPayload
	if err := task.DecodePayload(&p); err != nil {
		return nil, err
	}

	version, err := b.Build(ctx, p.BatchIDs)
	if err != nil {
		if !domain.IsRetryable(err) {
			b.recordCycle(ctx, p.CycleID, func(s *domain.RefreshStats) {
				s.State = domain.RefreshFailed
				s.Error = err.Error()
			})
		}
		return nil, err
	}

	swap, err := domain.NewTask(domain.TaskKindHotSwap, domain.SwapPayload{
		CycleID:     p.CycleID,
		VersionID:   version.VersionID,
		VectorCount: version.VectorCount,
	})
	if err != nil {
		return nil, err
	}
	if _, err := b.queue.Submit(ctx, swap); err != nil {
		return nil, fmt.Errorf("submitting hot swap for %s: %w", version.VersionID, err)
	}

	b.recordCycle(ctx, p.CycleID, func(s *domain.RefreshStats) {
		s.State = domain.RefreshPublished
		s.VersionID = version.VersionID
		s.Error = ""
	})
	metrics.RefreshCycles.WithLabelValues(string(domain.RefreshPublished)).Inc()

	return json.Marshal(domain.BuildResult{VersionID: version.VersionID, VectorCount: version.VectorCount})
}

// recordCycle applies update to a cycle record. Builds outside a cycle,
// or without a refresh store, are not recorded.
func (b *IndexBuilder) recordCycle(ctx context.Context, cycleID string, update func(*domain.RefreshStats)) {
	if b.refreshes == nil || cycleID == "" {
		return
	}
	stats, err := b.refreshes.Get(ctx, cycleID)
	if err != nil {
		logger.Warn("build: loading cycle %s: %v", cycleID, err)
		return
	}
	update(stats)
	stats.EndedAt = b.now().UTC()
	if err := b.refreshes.Save(ctx, *stats); err != nil {
		logger.Warn("build: recording cycle %s: %v", cycleID, err)
	}
}
