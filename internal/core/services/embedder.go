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
)

// EmbeddingWorker turns documents into a stored embedding batch.
// It handles embed tasks.
type EmbeddingWorker struct {
	embedder driven.EmbeddingService
	source   driven.DocumentSource
	store    driven.ObjectStore
	now      func() time.Time
}

// NewEmbeddingWorker creates an embedding worker.
func NewEmbeddingWorker(embedder driven.EmbeddingService, source driven.DocumentSource, store driven.ObjectStore) *EmbeddingWorker {
	return &EmbeddingWorker{
		embedder: embedder,
		source:   source,
		store:    store,
		now:      time.Now,
	}
}

// Embed embeds docs into a batch. Documents that fail validation, that the
// encoder rejects, or whose vector has the wrong dimension are skipped;
// the number skipped is returned alongside the batch.
// Transient encoder failures fail the whole call.
func (w *EmbeddingWorker) Embed(ctx context.Context, docs []domain.Document) (*domain.EmbeddingBatch, int, error) {
	if len(docs) > domain.MaxBatchSize {
		return nil, 0, fmt.Errorf("%w: %d documents exceed batch limit %d", domain.ErrInvalidInput, len(docs), domain.MaxBatchSize)
	}

	valid := make([]domain.Document, 0, len(docs))
	skipped := 0
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			logger.Warn("embed: skipping document: %v", err)
			skipped++
			continue
		}
		valid = append(valid, d)
	}

	batch := &domain.EmbeddingBatch{
		Model:     w.embedder.ModelName(),
		CreatedAt: w.now().UTC(),
	}
	if len(valid) == 0 {
		return batch, skipped, nil
	}

	texts := make([]string, len(valid))
	for i, d := range valid {
		texts[i] = d.Text
	}
	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if !domain.IsDataError(err) {
			return nil, 0, fmt.Errorf("embedding %d documents: %w", len(texts), err)
		}
		// One bad document poisons the batch call; isolate it.
		vectors, err = w.embedOneByOne(ctx, valid)
		if err != nil {
			return nil, 0, err
		}
	}
	if len(vectors) != len(valid) {
		return nil, 0, fmt.Errorf("%w: encoder returned %d vectors for %d documents",
			domain.ErrEmbeddingUnavailable, len(vectors), len(valid))
	}

	dim := w.embedder.Dimensions()
	hasMetadata := false
	for i, v := range vectors {
		if v == nil {
			skipped++
			continue
		}
		if len(v) != dim {
			logger.Warn("embed: skipping document %s: %v", valid[i].ID,
				fmt.Errorf("%w: got %d dims, want %d", domain.ErrDimensionMismatch, len(v), dim))
			skipped++
			continue
		}
		batch.Vectors = append(batch.Vectors, v)
		batch.DocIDs = append(batch.DocIDs, valid[i].ID)
		batch.Metadata = append(batch.Metadata, valid[i].Metadata)
		if len(valid[i].Metadata) > 0 {
			hasMetadata = true
		}
	}
	if !hasMetadata {
		batch.Metadata = nil
	}
	return batch, skipped, nil
}

// embedOneByOne embeds each document separately. A document the encoder
// rejects with a data error gets a nil vector.
func (w *EmbeddingWorker) embedOneByOne(ctx context.Context, docs []domain.Document) ([][]float32, error) {
	vectors := make([][]float32, len(docs))
	for i, d := range docs {
		v, err := w.embedder.Embed(ctx, d.Text)
		if err != nil {
			if domain.IsDataError(err) {
				logger.Warn("embed: skipping document %s: %v", d.ID, err)
				continue
			}
			return nil, fmt.Errorf("embedding document %s: %w", d.ID, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}

// HandleEmbed is the embed task handler. It fetches the task's documents,
// embeds them and writes the batch to batches/{cycle_id}/{batch_id}.bin.
// Documents missing from the source count as skipped.
func (w *EmbeddingWorker) HandleEmbed(ctx context.Context, task *domain.Task) (_ []byte, err error) {
	var p domain.EmbedPayload
	if err := task.DecodePayload(&p); err != nil {
		return nil, err
	}
	key, err := domain.BatchKey(p.BatchID)
	if err != nil {
		return nil, err
	}

	ctx, span := metrics.StartSpan(ctx, "embed_batch",
		attribute.String("cycle.id", p.CycleID),
		attribute.String("batch.id", p.BatchID),
		attribute.Int("batch.docs", len(p.DocIDs)))
	defer func() { metrics.EndSpan(span, err) }()

	docs, err := w.source.Fetch(ctx, p.SourceRef, p.DocIDs)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: source %s: %v", domain.ErrInvalidInput, p.SourceRef, err)
		}
		return nil, fmt.Errorf("fetching batch %s: %w", p.BatchID, err)
	}
	missing := len(p.DocIDs) - len(docs)
	if missing > 0 {
		logger.Warn("embed: %d documents of batch %s vanished from the source", missing, p.BatchID)
	}

	batch, skipped, err := w.Embed(ctx, docs)
	if err != nil {
		return nil, err
	}
	batch.BatchID = p.BatchID
	batch.CycleID = p.CycleID
	skipped += missing

	data, err := codec.EncodeBatch(batch)
	if err != nil {
		return nil, err
	}
	if err := w.store.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("storing batch %s: %w", p.BatchID, err)
	}

	metrics.DocumentsEmbedded.Add(float64(batch.Len()))
	metrics.DocumentsSkipped.Add(float64(skipped))
	logger.Debug("embed: stored batch %s (%d vectors, %d skipped)", p.BatchID, batch.Len(), skipped)

	return json.Marshal(domain.EmbedResult{Embedded: batch.Len(), Skipped: skipped})
}
