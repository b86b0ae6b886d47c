package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docmem "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/docsource/memory"
	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/embedding/hash"
	objmem "github.com/custodia-labs/sercha-indexer/internal/adapters/driven/objectstore/memory"
	"github.com/custodia-labs/sercha-indexer/internal/codec"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// stubEmbedder wraps the hash encoder with injected failures.
type stubEmbedder struct {
	*hash.EmbeddingService
	batchErr error
	// rejects marks texts that fail with a data error.
	rejects string
	// short marks texts that get a vector of the wrong dimension.
	short string
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.rejects != "" && strings.Contains(text, s.rejects) {
		return nil, domain.ErrInvalidDocument
	}
	if s.short != "" && strings.Contains(text, s.short) {
		return []float32{1}, nil
	}
	return s.EmbeddingService.Embed(ctx, text)
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if s.rejects != "" && strings.Contains(text, s.rejects) {
			return nil, domain.ErrInvalidDocument
		}
		v, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{EmbeddingService: hash.NewEmbeddingService(testDims)}
}

func TestEmbeddingWorker_Embed(t *testing.T) {
	w := NewEmbeddingWorker(newStubEmbedder(), nil, nil)
	docs := []domain.Document{
		{ID: "a", Text: "alpha beta"},
		{ID: "b", Text: "   "},
		{ID: "", Text: "no id"},
		{ID: "c", Text: "gamma delta"},
	}

	batch, skipped, err := w.Embed(context.Background(), docs)

	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, []string{"a", "c"}, batch.DocIDs)
	assert.Equal(t, testDims, batch.Dimension())
	assert.Nil(t, batch.Metadata, "no document carried metadata")
	assert.Equal(t, hash.ModelName, batch.Model)
}

func TestEmbeddingWorker_Embed_IsolatesRejectedDocument(t *testing.T) {
	embedder := newStubEmbedder()
	embedder.rejects = "poison"
	w := NewEmbeddingWorker(embedder, nil, nil)
	docs := []domain.Document{
		{ID: "a", Text: "fine text", Metadata: map[string]string{"k": "v"}},
		{ID: "b", Text: "poison pill"},
		{ID: "c", Text: "more fine text"},
	}

	batch, skipped, err := w.Embed(context.Background(), docs)

	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, []string{"a", "c"}, batch.DocIDs)
	require.Len(t, batch.Metadata, 2)
	assert.Equal(t, "v", batch.Metadata[0]["k"])
	assert.Nil(t, batch.Metadata[1])
}

func TestEmbeddingWorker_Embed_SkipsDimensionMismatch(t *testing.T) {
	embedder := newStubEmbedder()
	embedder.short = "tiny"
	w := NewEmbeddingWorker(embedder, nil, nil)

	batch, skipped, err := w.Embed(context.Background(), []domain.Document{
		{ID: "a", Text: "tiny vector"},
		{ID: "b", Text: "normal vector"},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, []string{"b"}, batch.DocIDs)
	assert.NoError(t, batch.Validate(testDims))
}

func TestEmbeddingWorker_Embed_TransientFailure(t *testing.T) {
	embedder := newStubEmbedder()
	embedder.batchErr = domain.ErrEmbeddingUnavailable
	w := NewEmbeddingWorker(embedder, nil, nil)

	_, _, err := w.Embed(context.Background(), []domain.Document{{ID: "a", Text: "text"}})

	require.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.True(t, domain.IsRetryable(err))
}

func TestEmbeddingWorker_Embed_RejectsOversizedBatch(t *testing.T) {
	w := NewEmbeddingWorker(newStubEmbedder(), nil, nil)

	_, _, err := w.Embed(context.Background(), docRange(0, domain.MaxBatchSize+1))

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEmbeddingWorker_HandleEmbed(t *testing.T) {
	source := docmem.NewSource()
	source.Put(testCorpus, docRange(0, 10)...)
	store := objmem.NewStore()
	w := NewEmbeddingWorker(newStubEmbedder(), source, store)

	ids := []string{"doc-00000", "doc-00001", "doc-00002", "doc-gone"}
	task, err := domain.NewTask(domain.TaskKindEmbed, domain.EmbedPayload{
		CycleID: "c-1", BatchID: "c-1.00000", SourceRef: testCorpus, DocIDs: ids,
	})
	require.NoError(t, err)

	result, err := w.HandleEmbed(context.Background(), task)
	require.NoError(t, err)
	assert.JSONEq(t, `{"embedded":3,"skipped":1}`, string(result))

	key, err := domain.BatchKey("c-1.00000")
	require.NoError(t, err)
	assert.Equal(t, "batches/c-1/c-1.00000.bin", key)

	data, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	batch, err := codec.DecodeBatch(data)
	require.NoError(t, err)
	assert.Equal(t, "c-1.00000", batch.BatchID)
	assert.Equal(t, "c-1", batch.CycleID)
	assert.Equal(t, ids[:3], batch.DocIDs)
	assert.Len(t, batch.Metadata, 3)
}

func TestEmbeddingWorker_HandleEmbed_UnknownCorpus(t *testing.T) {
	w := NewEmbeddingWorker(newStubEmbedder(), docmem.NewSource(), objmem.NewStore())
	task, err := domain.NewTask(domain.TaskKindEmbed, domain.EmbedPayload{
		CycleID: "c-1", BatchID: "c-1.00000", SourceRef: "nowhere", DocIDs: []string{"x"},
	})
	require.NoError(t, err)

	_, err = w.HandleEmbed(context.Background(), task)

	assert.True(t, domain.IsDataError(err))
}
