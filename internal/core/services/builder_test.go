package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/codec"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/vectorindex"
)

func TestIndexBuilder_Build(t *testing.T) {
	p := newPipeline(t, 10)
	p.storeBatch(t, "c-1.00000", docRange(0, 10))
	p.storeBatch(t, "c-1.00001", docRange(10, 17))
	ctx := context.Background()

	version, err := p.builder.Build(ctx, []string{"c-1.00001", "c-1.00000"})

	require.NoError(t, err)
	assert.Equal(t, 17, version.VectorCount)
	assert.Equal(t, 2, version.SourceBatchCount)
	assert.Equal(t, testDims, version.Dimension)
	assert.Equal(t, domain.IndexKindFlat, version.Kind)
	assert.Equal(t, []string{"c-1.00000", "c-1.00001"}, version.BatchIDs)
	assert.Equal(t, domain.ComputeVersionID([]string{"c-1.00000", "c-1.00001"}), version.VersionID)

	latest, err := p.store.Get(ctx, domain.LatestPointerKey)
	require.NoError(t, err)
	assert.Equal(t, version.VersionID, string(latest))

	indexBlob, err := p.store.Get(ctx, domain.IndexKey(version.VersionID))
	require.NoError(t, err)
	idx, err := vectorindex.Decode(indexBlob)
	require.NoError(t, err)
	assert.Equal(t, 17, idx.Len())

	metaBlob, err := p.store.Get(ctx, domain.MetadataKey(version.VersionID))
	require.NoError(t, err)
	table, err := codec.DecodeMetadata(metaBlob)
	require.NoError(t, err)
	assert.Equal(t, 17, table.Len())
	docID, md := table.Row(12)
	assert.Equal(t, "doc-00012", docID)
	assert.Equal(t, "12", md["n"])
}

func TestIndexBuilder_Build_DeterministicVersion(t *testing.T) {
	p := newPipeline(t, 10)
	p.storeBatch(t, "c-1.00000", docRange(0, 5))
	p.storeBatch(t, "c-1.00001", docRange(5, 10))
	ctx := context.Background()

	first, err := p.builder.Build(ctx, []string{"c-1.00000", "c-1.00001"})
	require.NoError(t, err)
	second, err := p.builder.Build(ctx, []string{"c-1.00001", "c-1.00000", "c-1.00001"})
	require.NoError(t, err)

	assert.Equal(t, first.VersionID, second.VersionID)
	assert.Equal(t, first.VectorCount, second.VectorCount)
}

func TestIndexBuilder_Build_SkipsMissingAndCorruptBatches(t *testing.T) {
	p := newPipeline(t, 10)
	p.storeBatch(t, "c-1.00000", docRange(0, 4))
	ctx := context.Background()
	corruptKey, err := domain.BatchKey("c-1.00002")
	require.NoError(t, err)
	require.NoError(t, p.store.Put(ctx, corruptKey, []byte("not a batch")))

	version, err := p.builder.Build(ctx, []string{"c-1.00000", "c-1.00001", "c-1.00002"})

	require.NoError(t, err)
	assert.Equal(t, 4, version.VectorCount)
	assert.Equal(t, 1, version.SourceBatchCount)
	assert.Equal(t, []string{"c-1.00001", "c-1.00002"}, version.SkippedBatchIDs)
	assert.Len(t, version.BatchIDs, 3, "the version id covers the requested set")
}

func TestIndexBuilder_Build_NoBatches(t *testing.T) {
	p := newPipeline(t, 10)
	ctx := context.Background()

	_, err := p.builder.Build(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrNoBatches)

	_, err = p.builder.Build(ctx, []string{"c-1.00000"})
	assert.ErrorIs(t, err, domain.ErrNoBatches)

	_, err = p.store.Get(ctx, domain.LatestPointerKey)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIndexBuilder_Build_MaxVectorsKeepsPreviousVersion(t *testing.T) {
	p := newPipeline(t, 10)
	p.storeBatch(t, "c-1.00000", docRange(0, 5))
	p.storeBatch(t, "c-2.00000", docRange(0, 20))
	ctx := context.Background()
	builder := NewIndexBuilder(p.store, p.queue, p.refreshes, BuilderConfig{MaxVectors: 10})

	first, err := builder.Build(ctx, []string{"c-1.00000"})
	require.NoError(t, err)

	_, err = builder.Build(ctx, []string{"c-2.00000"})
	require.ErrorIs(t, err, domain.ErrIndexTooLarge)
	assert.False(t, domain.IsRetryable(err))

	latest, err := p.store.Get(ctx, domain.LatestPointerKey)
	require.NoError(t, err)
	assert.Equal(t, first.VersionID, string(latest))
}

func TestIndexBuilder_Build_IVFAboveThreshold(t *testing.T) {
	p := newPipeline(t, 100)
	p.storeBatch(t, "c-1.00000", docRange(0, 100))
	p.storeBatch(t, "c-1.00001", docRange(100, 200))
	builder := NewIndexBuilder(p.store, p.queue, p.refreshes, BuilderConfig{IVFThreshold: 150, NProbe: 4})

	version, err := builder.Build(context.Background(), []string{"c-1.00000", "c-1.00001"})

	require.NoError(t, err)
	assert.Equal(t, domain.IndexKindIVF, version.Kind)
	assert.Equal(t, 200, version.VectorCount)
}

func TestIndexBuilder_HandleBuild(t *testing.T) {
	p := newPipeline(t, 10)
	p.storeBatch(t, "c-9.00000", docRange(0, 3))
	ctx := context.Background()
	require.NoError(t, p.refreshes.Save(ctx, domain.RefreshStats{CycleID: "c-9", State: domain.RefreshBuilding}))

	task, err := domain.NewTask(domain.TaskKindBuildIndex, domain.BuildPayload{CycleID: "c-9", BatchIDs: []string{"c-9.00000"}})
	require.NoError(t, err)
	result, err := p.builder.HandleBuild(ctx, task)
	require.NoError(t, err)

	var res domain.BuildResult
	task.Result = result
	require.NoError(t, task.DecodeResult(&res))
	assert.Equal(t, 3, res.VectorCount)

	swaps, err := p.queue.List(ctx, domain.TaskFilter{Kind: domain.TaskKindHotSwap})
	require.NoError(t, err)
	require.Len(t, swaps, 1)
	var swap domain.SwapPayload
	require.NoError(t, swaps[0].DecodePayload(&swap))
	assert.Equal(t, res.VersionID, swap.VersionID)
	assert.Equal(t, 3, swap.VectorCount)

	cycle, err := p.refreshes.Get(ctx, "c-9")
	require.NoError(t, err)
	assert.Equal(t, domain.RefreshPublished, cycle.State)
	assert.Equal(t, res.VersionID, cycle.VersionID)
}

func TestIndexBuilder_HandleBuild_FatalErrorFailsCycle(t *testing.T) {
	p := newPipeline(t, 10)
	ctx := context.Background()
	require.NoError(t, p.refreshes.Save(ctx, domain.RefreshStats{CycleID: "c-9", State: domain.RefreshBuilding}))

	task, err := domain.NewTask(domain.TaskKindBuildIndex, domain.BuildPayload{CycleID: "c-9", BatchIDs: []string{"c-9.00000"}})
	require.NoError(t, err)
	_, err = p.builder.HandleBuild(ctx, task)
	require.ErrorIs(t, err, domain.ErrNoBatches)

	cycle, err := p.refreshes.Get(ctx, "c-9")
	require.NoError(t, err)
	assert.Equal(t, domain.RefreshFailed, cycle.State)
}
