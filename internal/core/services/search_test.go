package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestSearchService_Search(t *testing.T) {
	p := newPipeline(t, 10)
	version := publish(t, p, "c-1", docRange(0, 10))
	cache := NewIndexCache(p.store, IndexCacheConfig{})
	_, err := cache.Refresh(context.Background())
	require.NoError(t, err)
	search := NewSearchService(cache, p.embedder)

	matches, err := search.Search(context.Background(), queryVector(t, p, testDoc(3).Text), 4)

	require.NoError(t, err)
	require.Len(t, matches, 4)
	assert.Equal(t, "doc-00003", matches[0].DocID)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
	assert.Equal(t, version.VersionID, search.CurrentVersion())
}

func TestSearchService_SearchText_Errors(t *testing.T) {
	p := newPipeline(t, 10)
	publish(t, p, "c-1", docRange(0, 3))
	cache := NewIndexCache(p.store, IndexCacheConfig{})

	_, err := NewSearchService(cache, p.embedder).SearchText(context.Background(), "  ", 3)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewSearchService(cache, nil).SearchText(context.Background(), "document", 3)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestSearchService_KLargerThanIndex(t *testing.T) {
	p := newPipeline(t, 10)
	publish(t, p, "c-1", docRange(0, 3))
	search := NewSearchService(NewIndexCache(p.store, IndexCacheConfig{}), p.embedder)

	matches, err := search.SearchText(context.Background(), "document", 10)

	require.NoError(t, err)
	assert.Len(t, matches, 3)
}
