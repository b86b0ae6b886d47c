package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// Ensure SearchService implements the interface.
var _ driving.SearchService = (*SearchService)(nil)

// SearchService answers similarity queries from the serving index cache.
type SearchService struct {
	cache            *IndexCache
	embeddingService driven.EmbeddingService
}

// NewSearchService creates a new search service.
// The embeddingService is optional (can be nil); without it SearchText fails.
func NewSearchService(cache *IndexCache, embeddingService driven.EmbeddingService) *SearchService {
	return &SearchService{
		cache:            cache,
		embeddingService: embeddingService,
	}
}

// Search returns the k documents most similar to query.
func (s *SearchService) Search(ctx context.Context, query []float32, k int) ([]domain.DocMatch, error) {
	logger.Debug("Vector search: %d dimensions, k=%d", len(query), k)

	matches, err := s.cache.Query(ctx, query, k)
	if err != nil {
		logger.Warn("Vector search failed: %v", err)
		return nil, fmt.Errorf("vector search: %w", err)
	}

	logger.Debug("Vector search: %d hits from %s", len(matches), s.cache.CurrentVersion())
	return matches, nil
}

// SearchText embeds text and searches with the resulting vector.
func (s *SearchService) SearchText(ctx context.Context, text string, k int) ([]domain.DocMatch, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	if s.embeddingService == nil {
		logger.Warn("Text search unavailable: embedding service is nil")
		return nil, fmt.Errorf("%w: no embedding service configured", domain.ErrEmbeddingUnavailable)
	}

	logger.Debug("Generating query embedding for %q...", text)
	embedding, err := s.embeddingService.Embed(ctx, text)
	if err != nil {
		logger.Warn("Query embedding failed: %v", err)
		return nil, fmt.Errorf("generate query embedding: %w", err)
	}
	return s.Search(ctx, embedding, k)
}

// CurrentVersion returns the active index version id.
func (s *SearchService) CurrentVersion() string {
	return s.cache.CurrentVersion()
}
