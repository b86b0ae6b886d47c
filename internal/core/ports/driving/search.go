package driving

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// SearchService is the query interface exposed to the request-serving layer.
type SearchService interface {
	// Search returns the k documents most similar to the query vector,
	// ranked by descending score. Every match carries the same VersionID.
	Search(ctx context.Context, query []float32, k int) ([]domain.DocMatch, error)

	// SearchText embeds text and searches with the resulting vector.
	SearchText(ctx context.Context, text string, k int) ([]domain.DocMatch, error)

	// CurrentVersion returns the active index version id, or "" before the first load.
	CurrentVersion() string
}
