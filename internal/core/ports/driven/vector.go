package driven

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// VectorIndex is a built, read-only similarity-search structure.
// Rows are addressed by position; the parallel metadata table maps a
// row back to its document.
type VectorIndex interface {
	// Search finds the k nearest rows to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]VectorHit, error)

	// Len returns the number of vectors in the index.
	Len() int

	// Dimension returns the vector dimension.
	Dimension() int

	// Kind returns the index structure.
	Kind() domain.IndexKind
}

// VectorHit represents a similarity search result.
type VectorHit struct {
	// Row is the position of the matched vector.
	Row int

	// Similarity is the cosine similarity score.
	Similarity float64
}
