package vectorindex

import (
	"context"
	"fmt"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Ensure Flat implements the interface.
var _ driven.VectorIndex = (*Flat)(nil)

// Flat is an exact nearest-neighbour index. Search compares the query
// against every row.
type Flat struct {
	dim     int
	n       int
	vectors []float32
}

// NewFlat builds a flat index. Vectors are copied and normalised.
func NewFlat(dim int, vectors [][]float32) (*Flat, error) {
	if err := checkVectors(dim, vectors); err != nil {
		return nil, err
	}
	return &Flat{dim: dim, n: len(vectors), vectors: flatten(vectors, dim)}, nil
}

// Search finds the k rows with the highest cosine similarity.
func (f *Flat) Search(ctx context.Context, query []float32, k int) ([]driven.VectorHit, error) {
	q, err := prepareQuery(query, f.dim)
	if err != nil {
		return nil, err
	}
	if k <= 0 || f.n == 0 {
		return nil, nil
	}

	top := newTopK(min(k, f.n))
	for row := 0; row < f.n; row++ {
		if row%4096 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		top.offer(row, dot(q, f.vectors[row*f.dim:(row+1)*f.dim]))
	}
	return top.sorted(), nil
}

// Len returns the number of vectors.
func (f *Flat) Len() int { return f.n }

// Dimension returns the vector dimension.
func (f *Flat) Dimension() int { return f.dim }

// Kind returns IndexKindFlat.
func (f *Flat) Kind() domain.IndexKind { return domain.IndexKindFlat }

// checkVectors validates dimensions before building.
func checkVectors(dim int, vectors [][]float32) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive", domain.ErrInvalidInput)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d dims, want %d", domain.ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

// prepareQuery returns a normalised copy of the query.
func prepareQuery(query []float32, dim int) ([]float32, error) {
	if len(query) != dim {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", domain.ErrDimensionMismatch, len(query), dim)
	}
	q := make([]float32, dim)
	copy(q, query)
	normalize(q)
	return q, nil
}
