package vectorindex

import (
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Options selects and tunes the index structure.
type Options struct {
	// IVFThreshold is the vector count at which Build switches from Flat to IVF.
	// Zero or negative always builds a flat index.
	IVFThreshold int

	// IVF tunes the clustered index.
	IVF IVFOptions
}

// Build constructs the index structure appropriate for the corpus size:
// exact flat search for small corpora, clustered IVF at or above the threshold.
func Build(dim int, vectors [][]float32, opts Options) (driven.VectorIndex, error) {
	if opts.IVFThreshold > 0 && len(vectors) >= opts.IVFThreshold {
		return NewIVF(dim, vectors, opts.IVF)
	}
	return NewFlat(dim, vectors)
}

// KindFor reports which structure Build would choose for n vectors.
func KindFor(n int, opts Options) domain.IndexKind {
	if opts.IVFThreshold > 0 && n >= opts.IVFThreshold {
		return domain.IndexKindIVF
	}
	return domain.IndexKindFlat
}
