package domain

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// MaxBatchSize bounds the number of documents handled by one embedding task.
const MaxBatchSize = 1000

// EmbeddingBatch holds the vectors produced by exactly one embedding task.
// A batch is stored once and never mutated.
type EmbeddingBatch struct {
	// BatchID identifies the batch. It embeds the cycle ID so ids are
	// unique across cycles.
	BatchID string

	// CycleID is the refresh cycle that produced the batch.
	CycleID string

	// Vectors holds one embedding per document, parallel to DocIDs.
	Vectors [][]float32

	// DocIDs holds the document id for each vector.
	DocIDs []string

	// Metadata holds the document metadata for each vector, parallel to DocIDs.
	// May be nil when no document carried metadata.
	Metadata []map[string]string

	// Model is the embedding model that produced the vectors.
	Model string

	// CreatedAt is when the batch was produced.
	CreatedAt time.Time
}

// Len returns the number of vectors in the batch.
func (b *EmbeddingBatch) Len() int {
	return len(b.Vectors)
}

// Dimension returns the vector dimension, or 0 for an empty batch.
func (b *EmbeddingBatch) Dimension() int {
	if len(b.Vectors) == 0 {
		return 0
	}
	return len(b.Vectors[0])
}

// Validate checks the batch invariants: vectors and doc ids are parallel
// and every vector has dimension dim. A dim of 0 accepts the dimension of
// the first vector.
func (b *EmbeddingBatch) Validate(dim int) error {
	if len(b.Vectors) != len(b.DocIDs) {
		return fmt.Errorf("%w: batch %s has %d vectors for %d documents",
			ErrInvalidInput, b.BatchID, len(b.Vectors), len(b.DocIDs))
	}
	if b.Metadata != nil && len(b.Metadata) != len(b.DocIDs) {
		return fmt.Errorf("%w: batch %s metadata is not parallel to documents", ErrInvalidInput, b.BatchID)
	}
	if dim == 0 {
		dim = b.Dimension()
	}
	for i, v := range b.Vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: batch %s vector %d has %d dims, want %d",
				ErrDimensionMismatch, b.BatchID, i, len(v), dim)
		}
	}
	return nil
}

// NewBatchID builds the id of the seq-th batch of a cycle.
func NewBatchID(cycleID string, seq int) string {
	return fmt.Sprintf("%s.%05d", cycleID, seq)
}

// CycleOfBatch extracts the cycle ID from a batch ID built by NewBatchID.
func CycleOfBatch(batchID string) (string, error) {
	i := strings.LastIndexByte(batchID, '.')
	if i <= 0 {
		return "", fmt.Errorf("%w: malformed batch id %q", ErrInvalidInput, batchID)
	}
	return batchID[:i], nil
}

// BatchKey returns the object store key of a batch blob:
// batches/{cycle_id}/{batch_id}.bin.
func BatchKey(batchID string) (string, error) {
	cycleID, err := CycleOfBatch(batchID)
	if err != nil {
		return "", err
	}
	return path.Join(BatchesPrefix, cycleID, batchID+".bin"), nil
}
