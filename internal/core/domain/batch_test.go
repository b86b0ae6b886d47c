package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingBatch_Validate(t *testing.T) {
	batch := &EmbeddingBatch{
		BatchID: "c1.00000",
		Vectors: [][]float32{{1, 0, 0}, {0, 1, 0}},
		DocIDs:  []string{"a", "b"},
	}

	assert.NoError(t, batch.Validate(3))
	assert.NoError(t, batch.Validate(0))
	assert.Equal(t, 2, batch.Len())
	assert.Equal(t, 3, batch.Dimension())

	err := batch.Validate(4)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbeddingBatch_Validate_NotParallel(t *testing.T) {
	batch := &EmbeddingBatch{
		BatchID: "c1.00000",
		Vectors: [][]float32{{1, 0}},
		DocIDs:  []string{"a", "b"},
	}
	assert.ErrorIs(t, batch.Validate(2), ErrInvalidInput)
}

func TestEmbeddingBatch_Validate_RaggedVectors(t *testing.T) {
	batch := &EmbeddingBatch{
		BatchID: "c1.00000",
		Vectors: [][]float32{{1, 0}, {1, 0, 0}},
		DocIDs:  []string{"a", "b"},
	}
	assert.ErrorIs(t, batch.Validate(0), ErrDimensionMismatch)
}

func TestBatchKey(t *testing.T) {
	id := NewBatchID("cycle-7", 3)
	assert.Equal(t, "cycle-7.00003", id)

	cycle, err := CycleOfBatch(id)
	require.NoError(t, err)
	assert.Equal(t, "cycle-7", cycle)

	key, err := BatchKey(id)
	require.NoError(t, err)
	assert.Equal(t, "batches/cycle-7/cycle-7.00003.bin", key)

	_, err = BatchKey("nodot")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDocument_Validate(t *testing.T) {
	assert.NoError(t, Document{ID: "a", Text: "hello"}.Validate())
	assert.ErrorIs(t, Document{ID: "a", Text: "   "}.Validate(), ErrInvalidDocument)
	assert.ErrorIs(t, Document{Text: "hello"}.Validate(), ErrInvalidDocument)
}
