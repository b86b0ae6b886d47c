package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// batchHeader is the JSON header of an embedding batch blob.
type batchHeader struct {
	BatchID   string              `json:"batch_id"`
	CycleID   string              `json:"cycle_id"`
	Model     string              `json:"model,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	Count     int                 `json:"count"`
	Dimension int                 `json:"dimension"`
	DocIDs    []string            `json:"doc_ids"`
	Metadata  []map[string]string `json:"metadata,omitempty"`
}

// EncodeBatch serialises a batch. The batch must already be valid.
func EncodeBatch(b *domain.EmbeddingBatch) ([]byte, error) {
	if err := b.Validate(0); err != nil {
		return nil, err
	}
	dim := b.Dimension()

	header, err := json.Marshal(batchHeader{
		BatchID:   b.BatchID,
		CycleID:   b.CycleID,
		Model:     b.Model,
		CreatedAt: b.CreatedAt.UTC(),
		Count:     b.Len(),
		Dimension: dim,
		DocIDs:    b.DocIDs,
		Metadata:  b.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling batch header: %w", err)
	}

	flat := make([]float32, 0, b.Len()*dim)
	for _, v := range b.Vectors {
		flat = append(flat, v...)
	}
	return Seal(MagicBatch, frame(header, Float32SliceToBytes(flat))), nil
}

// DecodeBatch parses a batch blob and checks its invariants.
func DecodeBatch(data []byte) (*domain.EmbeddingBatch, error) {
	body, err := Open(MagicBatch, data)
	if err != nil {
		return nil, err
	}
	rawHeader, payload, err := unframe(body)
	if err != nil {
		return nil, err
	}

	var h batchHeader
	if err := json.Unmarshal(rawHeader, &h); err != nil {
		return nil, fmt.Errorf("%w: batch header: %v", domain.ErrCorruptBlob, err)
	}
	if h.Count != len(h.DocIDs) {
		return nil, fmt.Errorf("%w: batch %s declares %d vectors for %d documents",
			domain.ErrCorruptBlob, h.BatchID, h.Count, len(h.DocIDs))
	}
	if len(payload) != h.Count*h.Dimension*4 {
		return nil, fmt.Errorf("%w: batch %s payload is %d bytes, want %d",
			domain.ErrCorruptBlob, h.BatchID, len(payload), h.Count*h.Dimension*4)
	}

	flat, err := BytesToFloat32Slice(payload)
	if err != nil {
		return nil, err
	}
	vectors := make([][]float32, h.Count)
	for i := range vectors {
		vectors[i] = flat[i*h.Dimension : (i+1)*h.Dimension : (i+1)*h.Dimension]
	}

	b := &domain.EmbeddingBatch{
		BatchID:   h.BatchID,
		CycleID:   h.CycleID,
		Vectors:   vectors,
		DocIDs:    h.DocIDs,
		Metadata:  h.Metadata,
		Model:     h.Model,
		CreatedAt: h.CreatedAt,
	}
	if err := b.Validate(h.Dimension); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptBlob, err)
	}
	return b, nil
}
