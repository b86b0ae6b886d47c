package codec

import (
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// MetadataTable maps index rows back to documents.
// Row i of the index belongs to DocIDs[i].
type MetadataTable struct {
	Version  domain.IndexVersion `json:"version"`
	DocIDs   []string            `json:"doc_ids"`
	Metadata []map[string]string `json:"metadata,omitempty"`
}

// Len returns the number of rows.
func (t *MetadataTable) Len() int {
	return len(t.DocIDs)
}

// Row returns the document id and metadata of a row.
func (t *MetadataTable) Row(i int) (string, map[string]string) {
	var md map[string]string
	if i < len(t.Metadata) {
		md = t.Metadata[i]
	}
	return t.DocIDs[i], md
}

// EncodeMetadata serialises a metadata table.
func EncodeMetadata(t *MetadataTable) ([]byte, error) {
	if t.Metadata != nil && len(t.Metadata) != len(t.DocIDs) {
		return nil, fmt.Errorf("%w: metadata rows are not parallel to doc ids", domain.ErrInvalidInput)
	}
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshalling metadata table: %w", err)
	}
	return Seal(MagicMetadata, body), nil
}

// DecodeMetadata parses a metadata table blob.
func DecodeMetadata(data []byte) (*MetadataTable, error) {
	body, err := Open(MagicMetadata, data)
	if err != nil {
		return nil, err
	}
	var t MetadataTable
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("%w: metadata table: %v", domain.ErrCorruptBlob, err)
	}
	if t.Metadata != nil && len(t.Metadata) != len(t.DocIDs) {
		return nil, fmt.Errorf("%w: metadata rows are not parallel to doc ids", domain.ErrCorruptBlob)
	}
	return &t, nil
}
