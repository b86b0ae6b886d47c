package domain

import (
	"fmt"
	"strings"
)

// Document is an opaque text blob with a stable identifier.
// Documents are owned by the external document source and are
// never mutated by the pipeline.
type Document struct {
	// ID is the stable identifier assigned by the source.
	ID string

	// Text is the content that gets embedded.
	Text string

	// Metadata contains arbitrary key-value pairs carried into the
	// index metadata table alongside the vector.
	Metadata map[string]string
}

// Validate reports whether the document can be embedded.
// Failures wrap ErrInvalidDocument so callers can skip the document.
func (d Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDocument)
	}
	if strings.TrimSpace(d.Text) == "" {
		return fmt.Errorf("%w: document %s has no text", ErrInvalidDocument, d.ID)
	}
	return nil
}

// DocMatch is a single similarity search hit.
type DocMatch struct {
	// DocID is the matched document.
	DocID string

	// Score is the cosine similarity (higher is closer).
	Score float64

	// Metadata is the document metadata captured at build time.
	Metadata map[string]string

	// VersionID is the index version that produced this match.
	VersionID string
}
