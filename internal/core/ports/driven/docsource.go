package driven

import (
	"context"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// DocumentSource provides read access to the document corpus.
// The source owns the documents; the pipeline never writes to it.
type DocumentSource interface {
	// ListIDs returns every document id of the corpus referenced by ref, sorted.
	ListIDs(ctx context.Context, ref string) ([]string, error)

	// Fetch returns the documents with the given ids, in the same order.
	// Documents that no longer exist are omitted.
	Fetch(ctx context.Context, ref string, ids []string) ([]domain.Document, error)
}

// WatchableSource is a DocumentSource that can report corpus changes.
type WatchableSource interface {
	DocumentSource

	// Watch emits the ref of a corpus each time it changes, until ctx is cancelled.
	Watch(ctx context.Context, ref string) (<-chan string, error)
}
