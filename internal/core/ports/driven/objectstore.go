package driven

import "context"

// ObjectStore stores opaque byte blobs under string keys.
// It is the durable home for embedding batches and index snapshots.
//
// Put must be durable when it returns: a blob written by Put survives a
// process crash. Put of an existing key replaces it atomically; readers
// observe either the old or the new blob.
type ObjectStore interface {
	// Get returns the blob stored under key.
	// Returns an error wrapping domain.ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any existing blob.
	Put(ctx context.Context, key string, data []byte) error

	// List returns every key starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the blob under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
