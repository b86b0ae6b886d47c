package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotImplemented indicates functionality is not yet available.
	ErrNotImplemented = errors.New("not implemented")

	// ErrUnsupportedType indicates an unknown adapter or task kind.
	ErrUnsupportedType = errors.New("unsupported type")

	// Infrastructure Errors.
	// These are transient and retried with backoff.

	// ErrStoreUnavailable indicates the object store could not be reached.
	ErrStoreUnavailable = errors.New("object store unavailable")

	// ErrBusUnavailable indicates the message bus could not be reached.
	ErrBusUnavailable = errors.New("bus unavailable")

	// ErrEmbeddingUnavailable indicates the embedding service failed or is not configured.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// Data Errors.
	// The offending unit is skipped, never retried.

	// ErrInvalidDocument indicates a document cannot be embedded.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrDimensionMismatch indicates a vector does not have the expected dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrCorruptBlob indicates a stored blob failed decoding or checksum validation.
	ErrCorruptBlob = errors.New("corrupt blob")

	// Build Errors.

	// ErrNoBatches indicates a refresh cycle produced no usable embedding batch.
	// No index is built and the previous version stays published.
	ErrNoBatches = errors.New("no embedding batches available")

	// ErrIndexTooLarge indicates the index would exceed the configured vector ceiling.
	ErrIndexTooLarge = errors.New("index exceeds vector limit")

	// Queue Errors.

	// ErrLeaseLost indicates the caller no longer holds the lease on a task.
	ErrLeaseLost = errors.New("task lease lost")

	// ErrTaskTerminal indicates the task already reached a terminal state.
	ErrTaskTerminal = errors.New("task already in terminal state")

	// Serving Errors.

	// ErrIndexUnavailable indicates no index version has ever been published.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrValidationFailed indicates a downloaded index version failed integrity checks.
	ErrValidationFailed = errors.New("index validation failed")
)

// IsDataError reports whether err belongs to the data error class.
// Data errors are skipped and logged; retrying cannot fix them.
func IsDataError(err error) bool {
	return errors.Is(err, ErrInvalidDocument) ||
		errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrCorruptBlob) ||
		errors.Is(err, ErrInvalidInput)
}

// IsRetryable reports whether a failed task should be retried.
// Everything that is not a data error or a fatal build error is
// treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsDataError(err) {
		return false
	}
	return !errors.Is(err, ErrIndexTooLarge) && !errors.Is(err, ErrNoBatches)
}
