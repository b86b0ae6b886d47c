package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"sort"
	"time"
)

// Object store layout.
const (
	// BatchesPrefix is the prefix under which embedding batches live.
	BatchesPrefix = "batches"

	// IndexesPrefix is the prefix under which index versions live.
	IndexesPrefix = "indexes"

	// LatestPointerKey holds the version id of the published index.
	// It is always written after the version blobs are durable.
	LatestPointerKey = "indexes/latest"
)

// IndexKind identifies the similarity-search structure of an index version.
type IndexKind string

const (
	// IndexKindFlat is an exact, brute-force inner-product index.
	IndexKindFlat IndexKind = "flat"

	// IndexKindIVF is an approximate index that clusters vectors
	// into inverted lists and probes the nearest clusters.
	IndexKindIVF IndexKind = "ivf"
)

// IndexVersion describes one immutable, published index.
type IndexVersion struct {
	// VersionID is a content hash over the sorted source batch ids.
	VersionID string

	// VectorCount is the number of vectors in the index.
	VectorCount int

	// Dimension is the vector dimension.
	Dimension int

	// Kind is the index structure used.
	Kind IndexKind

	// SourceBatchCount is the number of batches actually loaded into the index.
	SourceBatchCount int

	// BatchIDs is the sorted batch-id set the version was requested from.
	BatchIDs []string

	// SkippedBatchIDs lists requested batches that were missing or corrupt.
	SkippedBatchIDs []string

	// CreatedAt is when the version was built.
	CreatedAt time.Time
}

// IndexKey returns the key of the serialised index of a version.
func IndexKey(versionID string) string {
	return path.Join(IndexesPrefix, versionID, "index.bin")
}

// MetadataKey returns the key of the metadata table of a version.
func MetadataKey(versionID string) string {
	return path.Join(IndexesPrefix, versionID, "metadata.bin")
}

// VersionPrefix returns the prefix holding every blob of a version.
func VersionPrefix(versionID string) string {
	return path.Join(IndexesPrefix, versionID) + "/"
}

// ComputeVersionID derives the version id from a batch-id set.
// The set is sorted and de-duplicated first, so the same inputs
// always produce the same id regardless of order.
func ComputeVersionID(batchIDs []string) string {
	ids := SortedUnique(batchIDs)

	h := sha256.New()
	for _, id := range ids {
		_, _ = h.Write([]byte(id))
		_, _ = h.Write([]byte{0}) // separator
	}
	return "v-" + hex.EncodeToString(h.Sum(nil))[:32]
}

// SortedUnique returns a sorted copy of ids with duplicates removed.
func SortedUnique(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SwapAnnouncement is broadcast on the swap topic once a version is published.
type SwapAnnouncement struct {
	VersionID   string    `json:"version_id"`
	VectorCount int       `json:"vector_count"`
	PublishedAt time.Time `json:"published_at"`
}

// SwapTopic is the bus topic carrying swap announcements.
const SwapTopic = "index.swap"
