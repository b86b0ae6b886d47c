// Package vectorindex provides the in-memory similarity-search structures
// used by index versions. It implements the driven.VectorIndex interface.
//
// Two structures are available:
//
//   - Flat: exact inner-product search over L2-normalised vectors.
//   - IVF: vectors clustered with spherical k-means into inverted lists;
//     queries scan only the NProbe clusters closest to the query.
//
// Build picks between them by vector count. Both are immutable once
// built, so concurrent searches need no locking.
package vectorindex
