// Package domain defines the core business entities for the Sercha indexer.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: An opaque text blob owned by the document source
//   - EmbeddingBatch: Vectors produced by one embedding task
//   - IndexVersion: One immutable, published similarity-search index
//   - Task: A unit of work routed to a queue lane
//   - RefreshStats: Progress and throughput of one refresh cycle
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
