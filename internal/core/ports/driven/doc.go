// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Interfaces
//
//   - ObjectStore: Durable blob storage for batches and index snapshots
//   - TaskQueue: Lane-partitioned, at-least-once work queue
//   - Bus: Publish-subscribe broadcast for swap announcements
//   - DocumentSource: Read access to the document corpus
//   - EmbeddingService: Generates vector embeddings
//   - VectorIndex: A built, read-only similarity-search structure
//   - RefreshStore: Refresh cycle status persistence
//   - SchedulerStore: Periodic trigger state and history persistence
//   - ConfigStore: Application configuration
//   - Normaliser: Plain-text extraction from formatted files
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
