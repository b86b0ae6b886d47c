// Package services implements the driving port interfaces.
// Services contain the refresh pipeline logic and orchestrate
// calls to driven ports (adapters).
//
// A refresh cycle flows through the task queue: the Orchestrator splits
// the corpus into embed tasks, the EmbeddingWorker writes one batch blob
// per task, the IndexBuilder merges the batches into a versioned index and
// the HotSwapCoordinator announces it to every IndexCache.
//
// Services are pure Go with no CGO.
package services
