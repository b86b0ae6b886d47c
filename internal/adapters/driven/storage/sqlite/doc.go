// Package sqlite provides durable SQLite implementations of the pipeline's
// bookkeeping ports.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that
// requires no CGO. A single database file backs several ports:
//
//   - TaskQueue: lane-partitioned task queue with visibility-timeout leases
//   - RefreshStore: refresh cycle status, readable from any process
//   - SchedulerStore: periodic trigger state and execution history
//
// # Schema
//
// The schema is managed through versioned migrations in the migrations/
// directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Concurrency
//
// Workers in several processes may share one database. Every state
// transition runs in an IMMEDIATE transaction so two workers can never
// lease the same task.
package sqlite
