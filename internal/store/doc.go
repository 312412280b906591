// Package store provides SQLite-backed durable storage for carelog.
//
// The store holds two shapes of document:
//   - Records: sessions and assessments, written whole (replace) and read
//     newest first with a keyset cursor
//   - Documents: daily, weekly and monthly aggregates, written as sparse
//     field operations (merge) and read back as typed fields
//
// # Critical Patterns
//
// Batch Atomicity
//   - Every write of an ir.Batch is applied in one transaction
//   - A failing write rolls back the whole batch
//
// Batch Idempotency
//   - The batch ID is inserted into batches with ON CONFLICT DO NOTHING
//   - A batch already recorded is skipped, so a retried commit never
//     doubles its increments
//
// Increments in SQL
//   - Increments upsert with value = value + excluded.value
//   - No read-modify-write happens in Go
//
// Deterministic Query Results
//   - Recent records order by sort_at DESC, id DESC COLLATE BINARY
//   - Document fields order by field COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Cascade field rows with their document
package store
