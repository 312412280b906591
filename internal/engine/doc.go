// Package engine implements the carelog optimistic state controller.
//
// A Controller holds one subject's recent entities (sessions or
// assessments) in memory, serves reads from them and applies mutations
// locally before the store confirms them.
//
// ARCHITECTURE:
//
// Mutation Flow:
// 1. Save/Update/Delete queue FIFO behind any mutation already running
// 2. The entity is validated locally; a failure never reaches the store
// 3. The Planner turns the mutation into one ir.Batch: the entity
// document plus the delta increments for its day, week and month
// 4. The item list and Projection are updated and the state is Saving
// 5. The batch commits; on failure the pre-mutation snapshot is restored
//
// Load Flow:
// Loads within the TTL return without I/O. Concurrent loads share one
// fetch. A fetch that raced a mutation is discarded, since the store
// may not reflect the optimistic state yet.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Every applied mutation and every commit outcome advances Clock. A load
// compares the generation it started at with the current one.
//
// Exact Rollback:
// Mutations never modify the item list in place. The snapshot is the
// previous slice itself, and the projection restores from a checkpoint.
//
// Locks and I/O:
// The state lock is never held across a store call. Once a mutation
// starts it runs to completion, even if the caller's context ends.
package engine
