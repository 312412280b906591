// Package ir provides the foundational types shared by every carelog package.
//
// This package contains value types and pure helpers only. All other internal
// packages import ir; ir imports nothing internal. This keeps the event and
// document vocabulary the bottom layer with no circular dependencies.
//
// Key design constraints:
//   - Aggregate fields are int64 counters; floats never reach a document write
//   - Document writes are sparse: a field absent from FieldOps is untouched
//   - Increments are atomic ops, never read-modify-write values
//   - All JSON tags and document field names use snake_case
//   - Day keys are local midnight in the timestamp's own location
package ir
