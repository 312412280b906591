// Package harness provides behavioral scenario testing for the carelog
// session engine.
//
// A scenario seeds a fresh store, drives a Sessions controller through a
// flow of mutations under a fixed clock, and asserts on the stored
// aggregates, the day cache and the controller state. Every committed
// batch is written to the trace, so a golden snapshot pins the exact
// increments each step produced.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	now: "2026-03-14T09:00:00Z"
//	setup:
//	  - { id: s-0, kind: fluid, at: "-3h", volume: 100 }
//	flow:
//	  - log: { id: s-1, kind: medication, name: benazepril }
//	  - edit: { id: s-1, missed: true }
//	  - remove: s-0
//	    fail_commit: true
//	    expect: { error: persistence }
//	  - advance: 30m
//	assertions:
//	  - type: daily
//	    date: "2026-03-14"
//	    expect: { medication_doses_given: 0, medication_missed: 1 }
//	  - type: logged_near
//	    name: benazepril
//	    at: "2026-03-14T08:00:00Z"
//
// Times are RFC 3339 or durations relative to the scenario clock.
//
// # Assertion Types
//
//   - daily, weekly: subset match on the stored document of a date
//   - monthly: subset match on the month read back, rollups included
//   - today: subset match on the controller's day cache
//   - logged_near: dedup lookup for a treatment name around a time
//   - sessions: loaded session IDs, newest first
//   - batch_count: number of batches committed through the controller
//   - state: controller state name
//   - no_drift: stored aggregates equal a replay of the stored sessions
//
// # Deterministic Testing
//
// Each scenario runs in its own in-memory SQLite database with a clock
// that moves only on advance steps. Session IDs come from the scenario.
// Batch IDs and timestamps are left out of the trace, so traces are
// identical across runs.
package harness
