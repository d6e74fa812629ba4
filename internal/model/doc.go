// Package model defines the change/operation model of the replicated document.
//
// This package contains value types only. Every other internal package
// imports model; model imports nothing internal.
//
// Key design constraints:
//   - Changes are immutable once sealed and identified by a content hash
//   - (actor, counter) pairs are globally unique; counters are Lamport clocks
//   - Scalars are a sealed tagged union, no floats (hash determinism)
//   - All JSON tags use snake_case
//   - Wall-clock time is informational only, never used for ordering
package model
