// Package store provides SQLite-backed durable storage for replica change logs.
//
// The store keeps, per replica name:
//   - Replicas: the actor id the replica writes under
//   - Changes: every change the replica holds, in the order it was appended
//   - Sync States: the persisted part of each peer sync state
//
// # Patterns
//
// Idempotent append:
//   - UNIQUE(replica, hash) with ON CONFLICT DO NOTHING
//   - Saving the same change twice is a no-op
//
// Deterministic reads:
//   - Changes are read back ORDER BY seq ASC, the append order
//   - Causal order is preserved because a replica only ever appends changes
//     after their dependencies
//
// Verified reads:
//   - Each stored change body is re-hashed on load; a mismatch is a DecodeError
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
