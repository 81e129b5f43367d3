// Package store mirrors a search log into SQLite for querying.
//
// The log file is the only state a search needs; the store is an index over
// it. Two tables are kept:
//   - sessions: one row per S record, with the run that wrote it
//   - outcomes: one row per H, E or P record, keyed by the normalized pair
//
// # Idempotency
//
// Every insert uses ON CONFLICT DO NOTHING against a natural key, so
// re-importing a log, or a live run re-reporting a pair that replay already
// indexed, leaves the store unchanged.
//
// # Ordering
//
// Listings are ordered by seq, the insertion order, which matches log order
// for a single writer.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
