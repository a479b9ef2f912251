// Package store provides SQLite-backed durable storage for the local coin cache.
//
// The store holds two tables:
//   - kv_cache: persisted key/value pairs (coins_count, pro_status), no expiry
//   - balance_log: append-only record of every applied balance update
//
// # Ordering
//
// balance_log rows are ordered by seq (the logical clock of the session that
// applied them), never by recorded_at. All list queries use
// ORDER BY seq ASC, id ASC so repeated reads return identical results.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Cache values are stored as canonical JSON (see model.MarshalCanonical).
package store
