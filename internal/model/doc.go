// Package model provides the typed records shared by every coinsync package.
//
// This package contains type definitions and boundary validation only.
// All other internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Coin amounts are int64 and never negative once they cross the boundary
//   - All JSON tags use snake_case and match the remote users table columns
//   - Ordering uses logical sequence numbers (Seq), never wall-clock timestamps
package model
