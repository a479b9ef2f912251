// Package cache is the persistent key-value cache behind the coin balance
// and pro-status flag.
//
// The contract is deliberately forgiving: Get reports a miss instead of an
// error, and Set/Clear log failures instead of returning them. Callers
// always have a value to show, even when local storage is unavailable.
//
// Entries never expire. They are overwritten on every confirmed remote
// value and removed as a pair on logout (ClearSession).
package cache
