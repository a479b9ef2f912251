// Package engine reconciles a user's coin balance and pro status between
// the local cache, remote reads and the realtime change feed.
//
// ARCHITECTURE:
//
// Every displayed balance lives in a BalanceState. Three writers feed it:
//   - Seed: the cached value read at startup (SourceCache)
//   - BalanceFetcher: a confirmed remote read with retry (SourceFetch)
//   - RealtimeSubscriber: a confirmed change event (SourcePush)
//
// ORDERING:
//
// Each update is stamped with a seq from the state's logical Clock the
// moment its operation completes. The state keeps the update with the
// highest seq, so the latest completion wins regardless of which writer
// produced it. A stale stamp that reaches the state late is dropped.
//
// Cache-sourced updates never replace a confirmed one. Cache writes happen
// under the state lock, so after any applied update the cache equals the
// displayed value.
//
// Closing a state (unmount) drops every later update. In-flight requests
// are cancelled through their context.
//
// Session wires one uid to all of the above and replaces the ambient
// provider objects a UI would otherwise reach for.
package engine
