// Package harness runs balance scenarios against a real session.
//
// A scenario seeds a scripted users table and the local cache, drives an
// engine.Session through a list of steps and checks the outcome of each
// step, the resulting trace and the final cache. Every step runs against
// the actual fetcher, subscriber, resolver and guard; nothing is
// manufactured from the expectations.
//
// # Scenario Format
//
//	name: push_then_late_fetch
//	description: "A fetch completing after a push wins"
//	uid: u1
//	remote:
//	  - { uid: u1, coins: 100 }
//	cache:
//	  coins_count: 50
//	setup:
//	  - action: start
//	flow:
//	  - action: begin_fetch
//	    args: { id: slow }
//	  - action: push
//	    args: { coins: 80 }
//	  - action: set_remote
//	    args: { coins: 120 }
//	  - action: complete_fetch
//	    args: { id: slow }
//	    expect:
//	      case: Confirmed
//	      result: { coins: 120 }
//	assertions:
//	  - type: final_cache
//	    expect: { coins_count: 120 }
//
// # Actions
//
//   - start, fetch: Session.Start and Session.Refresh
//   - begin_fetch, complete_fetch: a fetch held open until completed
//   - push: update the remote row and deliver the change event
//   - set_remote, fail_remote: change the row silently, script failures
//   - resolve_pro, can_afford, check: pro status and the coin guard
//   - spend: atomic server-side spend followed by its change event
//   - display, cache_get, cache_clear: observe or reset local state
//   - unmount, logout: Session.Close and Session.Logout
//
// # Assertion Types
//
//   - trace_contains, trace_order, trace_count: over invoked actions
//   - final_state: a row of the local store (kv_cache, balance_log)
//   - final_cache: decoded cache values; null means absent
//   - final_balance: the displayed balance
//
// # Deterministic Testing
//
// Scenarios run in a fresh in-memory store with a deterministic clock,
// fixed channel names and a retry sleeper that never sleeps, so traces
// are identical run to run and can be compared with golden files.
package harness
