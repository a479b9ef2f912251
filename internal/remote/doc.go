// Package remote is the typed data-access layer over the Postgres users
// table.
//
// Postgres reads and writes rows with lib/pq. Balance changes that must
// not race (spending and crediting coins) are single conditional UPDATE
// statements, so the floor-at-zero check and the decrement happen
// atomically on the server.
//
// Listener turns LISTEN/NOTIFY into the realtime change feed. Migrate
// installs a trigger that publishes every users row change on the
// users_changes channel as {type, table, new, old} JSON.
package remote
