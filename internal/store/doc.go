// Package store is the SQLite adapter for the cache ports.
//
// Tables:
//   - inboxes: one row per inbox, with a derived conversation count
//   - conversations: upserted on every sync; created_at is write-once
//   - messages: insert-once, keyed by message id
//   - sync_state: per-inbox checkpoint (watermark, resume anchor, total)
//
// # Database Configuration
//
//   - WAL mode: readers (stats) do not block the sync writer
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - a single open connection; the engine is the only writer
//
// Older cache files that predate the threading columns are upgraded in
// place on Open. Existing rows keep their data and get depth 0 until the
// next sync repairs them.
package store
