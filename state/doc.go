// Package state provides the key-value backends taskbot persists into.
//
// Four implementations are available:
//
//   - MemoryStore: in-process map, used by tests and ephemeral runs
//   - FileStore: one JSON file per key, replaced with write-then-rename
//   - SQLiteStore: a single kv table in a SQLite database
//   - NATSStore: a NATS JetStream KV bucket
//
// The task store writes its whole snapshot under one key, so each Put is
// the atomic unit of durability.
package state
