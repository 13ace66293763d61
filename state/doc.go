// Package state provides the durable key-value layer beneath the task store.
//
// The StateStore interface offers Get, Put, Delete, prefix listing and
// exclusive locking over interchangeable backends:
//
//   - MemoryStore: in-process, for tests and single-process use
//   - NATSStore: NATS JetStream KV bucket
//   - PgStore: a PostgreSQL table, with advisory locks
//
// # Usage
//
//	pool, _ := pgxpool.New(ctx, "postgres://localhost/taskkit")
//	store, _ := state.NewPgStore(pool, "taskkit_kv")
//	_ = store.EnsureTable(ctx)
//
//	store.Put(ctx, "tasks.task.1", data)
//	keys, _ := store.Keys(ctx, "tasks.task.")
//
//	lock, err := store.Lock(ctx, "tasks.writer", 30*time.Second)
//	if errors.Is(err, state.ErrLockHeld) {
//	    // another writer owns the collection
//	}
//	defer lock.Unlock()
package state
