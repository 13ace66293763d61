// Package tasks is a record-keyed task store.
//
// A Store assigns identifiers to submitted tasks, keeps them in a
// state.StateStore, normalizes mutable fields and reports committed
// transitions to a Notifier.
//
// # Basic Usage
//
//	store := tasks.NewStore(state.NewMemoryStore(),
//	    tasks.WithLimits(tasks.BoundedLimits),
//	    tasks.WithNotifier(tasks.NewBusNotifier(b, "taskkit.events")),
//	)
//
//	id, err := store.Create(ctx, tasks.Draft{Title: "Write report", Priority: 9})
//	// id == "1", stored priority == 5
//
//	err = store.Complete(ctx, id)
//	err = store.Complete(ctx, id) // errors.Is(err, tasks.ErrAlreadyCompleted)
//
//	for id, t := range store.List(ctx) {
//	    fmt.Println(id, t.Title)
//	}
//
// # Identifiers
//
// Monotonic issues "1", "2", ... and never reuses an id. Random issues UUIDv4
// strings and retries when a candidate is already stored. Both keep their
// position in the backend, so processes sharing a NATS or Postgres backend
// continue one sequence.
//
// # Counting
//
// Count is the number of stored tasks. Allocated is the high-water mark of
// tasks ever created, deleted ones included.
//
// # Notifications
//
// Created, Completed and Deleted events are delivered after the write has
// committed. A notifier error is logged and never returned, so a failing
// observer cannot leave the store inconsistent. Field updates emit Updated
// only with WithUpdateEvents.
//
// # Thread Safety
//
// A Store is safe for concurrent use. Mutations are serialized; with
// WithWriterLock they are also serialized across processes.
package tasks
