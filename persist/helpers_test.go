package persist

import (
	"testing"

	"github.com/vinayprograms/taskkit/state"
	"github.com/vinayprograms/taskkit/tasks"
)

func newMemoryStore(t *testing.T) *tasks.Store {
	t.Helper()
	kv := state.NewMemoryStore()
	t.Cleanup(func() { kv.Close() })
	return tasks.NewStore(kv, tasks.WithAllocator(tasks.Random{}))
}
