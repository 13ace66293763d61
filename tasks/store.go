package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	kerrors "github.com/vinayprograms/taskkit/errors"
	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/state"
)

// DefaultKeyPrefix namespaces the store's keys in the state backend.
const DefaultKeyPrefix = "tasks"

// meta is the store-wide counter record.
type meta struct {
	// Allocated counts every task ever created or imported.
	Allocated uint64 `json:"allocated"`

	// Cursor is the allocator position.
	Cursor uint64 `json:"cursor"`
}

// Store owns a keyed collection of tasks on a state backend.
//
// Mutations are serialized by an internal mutex, and optionally by the
// backend's writer lock so several processes sharing a backend act as one
// writer. Notifications go out after the write and after both locks are
// released.
type Store struct {
	kv           state.StateStore
	alloc        Allocator
	notifier     Notifier
	limits       Limits
	now          func() time.Time
	logger       *logging.Logger
	prefix       string
	updateEvents bool
	lockTTL      time.Duration

	mu     sync.RWMutex
	writer state.Lock // held while a mutation runs under WithWriterLock
}

// importRefreshEvery is how many imported tasks are written between
// writer lock refreshes.
const importRefreshEvery = 64

// Option configures a Store.
type Option func(*Store)

// WithAllocator sets the identifier strategy. Default: Monotonic{}.
func WithAllocator(a Allocator) Option {
	return func(s *Store) {
		s.alloc = a
	}
}

// WithNotifier sets the transition observer.
func WithNotifier(n Notifier) Option {
	return func(s *Store) {
		s.notifier = n
	}
}

// WithLimits sets text field caps.
func WithLimits(l Limits) Option {
	return func(s *Store) {
		s.limits = l
	}
}

// WithClock sets the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithKeyPrefix namespaces the backend keys. Default: "tasks".
func WithKeyPrefix(p string) Option {
	return func(s *Store) {
		s.prefix = p
	}
}

// WithUpdateEvents emits Updated for field edits and non-completing status
// changes. Off by default.
func WithUpdateEvents() Option {
	return func(s *Store) {
		s.updateEvents = true
	}
}

// WithWriterLock takes the backend lock "<prefix>.writer" around every
// mutation. Contention fails with RESOURCE_BUSY.
func WithWriterLock(ttl time.Duration) Option {
	return func(s *Store) {
		s.lockTTL = ttl
	}
}

// NewStore creates a store over kv.
func NewStore(kv state.StateStore, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		alloc:    Monotonic{},
		notifier: nopNotifier{},
		now:      time.Now,
		prefix:   DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	return s
}

func (s *Store) taskKey(id ID) string {
	return s.prefix + ".task." + string(id)
}

func (s *Store) taskPrefix() string {
	return s.prefix + ".task."
}

func (s *Store) metaKey() string {
	return s.prefix + ".meta"
}

// Create stores a new pending task and returns its id.
func (s *Store) Create(ctx context.Context, d Draft) (ID, error) {
	if err := s.limits.checkTitle(d.Title); err != nil {
		return "", err
	}
	if err := s.limits.checkDescription(d.Description); err != nil {
		return "", err
	}

	var task *Task
	err := s.mutate(ctx, func(ctx context.Context) error {
		m, err := s.loadMeta(ctx)
		if err != nil {
			return err
		}

		id, cursor, err := s.alloc.Allocate(ctx, m.Cursor, s.taken)
		if err != nil {
			return err
		}
		m.Cursor = cursor
		m.Allocated++

		task = &Task{
			ID:          id,
			Title:       d.Title,
			Description: d.Description,
			Priority:    ClampPriority(d.Priority),
			Status:      StatusPending,
			CreatedAt:   s.now(),
			Seq:         m.Allocated,
		}
		if d.DueDate != nil {
			due := *d.DueDate
			task.DueDate = &due
		}

		// Counter first: a crash between the writes leaves a gap, never a reused id.
		if err := s.saveMeta(ctx, m); err != nil {
			return err
		}
		return s.saveTask(ctx, task)
	})
	if err != nil {
		return "", err
	}

	s.logger.TaskCreated(string(task.ID), task.Priority)
	s.notify(ctx, Created(task.ID, task.Title, task.Priority))
	return task.ID, nil
}

// Get returns a copy of the task stored under id.
func (s *Store) Get(ctx context.Context, id ID) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadTask(ctx, id)
}

// Update applies the set fields of c. Empty changes still require the task
// to exist but write nothing.
func (s *Store) Update(ctx context.Context, id ID, c Changes) error {
	if c.Title != nil {
		if err := s.limits.checkTitle(*c.Title); err != nil {
			return err
		}
	}
	if c.Description != nil {
		if err := s.limits.checkDescription(*c.Description); err != nil {
			return err
		}
	}

	err := s.mutate(ctx, func(ctx context.Context) error {
		task, err := s.loadTask(ctx, id)
		if err != nil {
			return err
		}
		if c.Empty() {
			return nil
		}

		if c.Title != nil {
			task.Title = *c.Title
		}
		if c.Description != nil {
			task.Description = *c.Description
		}
		if c.Priority != nil {
			task.Priority = ClampPriority(*c.Priority)
		}
		if c.DueDate != nil {
			due := *c.DueDate
			task.DueDate = &due
		}
		return s.saveTask(ctx, task)
	})
	if err != nil || c.Empty() {
		return err
	}

	s.logger.TaskUpdated(string(id), c.Fields())
	if s.updateEvents {
		s.notify(ctx, Updated(id))
	}
	return nil
}

// UpdatePriority sets the clamped priority of an existing task.
func (s *Store) UpdatePriority(ctx context.Context, id ID, p int) error {
	return s.Update(ctx, id, Changes{Priority: &p})
}

// Complete marks a task done. A second call fails with ALREADY_COMPLETED.
func (s *Store) Complete(ctx context.Context, id ID) error {
	err := s.mutate(ctx, func(ctx context.Context) error {
		task, err := s.loadTask(ctx, id)
		if err != nil {
			return err
		}
		if task.Completed() {
			return kerrors.AlreadyCompleted(string(id))
		}
		task.Status = StatusDone
		return s.saveTask(ctx, task)
	})
	if err != nil {
		return err
	}

	s.logger.TaskCompleted(string(id))
	s.notify(ctx, Completed(id))
	return nil
}

// SetStatus moves a task to any of the three states. Entering done emits
// Completed; setting the current status is a no-op.
func (s *Store) SetStatus(ctx context.Context, id ID, status Status) error {
	if !status.Valid() {
		return kerrors.InvalidInput(fmt.Sprintf("unknown status %q", status))
	}

	var from Status
	err := s.mutate(ctx, func(ctx context.Context) error {
		task, err := s.loadTask(ctx, id)
		if err != nil {
			return err
		}
		from = task.Status
		if from == status {
			return nil
		}
		task.Status = status
		return s.saveTask(ctx, task)
	})
	if err != nil || from == status {
		return err
	}

	if status == StatusDone {
		s.logger.TaskCompleted(string(id))
		s.notify(ctx, Completed(id))
		return nil
	}
	s.logger.TaskUpdated(string(id), []string{"status"})
	if s.updateEvents {
		s.notify(ctx, Updated(id))
	}
	return nil
}

// Delete removes a task.
func (s *Store) Delete(ctx context.Context, id ID) error {
	err := s.mutate(ctx, func(ctx context.Context) error {
		if _, err := s.loadTask(ctx, id); err != nil {
			return err
		}
		if err := s.kv.Delete(ctx, s.taskKey(id)); err != nil {
			return kerrors.Wrap(err, "delete task", kerrors.WithTaskID(string(id)))
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.TaskDeleted(string(id))
	s.notify(ctx, Deleted(id))
	return nil
}

// Count returns the number of stored tasks.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.kv.Keys(ctx, s.taskPrefix())
	if err != nil {
		return 0, kerrors.Wrap(err, "list task keys")
	}
	return len(keys), nil
}

// Allocated returns how many tasks were ever created, deleted ones included.
func (s *Store) Allocated(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.loadMeta(ctx)
	if err != nil {
		return 0, err
	}
	return m.Allocated, nil
}

// Tasks returns every stored task ordered by Seq.
func (s *Store) Tasks(ctx context.Context) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.kv.Keys(ctx, s.taskPrefix())
	if err != nil {
		return nil, kerrors.Wrap(err, "list task keys")
	}

	out := make([]Task, 0, len(keys))
	for _, key := range keys {
		task, err := s.loadTask(ctx, ID(strings.TrimPrefix(key, s.taskPrefix())))
		if errors.Is(err, ErrNotFound) {
			// Deleted by another process since Keys.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *task)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// List yields (id, task) pairs ordered by Seq. Each range re-reads the
// backend; a read failure ends the sequence and is logged.
func (s *Store) List(ctx context.Context) iter.Seq2[ID, Task] {
	return func(yield func(ID, Task) bool) {
		all, err := s.Tasks(ctx)
		if err != nil {
			s.logger.Error("list_failed", map[string]any{"error": err.Error()})
			return
		}
		for _, t := range all {
			if !yield(t.ID, t) {
				return
			}
		}
	}
}

// Snapshot returns the collection for persistence.
func (s *Store) Snapshot(ctx context.Context) ([]Task, error) {
	return s.Tasks(ctx)
}

// Import stores tasks loaded from elsewhere, keeping their ids. Tasks are
// re-sequenced in input order, priorities clamped, and the allocator moved
// past every imported id. An id that is already stored fails with
// INVALID_INPUT and nothing is written. No notifications are sent.
func (s *Store) Import(ctx context.Context, in []Task) error {
	seen := make(map[ID]bool, len(in))
	for _, t := range in {
		if t.ID == "" {
			return kerrors.InvalidInput("imported task has no id")
		}
		if err := state.ValidateKey(s.taskKey(t.ID)); err != nil {
			return kerrors.InvalidInput(fmt.Sprintf("imported task id %q is not storable", t.ID))
		}
		if seen[t.ID] {
			return kerrors.InvalidInput(fmt.Sprintf("duplicate task id %q", t.ID))
		}
		if !t.Status.Valid() {
			return kerrors.InvalidInput(fmt.Sprintf("task %s has unknown status %q", t.ID, t.Status))
		}
		if err := s.limits.checkTitle(t.Title); err != nil {
			return err
		}
		if err := s.limits.checkDescription(t.Description); err != nil {
			return err
		}
		seen[t.ID] = true
	}

	return s.mutate(ctx, func(ctx context.Context) error {
		for _, t := range in {
			taken, err := s.taken(ctx, t.ID)
			if err != nil {
				return err
			}
			if taken {
				return kerrors.InvalidInput(fmt.Sprintf("task id %q is already stored", t.ID),
					kerrors.WithTaskID(string(t.ID)))
			}
		}

		m, err := s.loadMeta(ctx)
		if err != nil {
			return err
		}
		for _, t := range in {
			m.Allocated++
			m.Cursor = s.alloc.Observe(m.Cursor, t.ID)
		}
		if err := s.saveMeta(ctx, m); err != nil {
			return err
		}

		seq := m.Allocated - uint64(len(in))
		for i, t := range in {
			if i > 0 && i%importRefreshEvery == 0 {
				if err := s.refreshWriter(); err != nil {
					return err
				}
			}
			seq++
			task := t.Clone()
			task.Priority = ClampPriority(task.Priority)
			task.Seq = seq
			if err := s.saveTask(ctx, task); err != nil {
				return err
			}
		}
		return nil
	})
}

// mutate runs fn under the store mutex and, if configured, the backend
// writer lock.
func (s *Store) mutate(ctx context.Context, fn func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockTTL > 0 {
		lock, err := s.kv.Lock(ctx, s.prefix+".writer", s.lockTTL)
		if errors.Is(err, state.ErrLockHeld) {
			return kerrors.Busy("task store is locked by another writer")
		}
		if err != nil {
			return kerrors.Wrap(err, "acquire writer lock")
		}
		s.writer = lock
		defer func() {
			s.writer = nil
			if err := lock.Unlock(); err != nil {
				s.logger.Warn("writer_unlock_failed", map[string]any{"error": err.Error()})
			}
		}()
	}
	return fn(ctx)
}

// refreshWriter extends the writer lock of the running mutation. Callers
// must hold s.mu.
func (s *Store) refreshWriter() error {
	if s.writer == nil {
		return nil
	}
	if err := s.writer.Refresh(); err != nil {
		return kerrors.Wrap(err, "refresh writer lock")
	}
	return nil
}

// notify delivers e. Failures are logged, never returned.
func (s *Store) notify(ctx context.Context, e Event) {
	e.At = s.now()
	if err := s.notifier.Notify(ctx, e); err != nil {
		s.logger.NotifyFailed(string(e.Kind), string(e.ID), err)
	}
}

func (s *Store) taken(ctx context.Context, id ID) (bool, error) {
	_, err := s.kv.Get(ctx, s.taskKey(id))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, state.ErrNotFound):
		return false, nil
	case errors.Is(err, state.ErrInvalidKey):
		return true, nil
	default:
		return false, kerrors.Wrap(err, "check id")
	}
}

func (s *Store) loadTask(ctx context.Context, id ID) (*Task, error) {
	data, err := s.kv.Get(ctx, s.taskKey(id))
	if errors.Is(err, state.ErrNotFound) || errors.Is(err, state.ErrInvalidKey) {
		return nil, kerrors.NotFound(string(id))
	}
	if err != nil {
		return nil, kerrors.Wrap(err, "load task", kerrors.WithTaskID(string(id)))
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, kerrors.Corruption(fmt.Sprintf("decode task %s: %v", id, err), kerrors.WithTaskID(string(id)))
	}
	return &task, nil
}

func (s *Store) saveTask(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return kerrors.Wrap(err, "encode task", kerrors.WithTaskID(string(task.ID)))
	}
	if err := s.kv.Put(ctx, s.taskKey(task.ID), data); err != nil {
		return kerrors.Wrap(err, "save task", kerrors.WithTaskID(string(task.ID)))
	}
	return nil
}

func (s *Store) loadMeta(ctx context.Context) (meta, error) {
	data, err := s.kv.Get(ctx, s.metaKey())
	if errors.Is(err, state.ErrNotFound) {
		return meta{}, nil
	}
	if err != nil {
		return meta{}, kerrors.Wrap(err, "load store counters")
	}

	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return meta{}, kerrors.Corruption(fmt.Sprintf("decode store counters: %v", err))
	}
	return m, nil
}

func (s *Store) saveMeta(ctx context.Context, m meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return kerrors.Wrap(err, "encode store counters")
	}
	if err := s.kv.Put(ctx, s.metaKey(), data); err != nil {
		return kerrors.Wrap(err, "save store counters")
	}
	return nil
}
