package state

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PgStore implements StateStore on a PostgreSQL table. Locks are
// session-level advisory locks held on a dedicated pool connection.
type PgStore struct {
	pool   *pgxpool.Pool
	table  string
	closed atomic.Bool

	lockMu sync.Mutex
	locks  map[string]*pgLock
}

// NewPgStore creates a PgStore over table. The pool belongs to the caller.
func NewPgStore(pool *pgxpool.Pool, table string) (*PgStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool required")
	}
	if table == "" {
		table = "taskkit_kv"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PgStore{
		pool:  pool,
		table: table,
		locks: make(map[string]*pgLock),
	}, nil
}

// EnsureTable creates the key-value table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table))
	if err != nil {
		return fmt.Errorf("ensure table %s: %w", s.table, err)
	}
	return nil
}

// Get retrieves a value by key.
func (s *PgStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var value []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table), key).
		Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Put upserts a value.
func (s *PgStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, s.table),
		key, value)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (s *PgStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table), key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys returns all keys with the given prefix, sorted.
func (s *PgStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT key FROM %s WHERE starts_with(key, $1) ORDER BY key`, s.table), prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}
	return keys, nil
}

// Lock takes a session advisory lock keyed by hashtext(key). The TTL bounds
// Refresh only; the lock itself lives until Unlock or connection loss.
func (s *PgStore) Lock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ValidateTTL(ttl); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	lk := lockKey(key)
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, lk).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, ErrLockHeld
	}

	l := &pgLock{
		store:    s,
		conn:     conn,
		key:      lk,
		ttl:      ttl,
		acquired: time.Now(),
	}
	s.lockMu.Lock()
	s.locks[lk] = l
	s.lockMu.Unlock()
	return l, nil
}

// Close releases held locks. The pool belongs to the caller.
func (s *PgStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.lockMu.Lock()
	held := s.locks
	s.locks = nil
	s.lockMu.Unlock()

	for _, l := range held {
		_ = l.Unlock()
	}
	return nil
}

type pgLock struct {
	store    *PgStore
	mu       sync.Mutex
	conn     *pgxpool.Conn
	key      string
	ttl      time.Duration
	acquired time.Time
	released atomic.Bool
}

func (l *pgLock) Unlock() error {
	if l.released.Swap(true) {
		return ErrLockNotHeld
	}

	l.store.lockMu.Lock()
	delete(l.store.locks, l.key)
	l.store.lockMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.conn.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, l.key); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (l *pgLock) Refresh() error {
	if l.released.Load() {
		return ErrLockNotHeld
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.acquired) > l.ttl {
		return ErrLockExpired
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.conn.Ping(ctx); err != nil {
		return ErrLockExpired
	}
	l.acquired = time.Now()
	return nil
}

func (l *pgLock) Key() string {
	return l.key
}
