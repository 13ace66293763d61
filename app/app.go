// Package app assembles a task store and its collaborators from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/taskkit/bus"
	"github.com/vinayprograms/taskkit/config"
	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/shutdown"
	"github.com/vinayprograms/taskkit/state"
	"github.com/vinayprograms/taskkit/tasks"
)

// App holds the opened backends. Bus is nil when bus.backend is "none".
type App struct {
	KV     state.StateStore
	Bus    bus.MessageBus
	Store  *tasks.Store
	Prefix string

	closers []namedCloser
}

type namedCloser struct {
	name  string
	phase int
	fn    func() error
}

// Open connects the configured backends and builds the store. On error
// everything opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	app := &App{Prefix: cfg.Bus.SubjectPrefix}
	if err := app.open(ctx, cfg, logger); err != nil {
		if cerr := app.Close(); cerr != nil {
			logger.Warn("closing partially opened backends", map[string]any{"error": cerr.Error()})
		}
		return nil, err
	}
	return app, nil
}

func (a *App) open(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	var conn *nats.Conn
	if cfg.Store.Backend == "nats" || cfg.Bus.Backend == "nats" {
		var err error
		conn, err = connectNATS(cfg.NATS)
		if err != nil {
			return err
		}
		a.add("nats", shutdown.PhaseBus+5, func() error {
			conn.Close()
			return nil
		})
		logger.Info("nats connected", map[string]any{"url": conn.ConnectedUrl()})
	}

	switch cfg.Store.Backend {
	case "memory":
		kv := state.NewMemoryStore()
		a.KV = kv
		a.add("state", shutdown.PhaseStore, kv.Close)
	case "nats":
		kv, err := state.NewNATSStore(state.NATSStoreConfig{Conn: conn, Bucket: cfg.NATS.Bucket})
		if err != nil {
			return fmt.Errorf("open nats kv: %w", err)
		}
		a.KV = kv
		a.add("state", shutdown.PhaseStore, kv.Close)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		a.add("postgres", shutdown.PhaseStore+5, func() error {
			pool.Close()
			return nil
		})
		kv, err := state.NewPgStore(pool, cfg.Postgres.Table)
		if err != nil {
			return err
		}
		if err := kv.EnsureTable(ctx); err != nil {
			return fmt.Errorf("ensure table: %w", err)
		}
		a.KV = kv
		a.add("state", shutdown.PhaseStore, kv.Close)
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	switch cfg.Bus.Backend {
	case "", "none":
	case "memory":
		b := bus.NewMemoryBus(bus.DefaultConfig())
		a.Bus = b
		a.add("bus", shutdown.PhaseBus, b.Close)
	case "nats":
		b := bus.NewNATSBusFromConn(conn, bus.DefaultNATSConfig())
		a.Bus = b
		a.add("bus", shutdown.PhaseBus, b.Close)
	default:
		return fmt.Errorf("unknown bus backend %q", cfg.Bus.Backend)
	}

	opts := StoreOptions(cfg)
	opts = append(opts, tasks.WithLogger(logger.WithComponent("tasks")))
	if a.Bus != nil {
		opts = append(opts, tasks.WithNotifier(tasks.NewBusNotifier(a.Bus, a.Prefix)))
	}
	a.Store = tasks.NewStore(a.KV, opts...)

	logger.Info("store opened", map[string]any{
		"backend":   cfg.Store.Backend,
		"allocator": cfg.Store.Allocator,
		"bus":       cfg.Bus.Backend,
	})
	return nil
}

// StoreOptions maps the [store] section to store options. Notifier and
// logger are left to the caller.
func StoreOptions(cfg *config.Config) []tasks.Option {
	sc := cfg.Store
	var opts []tasks.Option

	switch sc.Allocator {
	case "random":
		opts = append(opts, tasks.WithAllocator(tasks.Random{}))
	default:
		opts = append(opts, tasks.WithAllocator(tasks.Monotonic{Max: sc.MaxID}))
	}
	if sc.MaxTitleBytes > 0 || sc.MaxDescriptionBytes > 0 {
		opts = append(opts, tasks.WithLimits(tasks.Limits{
			MaxTitleBytes:       sc.MaxTitleBytes,
			MaxDescriptionBytes: sc.MaxDescriptionBytes,
		}))
	}
	if sc.KeyPrefix != "" {
		opts = append(opts, tasks.WithKeyPrefix(sc.KeyPrefix))
	}
	if sc.UpdateEvents {
		opts = append(opts, tasks.WithUpdateEvents())
	}
	if sc.WriterLockTTL.Duration > 0 {
		opts = append(opts, tasks.WithWriterLock(sc.WriterLockTTL.Duration))
	}
	return opts
}

// Register hands every backend to the coordinator in its phase.
func (a *App) Register(c *shutdown.Coordinator) {
	for _, nc := range a.closers {
		c.RegisterWithPhase(nc.name, shutdown.CloserFunc(nc.fn), nc.phase)
	}
	a.closers = nil
}

// Close closes every backend in phase order. Safe after Register, where it
// does nothing.
func (a *App) Close() error {
	closers := slices.Clone(a.closers)
	a.closers = nil
	slices.SortStableFunc(closers, func(x, y namedCloser) int { return x.phase - y.phase })

	var errs []error
	for _, nc := range closers {
		if err := nc.fn(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", nc.name, err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) add(name string, phase int, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, phase: phase, fn: fn})
}

func connectNATS(nc config.NATSConfig) (*nats.Conn, error) {
	bc := bus.DefaultNATSConfig()
	opts := []nats.Option{
		nats.ReconnectWait(bc.ReconnectWait),
		nats.MaxReconnects(bc.MaxReconnects),
		nats.Timeout(bc.ConnectTimeout),
	}
	if nc.Name != "" {
		opts = append(opts, nats.Name(nc.Name))
	}
	if nc.Token != "" {
		opts = append(opts, nats.Token(nc.Token))
	}
	conn, err := nats.Connect(nc.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", nc.URL, err)
	}
	return conn, nil
}
