// Package config loads taskkit configuration from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when a config file holding auth tokens
// is readable by group or others.
var ErrInsecurePermissions = fmt.Errorf("config file has insecure permissions")

// Config is the full taskkit configuration.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	NATS      NATSConfig      `toml:"nats"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Bus       BusConfig       `toml:"bus"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	File      FileConfig      `toml:"file"`
}

// StoreConfig selects the state backend and core behavior.
type StoreConfig struct {
	Backend             string   `toml:"backend"`   // memory | nats | postgres
	Allocator           string   `toml:"allocator"` // monotonic | random
	MaxID               uint64   `toml:"max_id"`    // 0 = unbounded
	MaxTitleBytes       int      `toml:"max_title_bytes"`
	MaxDescriptionBytes int      `toml:"max_description_bytes"`
	UpdateEvents        bool     `toml:"update_events"`
	WriterLockTTL       Duration `toml:"writer_lock_ttl"` // 0 = no cross-process lock
	KeyPrefix           string   `toml:"key_prefix"`
}

// NATSConfig configures the NATS connection shared by store and bus.
type NATSConfig struct {
	URL    string `toml:"url"`
	Name   string `toml:"name"`
	Bucket string `toml:"bucket"`
	Token  string `toml:"token"`
}

// PostgresConfig configures the Postgres state backend.
type PostgresConfig struct {
	DSN   string `toml:"dsn"`
	Table string `toml:"table"`
}

// BusConfig selects where notifications are published.
type BusConfig struct {
	Backend       string `toml:"backend"` // none | memory | nats
	SubjectPrefix string `toml:"subject_prefix"`
}

// ServerConfig configures the RPC surface of taskd.
type ServerConfig struct {
	Transport         string   `toml:"transport"` // stdio | websocket
	Listen            string   `toml:"listen"`
	Path              string   `toml:"path"`
	Name              string   `toml:"name"`               // heartbeat instance; default hostname
	HeartbeatInterval Duration `toml:"heartbeat_interval"` // 0 = no heartbeats
}

// AuthConfig maps bearer tokens to caller names.
type AuthConfig struct {
	Tokens         map[string]string `toml:"tokens"`
	AllowAnonymous bool              `toml:"allow_anonymous"`
}

// RateLimitConfig caps requests per caller. Zero requests disables it.
type RateLimitConfig struct {
	Requests int      `toml:"requests"`
	Window   Duration `toml:"window"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text | json | logfmt
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled       bool              `toml:"enabled"`
	Endpoint      string            `toml:"endpoint"`
	Protocol      string            `toml:"protocol"` // grpc | http
	Insecure      bool              `toml:"insecure"`
	ServiceName   string            `toml:"service_name"`
	Headers       map[string]string `toml:"headers"`
	BatchTimeout  Duration          `toml:"batch_timeout"`  // 0 = exporter default
	ExportTimeout Duration          `toml:"export_timeout"` // 0 = exporter default
	RecordTitles  bool              `toml:"record_titles"`
}

// FileConfig configures file persistence for the interactive tool.
type FileConfig struct {
	Path   string `toml:"path"`
	Format string `toml:"format"` // native | legacy
}

// Duration is a time.Duration decoded from TOML strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:   "memory",
			Allocator: "monotonic",
			KeyPrefix: "tasks",
		},
		NATS: NATSConfig{
			URL:    "nats://127.0.0.1:4222",
			Name:   "taskkit",
			Bucket: "taskkit",
		},
		Postgres: PostgresConfig{
			Table: "taskkit_kv",
		},
		Bus: BusConfig{
			Backend:       "none",
			SubjectPrefix: "taskkit.events",
		},
		Server: ServerConfig{
			Transport:         "stdio",
			Listen:            "127.0.0.1:7420",
			Path:              "/rpc",
			HeartbeatInterval: Duration{5 * time.Second},
		},
		Auth: AuthConfig{
			Tokens: map[string]string{},
		},
		RateLimit: RateLimitConfig{
			Window: Duration{time.Minute},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "taskkit",
		},
		File: FileConfig{
			Path:   "tasks.json",
			Format: "native",
		},
	}
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"taskkit.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskkit", "taskkit.toml"))
	}
	return paths
}

// Load reads explicit if set, otherwise the first standard path that
// exists, otherwise returns Default. The returned path is empty when no
// file was read. Environment overrides apply in every case.
func Load(explicit string) (*Config, string, error) {
	if explicit != "" {
		cfg, err := LoadFile(explicit)
		return cfg, explicit, err
	}
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadFile(path)
			return cfg, path, err
		}
	}

	cfg := Default()
	cfg.applyEnv()
	return cfg, "", cfg.Validate()
}

// LoadFile decodes path over Default, applies environment overrides and
// validates the result. A file that defines auth tokens must not be
// readable by group or others.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if len(cfg.Auth.Tokens) > 0 && runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if mode := info.Mode().Perm(); mode&0o077 != 0 {
			return nil, fmt.Errorf("%w: %s has mode %04o, want 0600",
				ErrInsecurePermissions, path, mode)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv lets deployment secrets stay out of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("TASKKIT_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("TASKKIT_NATS_TOKEN"); v != "" {
		c.NATS.Token = v
	}
	if v := os.Getenv("TASKKIT_PG_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("TASKKIT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks enumerations and cross-section requirements.
func (c *Config) Validate() error {
	var errs []string
	oneOf := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Sprintf("%s %q must be one of %s", field, value, strings.Join(allowed, ", ")))
	}

	oneOf("store.backend", c.Store.Backend, "memory", "nats", "postgres")
	oneOf("store.allocator", c.Store.Allocator, "monotonic", "random")
	oneOf("bus.backend", c.Bus.Backend, "none", "memory", "nats")
	oneOf("server.transport", c.Server.Transport, "stdio", "websocket")
	oneOf("log.format", c.Log.Format, "text", "json", "logfmt")
	oneOf("telemetry.protocol", c.Telemetry.Protocol, "grpc", "http")
	oneOf("file.format", c.File.Format, "native", "legacy")

	if c.Store.MaxTitleBytes < 0 || c.Store.MaxDescriptionBytes < 0 {
		errs = append(errs, "store field limits must not be negative")
	}
	if c.Store.WriterLockTTL.Duration < 0 {
		errs = append(errs, "store.writer_lock_ttl must not be negative")
	}
	if c.Store.KeyPrefix == "" || strings.ContainsAny(c.Store.KeyPrefix, " *>") {
		errs = append(errs, fmt.Sprintf("store.key_prefix %q is not a valid key prefix", c.Store.KeyPrefix))
	}
	if strings.ContainsAny(c.Server.Name, ".*> ") {
		errs = append(errs, fmt.Sprintf("server.name %q must be a single subject token", c.Server.Name))
	}
	if c.Server.HeartbeatInterval.Duration < 0 {
		errs = append(errs, "server.heartbeat_interval must not be negative")
	}
	if c.RateLimit.Requests < 0 {
		errs = append(errs, "ratelimit.requests must not be negative")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window.Duration <= 0 {
		errs = append(errs, "ratelimit.window must be positive when requests is set")
	}
	if c.Store.Backend == "postgres" && c.Postgres.DSN == "" {
		errs = append(errs, "postgres.dsn is required for the postgres backend")
	}
	if (c.Store.Backend == "nats" || c.Bus.Backend == "nats") && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required for nats backends")
	}
	if c.Server.Transport == "websocket" && c.Server.Listen == "" {
		errs = append(errs, "server.listen is required for the websocket transport")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, "telemetry.endpoint is required when telemetry is enabled")
	}
	if c.Telemetry.BatchTimeout.Duration < 0 || c.Telemetry.ExportTimeout.Duration < 0 {
		errs = append(errs, "telemetry timeouts must not be negative")
	}
	if len(c.Auth.Tokens) == 0 && !c.Auth.AllowAnonymous && c.Server.Transport == "websocket" {
		errs = append(errs, "websocket transport needs auth.tokens or auth.allow_anonymous")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
