// Package config loads taskkit settings from a TOML file.
//
// Files are looked up in order: the --config flag, ./taskkit.toml, then
// ~/.config/taskkit/taskkit.toml. Missing keys fall back to Default, and
// TASKKIT_NATS_URL, TASKKIT_NATS_TOKEN, TASKKIT_PG_DSN and
// TASKKIT_LOG_LEVEL override the file.
//
// Example:
//
//	[store]
//	backend = "nats"
//	allocator = "monotonic"
//	writer_lock_ttl = "10s"
//
//	[nats]
//	url = "nats://127.0.0.1:4222"
//
//	[bus]
//	backend = "nats"
//
//	[server]
//	transport = "websocket"
//	listen = "127.0.0.1:7420"
//
//	[auth.tokens]
//	"s3cret" = "alice"
package config
