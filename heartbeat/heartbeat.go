package heartbeat

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/vinayprograms/taskkit/bus"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// DefaultSubjectPrefix is where servers announce themselves. It sits beside
// the task event subjects, not under them.
const DefaultSubjectPrefix = "taskkit.heartbeat"

// Server statuses.
const (
	StatusServing  = "serving"
	StatusDraining = "draining"
)

// Heartbeat is one liveness announcement from a server instance.
type Heartbeat struct {
	Instance  string            `json:"instance"`
	Timestamp time.Time         `json:"timestamp"`
	Status    string            `json:"status"`
	Sessions  int               `json:"sessions"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Marshal serializes a heartbeat to JSON.
func (h *Heartbeat) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// Unmarshal deserializes a heartbeat from JSON.
func Unmarshal(data []byte) (*Heartbeat, error) {
	var h Heartbeat
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Subject returns the subject h is published on under prefix.
func (h *Heartbeat) Subject(prefix string) string {
	return prefix + "." + h.Instance
}

// SenderConfig configures a heartbeat sender.
type SenderConfig struct {
	// Bus is the message bus for publishing heartbeats.
	Bus bus.MessageBus

	// Instance identifies this server. Must be a single subject token.
	Instance string

	// Prefix is the subject prefix. Default: DefaultSubjectPrefix
	Prefix string

	// Interval between heartbeats. Default: 5 seconds
	Interval time.Duration

	// Sessions reports open client sessions. Nil reports zero.
	Sessions func() int
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Bus == nil || c.Instance == "" || strings.Contains(c.Instance, ".") {
		return ErrInvalidConfig
	}
	prefix := c.Prefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return bus.ValidateSubject(prefix + "." + c.Instance)
}

// DefaultSenderConfig returns configuration with sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Prefix:   DefaultSubjectPrefix,
		Interval: 5 * time.Second,
	}
}

// MonitorConfig configures a heartbeat monitor.
type MonitorConfig struct {
	// Bus is the message bus for subscribing to heartbeats.
	Bus bus.MessageBus

	// Prefix is the subject prefix. Default: DefaultSubjectPrefix
	Prefix string

	// Timeout after which a silent instance is presumed dead.
	// Should be 2-3x the sender interval. Default: 15 seconds
	Timeout time.Duration

	// CheckInterval for the dead instance checker. Default: 1 second
	CheckInterval time.Duration
}

// Validate checks the configuration.
func (c *MonitorConfig) Validate() error {
	if c.Bus == nil {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultMonitorConfig returns configuration with sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Prefix:        DefaultSubjectPrefix,
		Timeout:       15 * time.Second,
		CheckInterval: time.Second,
	}
}
