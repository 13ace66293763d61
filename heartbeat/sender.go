package heartbeat

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/taskkit/bus"
)

// BusSender publishes heartbeats at a fixed interval.
type BusSender struct {
	bus      bus.MessageBus
	instance string
	prefix   string
	interval time.Duration
	sessions func() int
	nowFunc  func() time.Time

	mu       sync.RWMutex
	status   string
	metadata map[string]string

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBusSender creates a sender. It publishes nothing until Start.
func NewBusSender(cfg SenderConfig) (*BusSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	def := DefaultSenderConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}

	return &BusSender{
		bus:      cfg.Bus,
		instance: cfg.Instance,
		prefix:   cfg.Prefix,
		interval: cfg.Interval,
		sessions: cfg.Sessions,
		nowFunc:  time.Now,
		status:   StatusServing,
		metadata: make(map[string]string),
	}, nil
}

// Start sends one heartbeat immediately and then one per interval until
// Stop or ctx ends.
func (s *BusSender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx)
	return nil
}

func (s *BusSender) run(ctx context.Context) {
	defer close(s.doneCh)

	_ = s.Beat()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.Beat()
		}
	}
}

// Beat publishes one heartbeat now.
func (s *BusSender) Beat() error {
	hb := s.build()
	data, err := hb.Marshal()
	if err != nil {
		return err
	}
	return s.bus.Publish(hb.Subject(s.prefix), data)
}

func (s *BusSender) build() *Heartbeat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hb := &Heartbeat{
		Instance:  s.instance,
		Timestamp: s.nowFunc(),
		Status:    s.status,
	}
	if s.sessions != nil {
		hb.Sessions = s.sessions()
	}
	if len(s.metadata) > 0 {
		hb.Metadata = maps.Clone(s.metadata)
	}
	return hb
}

// SetStatus changes the status carried by later heartbeats.
func (s *BusSender) SetStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// SetMetadata sets a metadata field carried by later heartbeats.
func (s *BusSender) SetMetadata(key, value string) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
}

// Drain announces StatusDraining right away, so monitors learn of a
// shutdown before the beats stop.
func (s *BusSender) Drain() error {
	s.SetStatus(StatusDraining)
	return s.Beat()
}

// Stop stops the beat loop and waits for it to exit.
func (s *BusSender) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// Instance returns the sender's instance name.
func (s *BusSender) Instance() string {
	return s.instance
}
