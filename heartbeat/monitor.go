package heartbeat

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/taskkit/bus"
)

// BusMonitor tracks server heartbeats and reports instances that fall
// silent.
type BusMonitor struct {
	bus           bus.MessageBus
	prefix        string
	timeout       time.Duration
	checkInterval time.Duration
	nowFunc       func() time.Time

	mu       sync.RWMutex
	lastSeen map[string]*Heartbeat
	reported map[string]bool
	deadCBs  []func(instance string)

	updates chan *Heartbeat
	running atomic.Bool
	sub     bus.Subscription
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBusMonitor creates a monitor. Call Start to begin listening.
func NewBusMonitor(cfg MonitorConfig) (*BusMonitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	def := DefaultMonitorConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}

	return &BusMonitor{
		bus:           cfg.Bus,
		prefix:        cfg.Prefix,
		timeout:       cfg.Timeout,
		checkInterval: cfg.CheckInterval,
		nowFunc:       time.Now,
		lastSeen:      make(map[string]*Heartbeat),
		reported:      make(map[string]bool),
		updates:       make(chan *Heartbeat, 64),
	}, nil
}

// Start subscribes to every instance under the prefix.
func (m *BusMonitor) Start() error {
	if m.running.Swap(true) {
		return ErrAlreadyStarted
	}
	sub, err := m.bus.Subscribe(m.prefix + ".*")
	if err != nil {
		m.running.Store(false)
		return err
	}
	m.sub = sub
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.run()
	return nil
}

// Updates delivers each heartbeat as it arrives. Heartbeats are dropped
// when the reader falls behind. The channel closes after Stop.
func (m *BusMonitor) Updates() <-chan *Heartbeat {
	return m.updates
}

// OnDead registers fn, called once per instance each time it falls silent.
func (m *BusMonitor) OnDead(fn func(instance string)) {
	m.mu.Lock()
	m.deadCBs = append(m.deadCBs, fn)
	m.mu.Unlock()
}

// IsAlive reports whether instance was heard from within the timeout and
// is not draining.
func (m *BusMonitor) IsAlive(instance string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hb, ok := m.lastSeen[instance]
	if !ok {
		return false
	}
	return hb.Status != StatusDraining && m.nowFunc().Sub(hb.Timestamp) <= m.timeout
}

// LastHeartbeat returns the latest heartbeat of instance, or nil.
func (m *BusMonitor) LastHeartbeat(instance string) *Heartbeat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeen[instance]
}

// Instances returns the latest heartbeat of every known instance, sorted
// by name.
func (m *BusMonitor) Instances() []Heartbeat {
	m.mu.RLock()
	out := make([]Heartbeat, 0, len(m.lastSeen))
	for _, hb := range m.lastSeen {
		out = append(out, *hb)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

// Stop unsubscribes and waits for the monitor loop to exit.
func (m *BusMonitor) Stop() error {
	if !m.running.Swap(false) {
		return ErrNotStarted
	}
	close(m.stopCh)
	<-m.doneCh
	return m.sub.Unsubscribe()
}

func (m *BusMonitor) run() {
	defer close(m.doneCh)
	defer close(m.updates)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case msg, ok := <-m.sub.Messages():
			if !ok {
				return
			}
			m.process(msg)
		case <-ticker.C:
			m.checkDead()
		}
	}
}

func (m *BusMonitor) process(msg *bus.Message) {
	hb, err := Unmarshal(msg.Data)
	if err != nil {
		return
	}
	if hb.Instance == "" {
		hb.Instance = strings.TrimPrefix(msg.Subject, m.prefix+".")
	}

	m.mu.Lock()
	m.lastSeen[hb.Instance] = hb
	delete(m.reported, hb.Instance)
	m.mu.Unlock()

	select {
	case m.updates <- hb:
	default:
	}
}

func (m *BusMonitor) checkDead() {
	now := m.nowFunc()
	var dead []string

	m.mu.Lock()
	for id, hb := range m.lastSeen {
		if now.Sub(hb.Timestamp) > m.timeout && !m.reported[id] {
			m.reported[id] = true
			dead = append(dead, id)
		}
	}
	callbacks := append([]func(string){}, m.deadCBs...)
	m.mu.Unlock()

	for _, id := range dead {
		for _, cb := range callbacks {
			cb(id)
		}
	}
}
