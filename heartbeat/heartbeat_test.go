package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/taskkit/bus"
)

func TestSenderConfig_Validate(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	tests := []struct {
		name    string
		cfg     SenderConfig
		wantErr bool
	}{
		{"valid", SenderConfig{Bus: b, Instance: "taskd-1"}, false},
		{"custom prefix", SenderConfig{Bus: b, Instance: "a", Prefix: "ops.beats"}, false},
		{"missing bus", SenderConfig{Instance: "taskd-1"}, true},
		{"missing instance", SenderConfig{Bus: b}, true},
		{"dotted instance", SenderConfig{Bus: b, Instance: "host.local"}, true},
		{"wildcard instance", SenderConfig{Bus: b, Instance: "*"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSender_PublishesImmediately(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	sub, err := b.Subscribe(DefaultSubjectPrefix + ".*")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	s, err := NewBusSender(SenderConfig{
		Bus:      b,
		Instance: "taskd-1",
		Interval: time.Hour,
		Sessions: func() int { return 3 },
	})
	if err != nil {
		t.Fatal(err)
	}
	s.SetMetadata("transport", "websocket")
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	select {
	case msg := <-sub.Messages():
		if msg.Subject != "taskkit.heartbeat.taskd-1" {
			t.Errorf("subject = %q", msg.Subject)
		}
		hb, err := Unmarshal(msg.Data)
		if err != nil {
			t.Fatal(err)
		}
		if hb.Instance != "taskd-1" || hb.Status != StatusServing || hb.Sessions != 3 || hb.Metadata["transport"] != "websocket" {
			t.Errorf("heartbeat = %+v", hb)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat")
	}
}

func TestSender_StopTwice(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	s, err := NewBusSender(SenderConfig{Bus: b, Instance: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != ErrNotStarted {
		t.Errorf("Stop before Start = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop = %v", err)
	}
	if err := s.Stop(); err != ErrNotStarted {
		t.Errorf("second Stop = %v", err)
	}
}

func TestMonitor_TracksInstances(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	m, err := NewBusMonitor(MonitorConfig{Bus: b, Timeout: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	for _, name := range []string{"beta", "alpha"} {
		s, err := NewBusSender(SenderConfig{Bus: b, Instance: name})
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Beat(); err != nil {
			t.Fatal(err)
		}
	}

	for range 2 {
		select {
		case <-m.Updates():
		case <-time.After(2 * time.Second):
			t.Fatal("missing update")
		}
	}

	got := m.Instances()
	if len(got) != 2 || got[0].Instance != "alpha" || got[1].Instance != "beta" {
		t.Fatalf("instances = %+v", got)
	}
	if !m.IsAlive("alpha") {
		t.Error("alpha should be alive")
	}
	if m.IsAlive("gamma") {
		t.Error("unknown instance reported alive")
	}
}

func TestMonitor_DrainingIsNotAlive(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	m, err := NewBusMonitor(MonitorConfig{Bus: b})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	s, err := NewBusSender(SenderConfig{Bus: b, Instance: "taskd-1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Drain(); err != nil {
		t.Fatal(err)
	}

	select {
	case hb := <-m.Updates():
		if hb.Status != StatusDraining {
			t.Errorf("status = %q", hb.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("missing update")
	}
	if m.IsAlive("taskd-1") {
		t.Error("draining instance reported alive")
	}
}

func TestMonitor_OnDead(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	m, err := NewBusMonitor(MonitorConfig{Bus: b, Timeout: 50 * time.Millisecond, CheckInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var dead []string
	m.OnDead(func(id string) {
		mu.Lock()
		dead = append(dead, id)
		mu.Unlock()
	})
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	s, err := NewBusSender(SenderConfig{Bus: b, Instance: "taskd-1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Beat(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(dead)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Reported once, not on every check.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(dead) != 1 || dead[0] != "taskd-1" {
		t.Errorf("dead = %v, want [taskd-1]", dead)
	}
}

func TestMonitor_StopClosesUpdates(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	m, err := NewBusMonitor(MonitorConfig{Bus: b})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-m.Updates(); ok {
		t.Error("updates channel still open")
	}
	if err := m.Stop(); err != ErrNotStarted {
		t.Errorf("second Stop = %v", err)
	}
}
