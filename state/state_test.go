package state

import (
	"strings"
	"testing"
	"time"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"tasks.task.1", false},
		{"tasks.meta.allocated", false},
		{"tasks.task.4f1c2a9e-7d3b-4d8e-9a61-0c5b2e7f8a10", false},
		{"", true},
		{"has space", true},
		{"tasks.*", true},
		{"tasks.>", true},
		{".leading", true},
		{"trailing.", true},
		{strings.Repeat("k", 1025), true},
	}

	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}

func TestValidateTTL(t *testing.T) {
	if err := ValidateTTL(time.Second); err != nil {
		t.Errorf("positive TTL rejected: %v", err)
	}
	if err := ValidateTTL(0); err != ErrInvalidTTL {
		t.Errorf("zero TTL: expected ErrInvalidTTL, got %v", err)
	}
	if err := ValidateTTL(-time.Second); err != ErrInvalidTTL {
		t.Errorf("negative TTL: expected ErrInvalidTTL, got %v", err)
	}
}

func TestNewNATSStore_NilConn(t *testing.T) {
	if _, err := NewNATSStore(NATSStoreConfig{}); err == nil {
		t.Error("expected error for nil connection")
	}
}

func TestDefaultNATSStoreConfig(t *testing.T) {
	cfg := DefaultNATSStoreConfig()
	if cfg.Bucket != "taskkit" {
		t.Errorf("expected bucket 'taskkit', got %s", cfg.Bucket)
	}
	if cfg.History != 1 {
		t.Errorf("expected history 1, got %d", cfg.History)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %s", cfg.Timeout)
	}
}

func TestNewPgStore_Validation(t *testing.T) {
	if _, err := NewPgStore(nil, "kv"); err == nil {
		t.Error("expected error for nil pool")
	}
}
