//go:build integration

package state

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func getNATSURL() string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	return nats.DefaultURL
}

func TestNATSStore_Conformance(t *testing.T) {
	conn, err := nats.Connect(getNATSURL())
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	defer conn.Close()

	store, err := NewNATSStore(NATSStoreConfig{
		Conn:   conn,
		Bucket: fmt.Sprintf("taskkit-test-%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("NewNATSStore failed: %v", err)
	}
	defer store.Close()

	runConformance(t, store, "t.")
}
