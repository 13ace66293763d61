package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketConfig_Defaults(t *testing.T) {
	cfg := DefaultWebSocketConfig()
	if cfg.MaxMessageSize != 1024*1024 {
		t.Errorf("MaxMessageSize = %d, want 1MB", cfg.MaxMessageSize)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want 10s", cfg.WriteTimeout)
	}
}

// rawServer upgrades one connection and hands its transport to the test.
func rawServer(t *testing.T) (*httptest.Server, <-chan *WebSocketTransport) {
	t.Helper()
	ready := make(chan *WebSocketTransport, 1)
	upgrader := NewWebSocketUpgrader()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade error: %v", err)
			return
		}
		ready <- NewWebSocketTransport(conn, DefaultWebSocketConfig())
	}))
	t.Cleanup(srv.Close)
	return srv, ready
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func TestWebSocketTransport_RoundTrip(t *testing.T) {
	srv, ready := rawServer(t)
	client := dial(t, srv)
	tr := <-ready

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go tr.Run(ctx)

	if err := client.WriteJSON(Request{JSONRPC: "2.0", ID: 1, Method: "tasks.count"}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-tr.Recv():
		if msg.Request == nil || msg.Request.Method != "tasks.count" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	if err := tr.Send(&OutboundMessage{Response: &Response{JSONRPC: "2.0", ID: 1, Result: "ok"}}); err != nil {
		t.Fatal(err)
	}
	var resp Response
	readJSON(t, client, &resp)
	if resp.Result != "ok" {
		t.Errorf("result = %v, want ok", resp.Result)
	}

	if err := tr.Send(NewNotification(EventMethod, map[string]string{"kind": "created"})); err != nil {
		t.Fatal(err)
	}
	var notif Notification
	readJSON(t, client, &notif)
	if notif.Method != EventMethod {
		t.Errorf("method = %q, want %q", notif.Method, EventMethod)
	}
}

func TestWebSocketTransport_MalformedJSON(t *testing.T) {
	srv, ready := rawServer(t)
	client := dial(t, srv)
	tr := <-ready

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go tr.Run(ctx)

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{invalid`)); err != nil {
		t.Fatal(err)
	}
	var resp Response
	readJSON(t, client, &resp)
	if resp.Error == nil || resp.Error.Code != ParseError {
		t.Errorf("error = %+v, want ParseError", resp.Error)
	}
}

func TestWebSocketTransport_SendAfterClose(t *testing.T) {
	srv, ready := rawServer(t)
	dial(t, srv)
	tr := <-ready

	tr.Close()
	if err := tr.Send(NewNotification(EventMethod, nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestWebSocketServer(t *testing.T) {
	sessionStarted := make(chan struct{})
	sessionEnded := make(chan struct{})
	ws := NewWebSocketServer(echoHandler(), DefaultWebSocketConfig(),
		WithSession(func(ctx context.Context, tr Transport) {
			close(sessionStarted)
			_ = tr.Send(NewNotification(EventMethod, map[string]string{"kind": "hello"}))
			<-ctx.Done()
			close(sessionEnded)
		}),
	)
	srv := httptest.NewServer(ws)
	t.Cleanup(srv.Close)

	client := dial(t, srv)
	<-sessionStarted

	var notif Notification
	readJSON(t, client, &notif)
	if notif.Method != EventMethod {
		t.Fatalf("first message = %+v, want event", notif)
	}

	if err := client.WriteJSON(Request{JSONRPC: "2.0", ID: 7, Method: "fail"}); err != nil {
		t.Fatal(err)
	}
	var resp Response
	readJSON(t, client, &resp)
	if resp.ID != float64(7) || resp.Error == nil || resp.Error.Code != -32004 {
		t.Errorf("response = %+v", resp)
	}
	if ws.Sessions() != 1 {
		t.Errorf("Sessions = %d, want 1", ws.Sessions())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ws.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-sessionEnded:
	case <-time.After(time.Second):
		t.Fatal("session hook not cancelled")
	}
	if ws.Sessions() != 0 {
		t.Errorf("Sessions after shutdown = %d", ws.Sessions())
	}

	resp2, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after shutdown = %d", resp2.StatusCode)
	}
}
