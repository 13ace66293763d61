package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc %d: %s", e.Code, e.Message)
}

// Standard error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// EventMethod is the notification method used to push task events to
// connected clients.
const EventMethod = "tasks.event"

// Notification represents a JSON-RPC 2.0 notification (no ID).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification builds an outbound notification.
func NewNotification(method string, params any) *OutboundMessage {
	return &OutboundMessage{Notification: &Notification{JSONRPC: "2.0", Method: method, Params: params}}
}

// Handler handles JSON-RPC requests.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, method string, params json.RawMessage) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	return f(ctx, method, params)
}

// AsError converts a handler error to a JSON-RPC error. Errors that are
// not already *Error become InternalError.
func AsError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Code: InternalError, Message: "Internal error", Data: err.Error()}
}

// Serve runs t and answers every inbound request with h until the peer
// goes away or ctx is cancelled. Requests are handled in arrival order.
// Notifications reach h but get no reply.
func Serve(ctx context.Context, t Transport, h Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- t.Run(ctx) }()

	recv := t.Recv()
	for {
		select {
		case <-ctx.Done():
			return stop(cancel, runErr)
		case msg, ok := <-recv:
			if !ok {
				return stop(cancel, runErr)
			}
			handle(ctx, t, h, msg)
		}
	}
}

func stop(cancel context.CancelFunc, runErr <-chan error) error {
	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func handle(ctx context.Context, t Transport, h Handler, msg *InboundMessage) {
	if msg.Request != nil {
		req := msg.Request
		resp := &Response{JSONRPC: "2.0", ID: req.ID}
		result, err := h.Handle(ctx, req.Method, req.Params)
		if err != nil {
			resp.Error = AsError(err)
		} else {
			resp.Result = result
		}
		_ = t.Send(&OutboundMessage{Response: resp})
		return
	}

	var req Request
	if err := json.Unmarshal(msg.Raw, &req); err == nil {
		_, _ = h.Handle(ctx, req.Method, req.Params)
	}
}
