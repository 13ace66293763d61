package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
)

// StdioTransport carries newline-delimited JSON-RPC over a reader and a
// writer, typically stdin and stdout.
type StdioTransport struct {
	reader io.Reader
	writer io.Writer
	config Config

	recv   chan *InboundMessage
	send   chan *OutboundMessage
	done   chan struct{}
	mu     sync.Mutex
	wmu    sync.Mutex
	closed bool
	once   sync.Once
}

// NewStdioTransport creates a new stdio transport.
func NewStdioTransport(r io.Reader, w io.Writer, cfg Config) *StdioTransport {
	cfg = cfg.withDefaults()
	return &StdioTransport{
		reader: r,
		writer: w,
		config: cfg,
		recv:   make(chan *InboundMessage, cfg.RecvBufferSize),
		send:   make(chan *OutboundMessage, cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// Recv returns the channel for incoming messages.
func (t *StdioTransport) Recv() <-chan *InboundMessage {
	return t.recv
}

// Send queues a message for delivery.
func (t *StdioTransport) Send(msg *OutboundMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	select {
	case t.send <- msg:
		return nil
	case <-t.done:
		return ErrClosed
	}
}

// Run starts the transport, blocking until ctx is cancelled. The reader
// goroutine is started once and exits when input ends; Run does not wait
// for it because a blocked stdin read cannot be interrupted.
func (t *StdioTransport) Run(ctx context.Context) error {
	t.once.Do(func() { go t.readLoop(ctx) })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.writeLoop(ctx)
	}()

	<-ctx.Done()
	t.Close()
	wg.Wait()

	return ctx.Err()
}

// Close initiates shutdown. Queued messages are still written.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}

func (t *StdioTransport) readLoop(ctx context.Context) {
	defer close(t.recv)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 64*1024), t.config.MaxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := ParseInbound(append([]byte(nil), line...))
		if err != nil {
			t.sendParseError(line, err)
			continue
		}

		select {
		case t.recv <- msg:
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}
}

func (t *StdioTransport) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			t.drainSendQueue()
			return
		case <-t.done:
			t.drainSendQueue()
			return
		case msg := <-t.send:
			t.writeMessage(msg)
		}
	}
}

func (t *StdioTransport) drainSendQueue() {
	for {
		select {
		case msg := <-t.send:
			t.writeMessage(msg)
		default:
			return
		}
	}
}

func (t *StdioTransport) writeMessage(msg *OutboundMessage) {
	data, err := MarshalOutbound(msg)
	if err != nil {
		return
	}

	t.wmu.Lock()
	_, _ = t.writer.Write(append(data, '\n'))
	t.wmu.Unlock()
}

// sendParseError replies to a malformed line, echoing its id when one
// can be recovered.
func (t *StdioTransport) sendParseError(raw []byte, parseErr error) {
	var partial struct {
		ID any `json:"id"`
	}
	_ = json.Unmarshal(raw, &partial)

	_ = t.Send(&OutboundMessage{
		Response: &Response{
			JSONRPC: "2.0",
			ID:      partial.ID,
			Error:   AsError(parseErr),
		},
	})
}
