// Package transport carries JSON-RPC 2.0 between taskd and its clients.
//
// Two transports implement Transport: StdioTransport (newline-delimited
// JSON over a reader and writer) and WebSocketTransport (one message per
// frame, gorilla/websocket). Serve runs a transport against a Handler:
//
//	t := transport.NewStdioTransport(os.Stdin, os.Stdout, transport.DefaultConfig())
//	err := transport.Serve(ctx, t, handler)
//
// WebSocketServer accepts many connections and can attach a SessionFunc
// to each, which taskd uses to push task events as EventMethod
// notifications.
//
// Handler errors that are *Error go to the client unchanged; anything else
// is reported as InternalError.
package transport
