// Package dispatch exposes a tasks.Store as JSON-RPC methods.
//
// Each request carries a "token" param. The Authorizer resolves it to a
// caller before any store operation runs; a rejected token fails with
// CodeUnauthorized. Store errors map to JSON-RPC codes:
//
//	NOT_FOUND          -32004
//	ALREADY_COMPLETED  -32009
//	ID_EXHAUSTED       -32010
//	FIELD_TOO_LARGE    -32013
//	UNAUTHORIZED       -32001
//	INVALID_INPUT      -32602
//	anything else      -32603
//
// The error's data member is the structured error in its JSON form.
//
// Every call is traced with an rpc.<method> span and logged through
// logging.RequestHandled. ForwardEvents relays bus notifications to a
// connected client.
package dispatch
