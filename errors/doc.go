// Package errors provides the structured error taxonomy shared by the task
// store, its backends, and the dispatch layer.
//
// # Codes
//
// Every fallible operation returns an *Error carrying a code:
//
//   - NOT_FOUND: no task stored under the id
//   - ALREADY_COMPLETED: the task was completed before
//   - FIELD_TOO_LARGE: a bounded field exceeds its cap
//   - ID_EXHAUSTED: the allocator cannot issue another id
//   - UNAUTHORIZED: the dispatch layer rejected the caller
//   - IO: the persistence collaborator failed
//
// Codes map to a category (transient, permanent, resource, internal) which
// decides whether a retry can help.
//
// # Usage
//
//	err := errors.NotFound("42")
//	if errors.Is(err, errors.ErrCodeNotFound) {
//	    // ...
//	}
//
// *Error implements Is by code, so the standard library works with
// sentinels too:
//
//	stderrors.Is(err, tasks.ErrNotFound)
//
// # JSON Serialization
//
// Errors marshal to JSON so the dispatch layer can return them as
// JSON-RPC error data and clients can decode them back.
package errors
