package dispatch

import (
	"errors"

	kerrors "github.com/vinayprograms/taskkit/errors"
	"github.com/vinayprograms/taskkit/transport"
)

// Application error codes, in the JSON-RPC server-error range.
const (
	CodeUnauthorized     = -32001
	CodeNotFound         = -32004
	CodeAlreadyCompleted = -32009
	CodeIDExhausted      = -32010
	CodeFieldTooLarge    = -32013
	CodeBusy             = -32029
)

var rpcCodes = map[kerrors.ErrorCode]int{
	kerrors.ErrCodeNotFound:         CodeNotFound,
	kerrors.ErrCodeAlreadyCompleted: CodeAlreadyCompleted,
	kerrors.ErrCodeFieldTooLarge:    CodeFieldTooLarge,
	kerrors.ErrCodeIDExhausted:      CodeIDExhausted,
	kerrors.ErrCodeUnauthorized:     CodeUnauthorized,
	kerrors.ErrCodeInvalidInput:     transport.InvalidParams,
	kerrors.ErrCodeResourceBusy:     CodeBusy,
}

// RPCError maps err to a JSON-RPC error. The structured error travels in
// Data so clients can read its code, metadata and task id.
func RPCError(err error) *transport.Error {
	var rpcErr *transport.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	coded := kerrors.As(err)
	if coded == nil {
		coded = kerrors.Wrap(err, "internal error")
	}

	code, ok := rpcCodes[coded.Code()]
	if !ok {
		code = transport.InternalError
	}
	msg := coded.Message()
	if msg == "" {
		msg = coded.Code().Description()
	}
	return &transport.Error{Code: code, Message: msg, Data: coded}
}
