package bridge

import (
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/foundrybridge/internal/socketio"
	"github.com/nextlevelbuilder/foundrybridge/pkg/protocol"
)

// Error is a bridge-level failure carrying a stable string code so callers
// can match without fishing through wrapped error chains.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) wrap(err error) *Error {
	e.Err = err
	return e
}

// wrapEmitError maps transport-layer failures onto bridge error codes.
func wrapEmitError(err error) error {
	var te *socketio.TimeoutError
	var se *socketio.ServerError
	switch {
	case errors.Is(err, socketio.ErrNotConnected):
		return &Error{Code: protocol.ErrCodeNotConnected, Message: "transport is down", Err: err}
	case errors.As(err, &te):
		return &Error{Code: protocol.ErrCodeTimeout, Message: "request timed out", Err: err}
	case errors.As(err, &se):
		return &Error{Code: protocol.ErrCodeServer, Message: se.Message, Err: err}
	default:
		return err
	}
}

// ErrorCode returns the bridge error code of err, or "" when err carries none.
func ErrorCode(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
