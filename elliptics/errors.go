package elliptics

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error codes reported by the storage client.
const (
	CodeNotFound       = -2
	CodeGeneric        = -5
	CodeAddrNotExists  = -6
	CodeWrongArguments = -7
	CodeTimeout        = -110
)

// Error kinds to match with errors.Is.
var (
	ErrNotFound       = &Error{Code: CodeNotFound, Message: "no such file or directory"}
	ErrGeneric        = &Error{Code: CodeGeneric, Message: "input/output error"}
	ErrAddrNotExists  = &Error{Code: CodeAddrNotExists, Message: "no such device or address"}
	ErrWrongArguments = &Error{Code: CodeWrongArguments, Message: "argument list too long"}
	ErrTimeout        = &Error{Code: CodeTimeout, Message: "connection timed out"}
)

// Error is a failure reported by the storage client.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("elliptics error %d: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errorf builds a client error of the given kind with extra context.
func Errorf(kind *Error, format string, args ...interface{}) error {
	return &Error{Code: kind.Code, Message: fmt.Sprintf("%s: %s", kind.Message, fmt.Sprintf(format, args...))}
}

// Code extracts the client error code, 0 when err is not a client error.
func Code(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
