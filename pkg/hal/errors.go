package hal

import (
	"errors"
	"fmt"
)

// Code is the small-integer result taxonomy returned by operation-initiating
// calls. Zero is success, every failure is negative.
type Code int32

const (
	CodeOK                 Code = 0
	CodeError              Code = -1
	CodeBusy               Code = -2
	CodeTimeout            Code = -3
	CodeUnsupported        Code = -4
	CodeParameter          Code = -5
	CodeNotInitialized     Code = -6
	CodeAlreadyInitialized Code = -7
)

// String returns a short name for the code.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeError:
		return "error"
	case CodeBusy:
		return "busy"
	case CodeTimeout:
		return "timeout"
	case CodeUnsupported:
		return "unsupported"
	case CodeParameter:
		return "parameter"
	case CodeNotInitialized:
		return "not initialized"
	case CodeAlreadyInitialized:
		return "already initialized"
	default:
		return fmt.Sprintf("code(%d)", int32(c))
	}
}

type codeError struct {
	code Code
	msg  string
}

func (e *codeError) Error() string {
	return e.msg
}

// Acceptance errors. Every operation-initiating call reports its rejection
// with one of these, possibly wrapped.
var (
	// ErrGeneric is an unspecified acceptance failure.
	ErrGeneric = &codeError{code: CodeError, msg: "driver error"}

	// ErrBusy means a data-movement operation is already outstanding.
	ErrBusy = &codeError{code: CodeBusy, msg: "driver busy"}

	// ErrTimeout is used by blocking helpers built above the contract.
	ErrTimeout = &codeError{code: CodeTimeout, msg: "timeout"}

	// ErrUnsupported means the backend does not implement the operation.
	ErrUnsupported = &codeError{code: CodeUnsupported, msg: "operation not supported"}

	// ErrParameter means an argument is out of range or misaligned.
	ErrParameter = &codeError{code: CodeParameter, msg: "invalid parameter"}

	// ErrNotInitialized means the driver has not been initialized.
	ErrNotInitialized = &codeError{code: CodeNotInitialized, msg: "driver not initialized"}

	// ErrAlreadyInitialized means Initialize was called twice.
	ErrAlreadyInitialized = &codeError{code: CodeAlreadyInitialized, msg: "driver already initialized"}
)

// CodeOf maps err onto the result taxonomy. A nil error is CodeOK and any
// error that does not wrap one of the sentinels is CodeError.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var ce *codeError
	if errors.As(err, &ce) {
		return ce.code
	}
	return CodeError
}
