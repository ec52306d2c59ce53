package deviceaccess

import "fmt"

// LogicError reports a precondition violation attributable to the
// caller — an unknown register path, an incompatible access mode, a
// misaligned address, a write to a read-only register, a descriptor or
// map-file parse failure. Not recoverable by the core; the caller's code
// must change. Unlike RuntimeError, it is an Unwrap-free terminal value:
// errors.Is/As can find the *LogicError itself but never reaches past it
// to the wrapped cause, since the cause is incidental detail for a
// caller bug rather than a condition worth matching on.
type LogicError struct {
	Op  string
	Err error
}

func (e *LogicError) Error() string {
	return fmt.Sprintf("deviceaccess: logic error in %s: %v", e.Op, e.Err)
}

// NewLogicError wraps err as a LogicError attributed to op.
func NewLogicError(op string, err error) *LogicError {
	return &LogicError{Op: op, Err: err}
}

// RuntimeError reports an environmental failure — transport I/O,
// timeout, a stale peer, shared-memory exhaustion, a protocol version
// mismatch, an interrupt-arming failure. The owning backend classifies
// this as an active exception: every subsequent transfer fails fast with
// the same text until the next successful Open clears the state.
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("deviceaccess: runtime error in %s: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// NewRuntimeError wraps err as a RuntimeError attributed to op.
func NewRuntimeError(op string, err error) *RuntimeError {
	return &RuntimeError{Op: op, Err: err}
}
