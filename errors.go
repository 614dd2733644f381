package rstate

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

var (
	// ErrMissingGet is returned when an action needs a get operation that was not configured.
	ErrMissingGet = errors.New("get operation not configured")
	// ErrMissingSet is returned when an action needs a set operation that was not configured.
	ErrMissingSet = errors.New("set operation not configured")
	// ErrReadOnly is returned when writing to a variable that only has a get operation.
	ErrReadOnly = errors.New("variable is read-only")
	// ErrUnknownKey is returned when a container has no variable with the given key.
	ErrUnknownKey = errors.New("unknown state key")
	// ErrDuplicateKey is returned when two declarations share a key.
	ErrDuplicateKey = errors.New("duplicate state key")
	// ErrTypeMismatch is returned when a written value has the wrong type.
	ErrTypeMismatch = errors.New("value type mismatch")
	// ErrObserverNotFound is returned by RemoveObserver when nothing was registered.
	ErrObserverNotFound = errors.New("observer not found")
	// ErrLoopClosed is returned when dispatching onto a closed loop.
	ErrLoopClosed = errors.New("loop closed")
)

// Axis identifies one of the two independent status tracks of an async variable.
type Axis int

const (
	// AxisGet tracks retrieval.
	AxisGet Axis = iota
	// AxisSet tracks updates.
	AxisSet
)

func (a Axis) String() string {
	switch a {
	case AxisGet:
		return "get"
	case AxisSet:
		return "set"
	default:
		return "unknown"
	}
}

// ConfigurationError reports an operation that is required for an action but
// missing from the variable's options. It is returned synchronously.
type ConfigurationError struct {
	// Key is the state key of the variable, if known.
	Key string
	// Op is the action that needed the missing piece (e.g. "reload").
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Key == "" {
		return fmt.Sprintf("rstate: configuration: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("rstate: configuration: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MisuseError reports a call the variable can never accept, such as writing to
// a get-only variable. It is returned synchronously.
type MisuseError struct {
	Key string
	Op  string
	Err error
}

func (e *MisuseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("rstate: misuse: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *MisuseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// OperationError wraps a failure of a host get or set operation. It never
// escapes as a return value; it is stored in the axis error slot and surfaced
// through GetErrorGet and GetErrorSet.
type OperationError struct {
	Key  string
	Axis Axis
	Err  error
}

func (e *OperationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("rstate: %s %q: %v", e.Axis, e.Key, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PanicError represents a recovered panic from an observer or host operation.
type PanicError struct {
	// Op is where the panic was recovered (e.g. "observer", "get").
	Op string
	// Value is the value passed to panic().
	Value any
	// StackTrace contains the call stack at the time of the panic.
	StackTrace string
}

func (e *PanicError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("panic in %s: %v", e.Op, e.Value)
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

// PanicHandler is called when an observer panics during Notify.
type PanicHandler func(key string, err *PanicError)

func configError(key, op string, err error) error {
	return &ConfigurationError{Key: key, Op: op, Err: err}
}

func misuseError(key, op string, err error) error {
	return &MisuseError{Key: key, Op: op, Err: err}
}

// captureStack returns the current call stack as a string, skipping the
// frames of captureStack and its immediate caller.
func captureStack() string {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return ""
	}

	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		frame, more := frames.Next()
		sb.WriteString(frame.Function)
		sb.WriteString("\n\t")
		sb.WriteString(frame.File)
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(frame.Line))
		sb.WriteString("\n")
		if !more {
			break
		}
	}
	return sb.String()
}
