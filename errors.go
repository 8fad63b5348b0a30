package em

import (
	"errors"
	"fmt"
)

// ErrorKind represents a high-level error category, matching the escope
// categories used throughout the dispatch core.
type ErrorKind string

const (
	ErrKindBadContext     ErrorKind = "bad context"
	ErrKindBadState       ErrorKind = "bad state"
	ErrKindBadID          ErrorKind = "bad id"
	ErrKindAllocFailed    ErrorKind = "alloc failed"
	ErrKindNotFree        ErrorKind = "not free"
	ErrKindNotFound       ErrorKind = "not found"
	ErrKindTooLarge       ErrorKind = "too large"
	ErrKindLibFailed      ErrorKind = "lib failed"
	ErrKindNotImplemented ErrorKind = "not implemented"
	ErrKindBadPointer     ErrorKind = "bad pointer"
	ErrKindWouldBlock     ErrorKind = "would block"
)

// Error is a structured error carrying the escope (operation + fatal bit),
// the error kind, and an optional wrapped cause.
type Error struct {
	Op    string    // operation that failed, e.g. "queue_create", "send"
	Core  int       // core id the error occurred on (-1 if not applicable)
	Kind  ErrorKind // high-level error category
	Fatal bool      // true if the process should abort rather than continue
	Msg   string    // human-readable detail
	Inner error     // wrapped cause
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Core >= 0 {
		parts = append(parts, fmt.Sprintf("core=%d", e.Core))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("em: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("em: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Kind == te.Kind
	}
	return false
}

// Scope packs the escope used alongside the error kinds: bit 31 carries the
// fatal flag, the low bits identify the operation's core (or 0xffffffff
// when no core applies).
func (e *Error) Scope() uint32 {
	scope := uint32(0xffffffff)
	if e.Core >= 0 {
		scope = uint32(e.Core)
	}
	if e.Fatal {
		scope |= 1 << 31
	}
	return scope
}

// NewError creates a structured error local to a single operation, not tied
// to a core.
func NewError(op string, kind ErrorKind, msg string) *Error {
	return &Error{Op: op, Core: -1, Kind: kind, Msg: msg}
}

// NewCoreError creates a structured error observed on a specific core.
func NewCoreError(op string, core int, kind ErrorKind, fatal bool, msg string) *Error {
	return &Error{Op: op, Core: core, Kind: kind, Fatal: fatal, Msg: msg}
}

// WrapError wraps an existing error under a new operation name, preserving
// kind and fatality when the cause is already a structured *Error.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if e, ok := inner.(*Error); ok {
		return &Error{
			Op:    op,
			Core:  e.Core,
			Kind:  e.Kind,
			Fatal: e.Fatal,
			Msg:   e.Msg,
			Inner: e.Inner,
		}
	}
	return &Error{
		Op:    op,
		Core:  -1,
		Kind:  ErrKindLibFailed,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// IsKind reports whether err is a structured *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsFatal reports whether err is a structured *Error marked fatal.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal
	}
	return false
}

// Sentinel errors for the public lookup operations.
var (
	ErrQueueNotFound = NewError("queue_lookup", ErrKindNotFound, "queue not found")
	ErrEONotFound    = NewError("eo_lookup", ErrKindNotFound, "EO not found")
)
