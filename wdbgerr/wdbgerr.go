// Package wdbgerr collects the small set of typed errors the rest of the
// module wraps causes in, instead of returning bare errors.New strings.
// Each Kind carries its own console/session policy: InputError and
// ResourceError are reported and re-prompted; TargetReadError and
// FormatError fail only the module or command that produced them;
// OsError is fatal to the whole session.
package wdbgerr

import (
	"errors"
	"fmt"
)

// Kind distinguishes the five error categories the debugger's callers
// need to treat differently.
type Kind int

const (
	// Input covers an unparseable command, unknown register, or unknown
	// symbol typed at the REPL.
	Input Kind = iota
	// TargetRead covers the OS refusing a memory read of a required
	// structure.
	TargetRead
	// Format covers structure fields that are internally inconsistent,
	// an unsupported machine type, or an unsupported unwind feature.
	Format
	// Resource covers exhaustion of a bounded resource: no free
	// breakpoint slot, missing PDB, missing source file.
	Resource
	// Os covers a failed Win32 debug-API call.
	Os
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "input error"
	case TargetRead:
		return "target read error"
	case Format:
		return "format error"
	case Resource:
		return "resource error"
	case Os:
		return "os error"
	}
	return "error"
}

// Sentinels so callers can write errors.Is(err, wdbgerr.ErrOs) without
// needing to know about the wrapping *Error type.
var (
	ErrInput      = errors.New("input error")
	ErrTargetRead = errors.New("target read error")
	ErrFormat     = errors.New("format error")
	ErrResource   = errors.New("resource error")
	ErrOs         = errors.New("os error")
)

func (k Kind) sentinel() error {
	switch k {
	case Input:
		return ErrInput
	case TargetRead:
		return ErrTargetRead
	case Format:
		return ErrFormat
	case Resource:
		return ErrResource
	case Os:
		return ErrOs
	}
	return nil
}

// Error wraps a cause with a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err as kind k, attributed to op (typically "package.Func").
func New(k Kind, op string, err error) *Error {
	return &Error{Kind: k, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, wdbgerr.ErrOs) and friends match any *Error of
// the corresponding Kind, regardless of the wrapped cause.
func (e *Error) Is(target error) bool { return target == e.Kind.sentinel() }

// Fatal reports whether err is (or wraps) an OsError, the only kind the
// debug loop must treat as fatal to the session rather than re-prompt.
func Fatal(err error) bool { return errors.Is(err, ErrOs) }
