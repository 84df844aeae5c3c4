package lower

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"lowerc/internal/diag"
	"lowerc/internal/source"
)

// ErrorKind classifies lowering failures by how far they propagate.
type ErrorKind uint8

const (
	// InternalInvariantViolation: the lowering broke its own rules
	// (double definition, unbalanced scopes). Aborts the whole build.
	InternalInvariantViolation ErrorKind = iota + 1
	// InvalidControlFlow: a jump into a guarded region or out of a finally
	// body. Aborts the current module.
	InvalidControlFlow
	// LinkageConflict: two declarations claim one symbol with different
	// types. Aborts the current module.
	LinkageConflict
	// InvalidConversion: the type-checked input asks for an impossible
	// conversion. Aborts the whole build.
	InvalidConversion
	// UnsupportedNode: the input holds a construct this backend does not
	// lower. Aborts the current module.
	UnsupportedNode
	// UnresolvedSymbol: a reference to a variable with no storage in
	// scope. Aborts the current module.
	UnresolvedSymbol
)

func (k ErrorKind) String() string {
	switch k {
	case InternalInvariantViolation:
		return "internal invariant violation"
	case InvalidControlFlow:
		return "invalid control flow"
	case LinkageConflict:
		return "linkage conflict"
	case InvalidConversion:
		return "invalid conversion"
	case UnsupportedNode:
		return "unsupported node"
	case UnresolvedSymbol:
		return "unresolved symbol"
	}
	return "unknown lowering error"
}

// Error is a lowering failure with its origin.
type Error struct {
	Kind      ErrorKind
	Component string // e.g. "materializer", "scopes", "convert"
	Pos       source.Pos
	Msg       string
	Notes     []diag.Note
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Component, e.Msg, e.Kind)
}

// Fatal reports whether the whole compilation must stop.
func (e *Error) Fatal() bool {
	return e.Kind == InternalInvariantViolation || e.Kind == InvalidConversion
}

// Code returns the user-facing diagnostic code of module-scoped errors.
func (e *Error) Code() diag.Code {
	switch e.Kind {
	case InvalidControlFlow:
		return diag.LowInvalidControlFlow
	case LinkageConflict:
		return diag.LowLinkageConflict
	case UnsupportedNode:
		return diag.LowUnsupportedNode
	case UnresolvedSymbol:
		return diag.LowUnresolvedSymbol
	}
	return diag.UnknownCode
}

// IsFatal tells the driver whether err must cancel sibling modules.
// Errors that are not lowering errors (I/O, decoding) are module scoped.
func IsFatal(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Fatal()
	}
	return false
}

// KindOf returns the lowering error kind in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}

func internalf(component string, pos source.Pos, format string, args ...any) error {
	return pkgerrors.WithStack(&Error{
		Kind: InternalInvariantViolation, Component: component, Pos: pos,
		Msg: fmt.Sprintf(format, args...),
	})
}

func conversionf(pos source.Pos, format string, args ...any) error {
	return pkgerrors.WithStack(&Error{
		Kind: InvalidConversion, Component: "convert", Pos: pos,
		Msg: fmt.Sprintf(format, args...),
	})
}

func controlFlowf(pos source.Pos, format string, args ...any) *Error {
	return &Error{Kind: InvalidControlFlow, Component: "scopes", Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func linkageConflict(pos source.Pos, name, have, want string) *Error {
	return &Error{
		Kind: LinkageConflict, Component: "materializer", Pos: pos,
		Msg: fmt.Sprintf("symbol %s already declared as %s, cannot redeclare as %s", name, have, want),
	}
}

func unresolved(pos source.Pos, name string) *Error {
	return &Error{Kind: UnresolvedSymbol, Component: "lower", Pos: pos, Msg: fmt.Sprintf("%s has no storage here", name)}
}

// report forwards module-scoped errors to the diagnostic sink, each one
// once. It returns false for an error that was reported before.
func (c *Context) report(err error) bool {
	var le *Error
	if !errors.As(err, &le) {
		return true
	}
	if c.reported[le] {
		return false
	}
	c.reported[le] = true
	if le.Fatal() || c.Reporter == nil {
		return true
	}
	b := diag.ReportError(c.Reporter, le.Code(), le.Pos, le.Msg)
	for _, n := range le.Notes {
		b.WithNote(n.Pos, n.Msg)
	}
	b.Emit()
	return true
}
