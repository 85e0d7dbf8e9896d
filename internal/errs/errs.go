// Package errs defines the logical error categories shared by the booking,
// reminder, waitlist, tool, and webhook packages (spec §7). These are
// categories, not exception classes: callers switch on Kind to decide HTTP
// status or tool-response shape.
package errs

import "errors"

// Kind is a logical error category.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindNotFound          Kind = "NotFound"
	KindConflictFull      Kind = "ConflictFull"
	KindBadTransition     Kind = "BadTransition"
	KindCredentialMissing Kind = "CredentialMissing"
	KindUpstreamTimeout   Kind = "UpstreamTimeout"
	KindUpstreamDown      Kind = "UpstreamUnavailable"
	KindForbidden         Kind = "Forbidden"
)

// Error is a category-tagged domain error. It wraps an underlying cause so
// errors.Is/errors.As keep working against sentinel errors further down.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + string(e.Kind)
	}
	return e.Op + ": " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a kinded error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is lets errors.Is(err, errs.KindConflictFull-shaped sentinel) style checks
// work; mostly callers use KindOf instead.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to "" if err isn't a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
