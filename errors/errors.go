// Package errors classifies failures of the event bus so callers (HTTP layer,
// CLI, consumers) can react to the kind of failure rather than its text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is the failure category of an Error.
type Kind string

const (
	KindUnknown            Kind = ""
	KindServiceUnavailable Kind = "service_unavailable"
	KindValidation         Kind = "validation"
	KindInternal           Kind = "internal"
	KindNotFound           Kind = "not_found"
)

func (k Kind) String() string {
	if k == KindUnknown {
		return "unknown"
	}
	return string(k)
}

// Error carries a Kind and the operation that failed alongside the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so errors.Is(err, &Error{Kind: KindNotFound})
// works for any op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op) && t.Err == nil
}

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WrapServiceUnavailable marks err as a broker/cluster availability failure.
func WrapServiceUnavailable(op string, err error) error {
	return wrap(KindServiceUnavailable, op, err)
}

// WrapValidation marks err as a payload or request validation failure.
func WrapValidation(op string, err error) error { return wrap(KindValidation, op, err) }

func WrapInternal(op string, err error) error { return wrap(KindInternal, op, err) }

func WrapNotFound(op string, err error) error { return wrap(KindNotFound, op, err) }

// E builds a kinded error from a message.
func E(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindUnknown when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func New(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
