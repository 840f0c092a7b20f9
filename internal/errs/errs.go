// Package errs defines the error-kind sum type: a closed set of kinds
// every fallible operation in gw/gs resolves to, wrapping the
// underlying cause rather than replacing it.
package errs

import "fmt"

// Kind is the closed error-kind enum.
type Kind uint8

const (
	Framing Kind = iota
	Protocol
	AuthFailure
	Capacity
	Transport
	Resource
)

func (k Kind) String() string {
	switch k {
	case Framing:
		return "framing"
	case Protocol:
		return "protocol"
	case AuthFailure:
		return "auth_failure"
	case Capacity:
		return "capacity"
	case Transport:
		return "transport"
	case Resource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Err: fmt.Errorf("%s", msg)}
}

func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err (or anything it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == k
}
