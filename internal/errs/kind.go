package errs

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the sync and session layers.
type Kind uint8

const (
	// KindUnexpected is anything not covered by the other kinds.
	KindUnexpected Kind = iota
	// KindNetwork is a connectivity or IO failure.
	KindNetwork
	// KindServer is a business-rule rejection carrying a server message.
	KindServer
	// KindAuth means credentials were rejected or expired.
	KindAuth
	// KindNotFound means the server does not know the requested entity.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	default:
		return "unexpected"
	}
}

// Error is a classified failure. Message is human readable and may be shown to the user.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Network wraps a connectivity failure.
func Network(err error) *Error { return &Error{Kind: KindNetwork, Err: err} }

// Server reports a server-side rejection with its message.
func Server(msg string) *Error { return &Error{Kind: KindServer, Message: msg} }

// Unexpected downgrades any other failure.
func Unexpected(err error) *Error { return &Error{Kind: KindUnexpected, Err: err} }

// NotFound reports an unknown entity.
func NotFound(err error) *Error { return &Error{Kind: KindNotFound, Err: err} }

// Auth reports rejected credentials.
func Auth(msg string, err error) *Error { return &Error{Kind: KindAuth, Message: msg, Err: err} }

// KindOf returns the kind of the first *Error in err's chain, or KindUnexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// HasKind reports whether any *Error in err's tree has kind k. Unlike KindOf it looks past
// the first match, so every branch of a joined error counts.
func HasKind(err error, k Kind) bool {
	if e, ok := err.(*Error); ok && e.Kind == k {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, c := range u.Unwrap() {
			if HasKind(c, k) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return HasKind(u.Unwrap(), k)
	}
	return false
}

// MessageOf returns the message of the first *Error in err's chain.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}
