// Package errs classifies the errors produced by the client so callers can
// decide between retrying, fixing input, or giving up.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the classification of an error.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors produced outside this module.
	KindUnknown Kind = iota
	// KindConnection is a transport-level failure. Retried by the engine's
	// backoff, retryable by callers of direct operations.
	KindConnection
	// KindAuth is a rejected signature or credential. Never retried automatically.
	KindAuth
	// KindValidation is malformed input: channel name, event name, payload size.
	KindValidation
	// KindDecryption is an authentication-tag mismatch or malformed envelope.
	KindDecryption
	// KindConfig is an invalid or incomplete configuration.
	KindConfig
	// KindService is a 5xx answer from the HTTP API.
	KindService
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindDecryption:
		return "decryption"
	case KindConfig:
		return "config"
	case KindService:
		return "service"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind when the target carries no Op or Err, so
// errors.Is(err, errs.Auth) works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind markers for errors.Is.
var (
	Connection = &Error{Kind: KindConnection}
	Auth       = &Error{Kind: KindAuth}
	Validation = &Error{Kind: KindValidation}
	Decryption = &Error{Kind: KindDecryption}
	Config     = &Error{Kind: KindConfig}
	Service    = &Error{Kind: KindService}
)

// ErrNotConnected is returned when an operation needs a live socket.
var ErrNotConnected = E(KindConnection, "", errors.New("not connected"))

// E builds a classified error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
