// Package errs gives the broker core a small sentinel-style error
// vocabulary instead of ad hoc errors.New calls scattered through the
// pipeline, so callers at the connection boundary can distinguish "detach
// the session" from "fail the command and continue."
//
// Grounded on amps/errors.go's int-const-plus-NewError pattern.
package errs

import (
	"errors"
	"fmt"
)

const (
	UnknownError = iota

	// InternalError marks a condition the core treats as fatal to the
	// session: the peer violated the framing contract (e.g. a content
	// frame with no preceding Message.Transfer). Callers at the
	// connection boundary must fail the session and detach on this code.
	InternalError

	// NotImplementedError marks a method the Invoker does not recognize
	// at all. Recognized management methods without a real handler are
	// not errors: they return a not-implemented status as their result.
	// The session continues; only the one command fails.
	NotImplementedError

	// DetachedError is returned by handleOut calls made against a session
	// that is not currently attached.
	DetachedError

	// InvalidQueueSettingsError marks a QueueFactory validation failure.
	InvalidQueueSettingsError

	// StoreError marks a failure returned by the message store.
	StoreError
)

func name(code int) string {
	switch code {
	case InternalError:
		return "InternalError"
	case NotImplementedError:
		return "NotImplementedError"
	case DetachedError:
		return "DetachedError"
	case InvalidQueueSettingsError:
		return "InvalidQueueSettingsError"
	case StoreError:
		return "StoreError"
	default:
		return "UnknownError"
	}
}

// Error is a typed, code-bearing error. Unlike a plain fmt.Errorf string,
// a caller can recover the originating code with errors.As (or the CodeOf
// helper below) to decide how to react — e.g. detach the session on
// InternalError but let it continue on NotImplementedError.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", name(e.Code), e.Msg)
	}
	return name(e.Code)
}

// New builds an Error carrying code, mirroring amps.NewError.
func New(code int, message ...any) error {
	e := &Error{Code: code}
	if len(message) > 0 {
		e.Msg = fmt.Sprint(message[0])
	}
	return e
}

// CodeOf reports the code carried by err if err (or something it wraps)
// is an *Error.
func CodeOf(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
