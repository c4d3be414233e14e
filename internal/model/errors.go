package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath means a structural tree operation addressed a node that does
	// not exist. It signals a path/tree desynchronization bug in the caller.
	ErrInvalidPath = errors.New("invalid condition path")

	// ErrPreconditionFailed is returned by seek/reset on a task with no bound profile.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrDisconnected is returned when sending on a closed live channel.
	ErrDisconnected = errors.New("live channel disconnected")

	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is a board move between non-adjacent columns.
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// TransportError wraps a failed request or an unavailable push channel.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// MalformedEventError is an unparseable push payload. It is logged and dropped.
type MalformedEventError struct {
	Raw []byte
	Err error
}

func (e *MalformedEventError) Error() string {
	raw := string(e.Raw)
	if len(raw) > 120 {
		raw = raw[:120] + "..."
	}
	return fmt.Sprintf("malformed event: %v (payload=%q)", e.Err, raw)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}
