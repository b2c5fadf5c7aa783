package auth

import (
	"errors"
	"fmt"
)

// Failure classes. Every error returned by a flow matches exactly one of
// these with errors.Is.
var (
	// ErrTransport means no response was received.
	ErrTransport = errors.New("transport error")
	// ErrProtocol means the service answered with a status outside 2xx.
	ErrProtocol = errors.New("protocol error")
	// ErrParse means an expected response field was missing or malformed.
	ErrParse = errors.New("parse error")
	// ErrSigning means a request could not be signed with the device key.
	ErrSigning = errors.New("signing error")
	// ErrTimeout means the device code expired before the user authorized it.
	ErrTimeout = errors.New("device code expired")
	// ErrState means required local state, such as the device identity, is missing.
	ErrState = errors.New("invalid state")
	// ErrBrowser means the verification URL could not be opened.
	ErrBrowser = errors.New("browser launch failed")
	// ErrStore means a credential could not be persisted.
	ErrStore = errors.New("store error")
	// ErrCanceled means the caller's context ended the flow.
	ErrCanceled = errors.New("authentication canceled")
)

// ErrUnauthenticated is returned by token sources when no usable identity
// could be produced.
var ErrUnauthenticated = errors.New("not signed in to Xbox Live")

// StageError is the terminal error of a flow. Error() is the single
// human-readable message; Kind and Cause are both reachable through
// errors.Is and errors.As.
type StageError struct {
	Stage State
	Kind  error
	Msg   string
	Cause error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Msg)
}

func (e *StageError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}
