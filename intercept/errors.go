package intercept

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueResolution is returned when an operation names an exchange that
	// is unknown or already released or dropped.
	ErrQueueResolution = errors.New("exchange cannot be resolved")
	// ErrTimeout annotates exchanges resolved by the timeout policy.
	ErrTimeout = errors.New("interception timed out")
	// ErrMalformedContent is returned when released content is not a valid HTTP message.
	ErrMalformedContent = errors.New("malformed message")
	// ErrQueueClosed is returned once the queue has shut down.
	ErrQueueClosed = errors.New("interception queue closed")
	// ErrClientGone annotates exchanges dropped because their client went away.
	ErrClientGone = errors.New("client disconnected")
	// ErrDropped annotates exchanges dropped by the operator.
	ErrDropped = errors.New("dropped by operator")
)

// ResolutionError tells which exchange could not be resolved and why.
type ResolutionError struct {
	ID    int
	Op    string
	State State // StateUnknown when the id was never issued
}

func (e *ResolutionError) Error() string {
	if e.State == StateUnknown {
		return fmt.Sprintf("%s %d: no such exchange", e.Op, e.ID)
	}
	return fmt.Sprintf("%s %d: exchange already %s", e.Op, e.ID, e.State)
}

func (e *ResolutionError) Unwrap() error {
	return ErrQueueResolution
}
