package console

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCommand is returned when a name resolves to no registered command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrAliasConflict is returned when an alias would shadow a name or point at another alias.
	ErrAliasConflict = errors.New("alias conflict")
	// ErrHandler marks failures raised inside a command handler.
	ErrHandler = errors.New("command failed")
	// ErrExit is returned by a handler to end the console loop.
	ErrExit = errors.New("exit requested")
	// ErrClosed is returned by Submit once the console loop has ended.
	ErrClosed = errors.New("console closed")
)

// HandlerError wraps what a handler returned, or the value it panicked with.
type HandlerError struct {
	Command string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *HandlerError) Unwrap() []error {
	return []error{ErrHandler, e.Err}
}
