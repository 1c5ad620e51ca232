package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/mattn/go-shellwords"

	"github.com/Windscribe/goproxy-intercept"
)

// Observer is told about every executed command.
type Observer interface {
	CommandExecuted(name string, took time.Duration, err error)
}

// Dispatcher turns console lines into handler invocations.
type Dispatcher struct {
	registry *Registry
	logger   goproxy.Logger
	observer Observer

	// holds a token while a handler runs
	running chan struct{}
}

type DispatcherOption func(*Dispatcher)

func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

func NewDispatcher(registry *Registry, logger goproxy.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = goproxy.NopLogger{}
	}
	d := &Dispatcher{registry: registry, logger: logger, running: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// SplitLine separates the command token from the rest of the line.
// Leading whitespace of the rest is dropped, everything else is kept as typed.
func SplitLine(line string) (name, args string) {
	line = strings.TrimLeftFunc(line, unicode.IsSpace)
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimLeftFunc(line[i:], unicode.IsSpace)
}

// SplitArgs tokenizes handler arguments the way a shell would, quotes included.
func SplitArgs(args string) ([]string, error) {
	return shellwords.Parse(args)
}

// Execute runs the command named by the first token of line in its own
// goroutine and waits for it to return. Cancelling ctx asks the handler to
// stop, and the handler keeps out until it does. Only one handler runs at a
// time, a call made while another is running waits for it.
// Blank lines do nothing.
func (d *Dispatcher) Execute(ctx context.Context, out io.Writer, line string) error {
	name, args := SplitLine(line)
	if name == "" {
		return nil
	}
	cmd, err := d.registry.Lookup(name)
	if err != nil {
		return err
	}

	select {
	case d.running <- struct{}{}:
	case <-ctx.Done():
		return &HandlerError{Command: cmd.Name, Err: ctx.Err()}
	}
	defer func() { <-d.running }()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Errorf(0, "Command %q panicked: %v", cmd.Name, r)
				done <- &HandlerError{Command: cmd.Name, Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		if err := cmd.Handler(ctx, out, args); err != nil {
			done <- &HandlerError{Command: cmd.Name, Err: err}
			return
		}
		done <- nil
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		d.logger.Debugf(0, "Command %q cancelled, waiting for it to return", cmd.Name)
		err = <-done
	}
	if d.observer != nil {
		d.observer.CommandExecuted(cmd.Name, time.Since(start), err)
	}
	return err
}
