package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/chzyer/readline"

	"github.com/Windscribe/goproxy-intercept"
)

// LineReader is the local input of the console. *readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

type readResult struct {
	line string
	err  error
}

type submission struct {
	ctx    context.Context
	out    io.Writer
	line   string
	result chan error
}

// Console executes lines one at a time. Lines come from the local LineReader
// and from Submit, and are serialized on the goroutine running Run.
type Console struct {
	dispatcher  *Dispatcher
	reader      LineReader
	out         io.Writer
	logger      goproxy.Logger
	submissions chan submission
	done        chan struct{}
}

func New(dispatcher *Dispatcher, reader LineReader, out io.Writer, logger goproxy.Logger) *Console {
	if logger == nil {
		logger = goproxy.NopLogger{}
	}
	return &Console{
		dispatcher:  dispatcher,
		reader:      reader,
		out:         out,
		logger:      logger,
		submissions: make(chan submission),
		done:        make(chan struct{}),
	}
}

// Run loops until the reader hits EOF, a command returns ErrExit, or ctx ends.
// Command failures are reported on the output and never end the loop.
func (c *Console) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.reader.Close()

	lines := make(chan readResult)
	// the reader waits for the previous line to finish before prompting again
	next := make(chan struct{}, 1)
	next <- struct{}{}
	go func() {
		defer close(lines)
		for {
			select {
			case <-next:
			case <-c.done:
				return
			}
			line, err := c.reader.Readline()
			select {
			case lines <- readResult{line: line, err: err}:
			case <-c.done:
				return
			}
			if err != nil && !errors.Is(err, readline.ErrInterrupt) {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res, ok := <-lines:
			if !ok {
				return nil
			}
			if res.err != nil {
				if errors.Is(res.err, readline.ErrInterrupt) {
					next <- struct{}{}
					continue
				}
				if errors.Is(res.err, io.EOF) {
					return nil
				}
				return res.err
			}
			if err := c.execLocal(ctx, res.line); errors.Is(err, ErrExit) {
				return nil
			}
			next <- struct{}{}

		case sub := <-c.submissions:
			err := c.dispatcher.Execute(sub.ctx, sub.out, sub.line)
			sub.result <- err
			if errors.Is(err, ErrExit) {
				return nil
			}
		}
	}
}

// execLocal runs a line typed at the prompt. Ctrl-C cancels it.
func (c *Console) execLocal(ctx context.Context, line string) error {
	cmdCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	err := c.dispatcher.Execute(cmdCtx, c.out, line)
	if err != nil && !errors.Is(err, ErrExit) {
		c.report(err)
	}
	return err
}

func (c *Console) report(err error) {
	c.logger.Debugf(0, "Command failed: %v", err)
	fmt.Fprintf(c.out, "error: %v\n", err)
}

// Submit executes line on the console loop, after the command in progress,
// writing to out. It returns what the command returned. Once the line is
// accepted Submit waits for the command even if ctx ends.
func (c *Console) Submit(ctx context.Context, out io.Writer, line string) error {
	sub := submission{ctx: ctx, out: out, line: line, result: make(chan error, 1)}
	select {
	case c.submissions <- sub:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// the command owns out until it returns, ctx only asks it to stop
	return <-sub.result
}
