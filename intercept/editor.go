package intercept

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	shellwords "github.com/mattn/go-shellwords"
)

// Editor lets the operator rewrite the content of an exchange.
type Editor interface {
	Edit(ctx context.Context, content []byte) ([]byte, error)
}

// EditorFunc adapts a function to an Editor.
type EditorFunc func(ctx context.Context, content []byte) ([]byte, error)

func (f EditorFunc) Edit(ctx context.Context, content []byte) ([]byte, error) {
	return f(ctx, content)
}

// ExternalEditor writes the content to a temporary file and runs Command on it,
// $EDITOR style. Command may carry arguments, the file name is appended last.
type ExternalEditor struct {
	Command string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

// DefaultEditor uses $VISUAL, then $EDITOR, then vi.
func DefaultEditor() *ExternalEditor {
	cmd := os.Getenv("VISUAL")
	if cmd == "" {
		cmd = os.Getenv("EDITOR")
	}
	if cmd == "" {
		cmd = "vi"
	}
	return &ExternalEditor{Command: cmd, Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

func (e *ExternalEditor) Edit(ctx context.Context, content []byte) ([]byte, error) {
	argv, err := shellwords.Parse(e.Command)
	if err != nil {
		return nil, fmt.Errorf("editor command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("no editor configured")
	}

	f, err := os.CreateTemp("", "intercept-*.http")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(content); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, argv[0], append(argv[1:], f.Name())...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = e.Stdin, e.Stdout, e.Stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w", argv[0], err)
	}

	edited, err := os.ReadFile(f.Name())
	if err != nil {
		return nil, err
	}
	return edited, nil
}
