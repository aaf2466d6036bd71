// Package terminal attaches the host terminal to the guest console.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrEscapeSequence is returned when the user triggers the escape sequence.
var ErrEscapeSequence = errors.New("escape sequence detected")

// Console wraps terminal operations for VM attachment.
type Console struct {
	stdin  io.Reader
	stdout io.Writer
	fd     int
	raw    bool
}

// Current returns the console of the running process.
func Current() *Console {
	return &Console{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		fd:     int(os.Stdin.Fd()),
		raw:    true,
	}
}

// New returns a console over arbitrary streams. Raw mode is not touched.
func New(stdin io.Reader, stdout io.Writer) *Console {
	return &Console{stdin: stdin, stdout: stdout, fd: -1}
}

// IsTTY returns true if stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// SetRaw puts the terminal into raw mode and returns restore function.
func (c *Console) SetRaw() (func(), error) {
	if !c.raw {
		return func() {}, nil
	}
	oldState, err := term.MakeRaw(c.fd)
	if err != nil {
		return nil, err
	}
	return func() {
		_ = term.Restore(c.fd, oldState)
	}, nil
}

// Size returns the current terminal size.
func (c *Console) Size() (width, height int, err error) {
	return term.GetSize(c.fd)
}

// Attach forwards host input to vmIn, and vmOut to the host when vmOut is
// not nil. With a pipe console the collector already tees guest output to
// the terminal, so callers pass a nil vmOut.
//
// Blocks until ctx is cancelled, the escape sequence is typed (Ctrl+]
// twice, reported as ErrEscapeSequence) or the input stream ends.
func (c *Console) Attach(ctx context.Context, vmIn io.Writer, vmOut io.Reader) error {
	restore, err := c.SetRaw()
	if err != nil {
		return fmt.Errorf("terminal: raw mode: %w", err)
	}
	defer restore()

	fmt.Fprintf(c.stdout, "Escape sequence: Ctrl+] Ctrl+] (press twice quickly to detach)\r\n")

	escapeReader := NewEscapeReader(c.stdin)

	inputDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(vmIn, escapeReader)
		inputDone <- err
	}()

	if vmOut != nil {
		go func() {
			_, _ = io.Copy(c.stdout, vmOut)
		}()
	}

	// After the escape sequence the reader drains what preceded it and
	// returns EOF, so the copy always finishes on its own.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-inputDone:
		select {
		case <-escapeReader.Escaped():
			fmt.Fprintf(c.stdout, "\r\nEscape sequence detected, detaching...\r\n")
			return ErrEscapeSequence
		default:
		}
		if err != nil {
			return fmt.Errorf("terminal: forward input: %w", err)
		}
		return nil
	}
}
