package terminal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAttachForwardsInputUntilEscape(t *testing.T) {
	stdin := bytes.NewReader([]byte{'l', 's', '\n', EscapeChar, EscapeChar, 'x'})
	var stdout, vmIn bytes.Buffer

	err := New(stdin, &stdout).Attach(context.Background(), &vmIn, nil)
	if !errors.Is(err, ErrEscapeSequence) {
		t.Fatalf("Attach() = %v, want ErrEscapeSequence", err)
	}

	if vmIn.String() != "ls\n" {
		t.Errorf("guest input = %q, want %q", vmIn.String(), "ls\n")
	}
	if !strings.Contains(stdout.String(), "Ctrl+] Ctrl+]") {
		t.Error("missing escape hint")
	}
}

func TestAttachEndsWithInput(t *testing.T) {
	var stdout, vmIn bytes.Buffer

	err := New(strings.NewReader("uname -a\n"), &stdout).Attach(context.Background(), &vmIn, nil)
	if err != nil {
		t.Fatalf("Attach() = %v, want nil at end of input", err)
	}
	if vmIn.String() != "uname -a\n" {
		t.Errorf("guest input = %q", vmIn.String())
	}
}

func TestAttachCopiesOutput(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	out := &lockedBuffer{}
	var vmIn bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(pr, out).Attach(ctx, &vmIn, strings.NewReader("guest output\r\n"))
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "guest output") {
		if time.Now().After(deadline) {
			t.Fatal("guest output never reached stdout")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Attach() = %v, want context.Canceled", err)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
