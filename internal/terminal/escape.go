package terminal

import (
	"io"
	"sync"
	"time"
)

const (
	// EscapeChar is Ctrl+] (0x1D).
	EscapeChar = 0x1D

	// EscapeCount is the number of consecutive escape chars needed.
	EscapeCount = 2

	// EscapeTimeout is the maximum time between escape key presses.
	EscapeTimeout = 500 * time.Millisecond
)

// EscapeReader wraps host input and watches for the detach sequence.
// When EscapeCount consecutive EscapeChar bytes arrive within
// EscapeTimeout, it closes Escaped and reports io.EOF. A lone EscapeChar is
// held back until the next byte shows it was not part of the sequence.
// Not safe for concurrent Reads.
type EscapeReader struct {
	r           io.Reader
	escaped     chan struct{}
	escapedOnce sync.Once
	now         func() time.Time

	in      []byte
	out     []byte // decoded bytes not yet returned
	pending int    // escape chars held back
	last    time.Time
	err     error
}

// NewEscapeReader creates an EscapeReader wrapping the given reader.
func NewEscapeReader(r io.Reader) *EscapeReader {
	return &EscapeReader{
		r:       r,
		escaped: make(chan struct{}),
		now:     time.Now,
		in:      make([]byte, 1024),
	}
}

// Escaped returns a channel that is closed when the escape sequence is detected.
func (e *EscapeReader) Escaped() <-chan struct{} {
	return e.escaped
}

// Read returns input with the escape sequence removed. Bytes that arrived
// before the sequence are returned first; the following Read reports
// io.EOF.
func (e *EscapeReader) Read(p []byte) (int, error) {
	for len(e.out) == 0 {
		if e.isEscaped() {
			return 0, io.EOF
		}
		if e.err != nil {
			return 0, e.err
		}

		n, err := e.r.Read(e.in)
		e.scan(e.in[:n])
		if err != nil && !e.isEscaped() {
			e.flushPending()
			e.err = err
		}
	}

	n := copy(p, e.out)
	e.out = e.out[n:]
	return n, nil
}

func (e *EscapeReader) scan(data []byte) {
	for _, b := range data {
		if b != EscapeChar {
			e.flushPending()
			e.out = append(e.out, b)
			continue
		}

		now := e.now()
		if e.pending > 0 && now.Sub(e.last) > EscapeTimeout {
			e.flushPending()
		}
		e.pending++
		e.last = now

		if e.pending >= EscapeCount {
			e.pending = 0
			e.escapedOnce.Do(func() { close(e.escaped) })
			return
		}
	}
}

func (e *EscapeReader) flushPending() {
	for ; e.pending > 0; e.pending-- {
		e.out = append(e.out, EscapeChar)
	}
}

func (e *EscapeReader) isEscaped() bool {
	select {
	case <-e.escaped:
		return true
	default:
		return false
	}
}
