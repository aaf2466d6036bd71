package console

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync/atomic"
	"unicode/utf8"
)

const readSize = 4096

// Collector drains a console transport into a Log.
//
// Run blocks in Read until bytes are available, so there is no polling. It
// ends when the transport is closed.
type Collector struct {
	// Reader is the read end of the console transport.
	Reader io.Reader

	// Log receives the decoded text.
	Log *Log

	// Tee, if set, receives the raw bytes as they are read. Write errors
	// are ignored.
	Tee io.Writer

	// OnChunk is called with the number of bytes read, after decoding.
	OnChunk func(n int)

	// OnDrop is called for every chunk discarded as malformed UTF-8.
	OnDrop func(raw []byte)

	dropped atomic.Int64
}

// Run reads until EOF or until the transport is closed, which both return
// nil. Malformed UTF-8 never stops the stream: the offending chunk is
// dropped and counted.
func (c *Collector) Run() error {
	buf := make([]byte, readSize)
	var pending []byte

	for {
		n, err := c.Reader.Read(buf)
		if n > 0 {
			if c.Tee != nil {
				_, _ = c.Tee.Write(buf[:n])
			}
			pending = c.ingest(pending, buf[:n])
			if c.OnChunk != nil {
				c.OnChunk(n)
			}
		}
		if err != nil {
			if len(pending) > 0 {
				c.drop(pending)
			}
			if errors.Is(err, io.EOF) || errors.Is(err, fs.ErrClosed) {
				return nil
			}
			return fmt.Errorf("console: read: %w", err)
		}
	}
}

// DroppedChunks returns how many chunks were discarded as malformed.
func (c *Collector) DroppedChunks() int64 {
	return c.dropped.Load()
}

// ingest decodes pending+chunk and returns the bytes of an incomplete
// trailing rune, to be completed by the next read. Carried bytes that the
// new chunk does not complete are dropped on their own; the chunk itself is
// still decoded.
func (c *Collector) ingest(pending, chunk []byte) []byte {
	data := chunk
	if len(pending) > 0 {
		data = append(pending, chunk...)
		if !utf8.FullRune(data) {
			return data
		}
		if r, size := utf8.DecodeRune(data); r == utf8.RuneError && size == 1 {
			c.drop(pending)
			data = chunk
		}
	}
	complete, rest := splitIncomplete(data)

	if len(complete) > 0 {
		if utf8.Valid(complete) {
			c.Log.Append(string(complete))
		} else {
			c.drop(complete)
		}
	}

	if len(rest) == 0 {
		return nil
	}
	return append([]byte(nil), rest...)
}

func (c *Collector) drop(raw []byte) {
	c.dropped.Add(1)
	if c.OnDrop != nil {
		c.OnDrop(raw)
	}
}

// splitIncomplete separates a trailing, not yet complete UTF-8 sequence.
func splitIncomplete(p []byte) (complete, rest []byte) {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(p[i]) {
			continue
		}
		if !utf8.FullRune(p[i:]) {
			return p[:i], p[i:]
		}
		break
	}
	return p, nil
}
