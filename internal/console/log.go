// Package console collects guest console output into an append-only log.
package console

import (
	"sync"
	"unicode/utf8"
)

// Log is the accumulated console text. Chunks are kept in arrival order and
// never reordered. It is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	buf     []byte
	limit   int
	trimmed int64
	notify  chan struct{}
}

// NewLog creates a log. A positive limit caps the retained text at limit
// bytes by discarding the oldest text; zero keeps everything.
func NewLog(limit int) *Log {
	if limit < 0 {
		limit = 0
	}
	return &Log{
		limit:  limit,
		notify: make(chan struct{}),
	}
}

// Append adds text to the end of the log and wakes waiters on Appended.
func (l *Log) Append(text string) {
	if text == "" {
		return
	}

	l.mu.Lock()
	l.buf = append(l.buf, text...)
	if l.limit > 0 && len(l.buf) > l.limit {
		cut := len(l.buf) - l.limit
		for cut < len(l.buf) && !utf8.RuneStart(l.buf[cut]) {
			cut++
		}
		l.trimmed += int64(cut)
		l.buf = append(l.buf[:0:0], l.buf[cut:]...)
	}
	ch := l.notify
	l.notify = make(chan struct{})
	l.mu.Unlock()

	close(ch)
}

// String returns a snapshot of the log text.
func (l *Log) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return string(l.buf)
}

// Len returns the number of bytes currently retained.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}

// Trimmed returns how many bytes were discarded because of the limit.
func (l *Log) Trimmed() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.trimmed
}

// Appended returns a channel that is closed on the next Append.
func (l *Log) Appended() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notify
}
