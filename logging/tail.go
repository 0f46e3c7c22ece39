package logging

import (
	"sync"
)

const defaultTailBytes = 5 * 1024 * 1024 // 5MB kept in memory per stream

// TailBuffer keeps only the last N bytes written to it, so a representative
// snippet of a stream can be attached to the run summary without retaining
// the entire log in memory.
type TailBuffer struct {
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
	overflow bool
}

// NewTailBuffer creates a buffer retaining at most maxBytes; maxBytes <= 0
// selects the default.
func NewTailBuffer(maxBytes int) *TailBuffer {
	if maxBytes <= 0 {
		maxBytes = defaultTailBytes
	}
	return &TailBuffer{maxBytes: maxBytes}
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	b.contents = append(b.contents, p...)
	if len(b.contents) > b.maxBytes {
		// Trim the front to keep the most recent bytes.
		b.contents = b.contents[len(b.contents)-b.maxBytes:]
		b.overflow = true
	}
	return len(p), nil
}

// WriteString appends a string; it cannot fail.
func (b *TailBuffer) WriteString(s string) {
	_, _ = b.Write([]byte(s))
}

// Bytes returns a copy of the retained tail.
func (b *TailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(b.contents))
	copy(cp, b.contents)
	return cp
}

// TotalBytes returns how many bytes were written in total, retained or not.
func (b *TailBuffer) TotalBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Truncated reports whether the front of the stream was dropped.
func (b *TailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}
