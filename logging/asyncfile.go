package logging

import (
	"fmt"
	"os"
	"sync"
)

// AsyncFile decouples callers from disk latency: writes are queued and
// drained by one background goroutine per file. Close drains the queue
// before closing, so nothing accepted is lost.
type AsyncFile struct {
	file  *os.File
	queue chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewAsyncFile creates the file (truncating any previous run's copy) and
// starts its writer goroutine.
func NewAsyncFile(path string) (*AsyncFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100),
		done:  make(chan struct{}),
	}
	go af.drain()
	return af, nil
}

// Write queues data for the background writer. The data is copied; the
// caller may reuse its buffer immediately.
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.closed {
		return fmt.Errorf("async file %s is closed", af.file.Name())
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	af.queue <- cp
	return nil
}

func (af *AsyncFile) drain() {
	defer close(af.done)
	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			fmt.Fprintf(os.Stderr, "error writing %s: %v\n", af.file.Name(), err)
		}
	}
}

// Close stops accepting writes, waits for the queue to drain, and closes the
// file.
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.closed {
		af.closed = true
		close(af.queue)
	}
	af.mu.Unlock()

	<-af.done
	return af.file.Close()
}
