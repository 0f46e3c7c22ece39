// Package runner is the consumer half of the reporting pipeline. It lives in
// the front-end parent process: it reassembles the child's chunked output
// into lines, dispatches protocol frames in arrival order, and isolates
// handler failures so a broken observer can never stall the stream.
package runner

import (
	"bytes"
	"context"
	"io"

	"github.com/ethereum/go-ethereum/log"
)

// DefaultChunkSize is how many bytes one read from the child's output channel
// requests at most.
const DefaultChunkSize = 1024

// StreamReconstructor reassembles complete newline-terminated lines out of
// fixed-size chunk reads. A read may end mid-line; the trailing partial is
// retained and prepended to the next read's data before re-splitting, so line
// boundaries survive arbitrary chunking.
type StreamReconstructor struct {
	r         io.Reader
	log       log.Logger
	chunkSize int
	partial   []byte
}

// NewStreamReconstructor creates a reconstructor over the child's combined
// output channel. chunkSize <= 0 selects DefaultChunkSize.
func NewStreamReconstructor(r io.Reader, logger log.Logger, chunkSize int) *StreamReconstructor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &StreamReconstructor{r: r, log: logger, chunkSize: chunkSize}
}

// Next reads until at least one complete line is available and returns all
// complete lines accumulated so far, without trailing newlines, in arrival
// order. It returns io.EOF when the stream is exhausted; any unterminated
// partial at that point is discarded and logged, never delivered as a line.
// The context bounds the call against the child's lifetime.
func (sr *StreamReconstructor) Next(ctx context.Context) ([]string, error) {
	buf := make([]byte, sr.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := sr.r.Read(buf)
		if n > 0 {
			if lines := sr.feed(buf[:n]); len(lines) > 0 {
				return lines, nil
			}
		}
		if err != nil {
			if err == io.EOF && len(sr.partial) > 0 {
				sr.log.Warn("discarding unterminated partial line at end of stream",
					"bytes", len(sr.partial))
				sr.partial = nil
			}
			return nil, err
		}
	}
}

// feed appends data to the retained partial and splits out every complete
// line.
func (sr *StreamReconstructor) feed(data []byte) []string {
	sr.partial = append(sr.partial, data...)
	if !bytes.Contains(sr.partial, []byte{'\n'}) {
		return nil
	}

	segments := bytes.Split(sr.partial, []byte{'\n'})
	// The final segment is either empty (data ended on a newline) or the new
	// partial.
	last := segments[len(segments)-1]
	sr.partial = append([]byte(nil), last...)

	lines := make([]string, 0, len(segments)-1)
	for _, seg := range segments[:len(segments)-1] {
		lines = append(lines, string(bytes.TrimSuffix(seg, []byte{'\r'})))
	}
	return lines
}
