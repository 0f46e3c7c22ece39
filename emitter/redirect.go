package emitter

import (
	"io"

	"github.com/testpipe/testpipe/protocol"
)

// redirectWriter wraps one of the child's standard streams. Raw writes would
// interleave arbitrary bytes with protocol frames on the shared channel and
// corrupt the wire format, so every write is converted into a copy frame
// instead.
type redirectWriter struct {
	e       *Emitter
	msgName string
}

func (w *redirectWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		w.e.put(w.msgName, string(p))
	}
	return len(p), nil
}

// Stdout returns the writer that must replace the child's stdout for the
// duration of the run.
func (e *Emitter) Stdout() io.Writer {
	return &redirectWriter{e: e, msgName: protocol.MsgCopyStdout}
}

// Stderr returns the writer that must replace the child's stderr for the
// duration of the run.
func (e *Emitter) Stderr() io.Writer {
	return &redirectWriter{e: e, msgName: protocol.MsgCopyStderr}
}
