// Package logging persists a run's output streams to per-run log files. All
// writes go through async writers so the dispatch loop never blocks on disk.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/acarl005/stripansi"
)

const (
	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories

	stdoutFilename  = "stdout.log"
	stderrFilename  = "stderr.log"
	framesFilename  = "frames.log"
	summaryFilename = "summary.txt"
)

// FileLogger handles writing a run's streams to files under a per-run
// directory: the child's redirected stdout and stderr (ANSI codes stripped),
// every raw protocol frame line, and the final run summary.
type FileLogger struct {
	baseDir string
	logDir  string
	runID   string

	mu           sync.Mutex
	asyncWriters map[string]*AsyncFile

	stdoutTail *TailBuffer
	stderrTail *TailBuffer
}

// NewFileLogger creates a FileLogger rooted at baseDir/testrun-<runID>.
func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	return &FileLogger{
		baseDir:      baseDir,
		logDir:       logDir,
		runID:        runID,
		asyncWriters: make(map[string]*AsyncFile),
		stdoutTail:   NewTailBuffer(0),
		stderrTail:   NewTailBuffer(0),
	}, nil
}

// LogDir returns the per-run directory path.
func (l *FileLogger) LogDir() string {
	return l.logDir
}

// RunID returns the run this logger belongs to.
func (l *FileLogger) RunID() string {
	return l.runID
}

// writer returns the async writer for a file under the run directory,
// creating it on first use.
func (l *FileLogger) writer(filename string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if af, ok := l.asyncWriters[filename]; ok {
		return af, nil
	}
	af, err := NewAsyncFile(filepath.Join(l.logDir, filename))
	if err != nil {
		return nil, err
	}
	l.asyncWriters[filename] = af
	return af, nil
}

// LogStdout appends redirected child stdout, with ANSI escapes stripped so
// the file stays grep-friendly.
func (l *FileLogger) LogStdout(text string) error {
	clean := stripansi.Strip(text)
	l.stdoutTail.WriteString(clean)
	af, err := l.writer(stdoutFilename)
	if err != nil {
		return err
	}
	return af.Write([]byte(clean))
}

// LogStderr appends redirected child stderr, with ANSI escapes stripped.
func (l *FileLogger) LogStderr(text string) error {
	clean := stripansi.Strip(text)
	l.stderrTail.WriteString(clean)
	af, err := l.writer(stderrFilename)
	if err != nil {
		return err
	}
	return af.Write([]byte(clean))
}

// LogFrame appends one raw protocol frame line, kept verbatim for postmortem
// debugging of the wire stream.
func (l *FileLogger) LogFrame(line string) error {
	af, err := l.writer(framesFilename)
	if err != nil {
		return err
	}
	return af.Write([]byte(line + "\n"))
}

// WriteSummary writes the final run summary file. Unlike the stream files
// this is written synchronously; it happens once, after the run.
func (l *FileLogger) WriteSummary(text string) error {
	path := filepath.Join(l.logDir, summaryFilename)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}

// StdoutTail returns the retained tail of the child's stdout.
func (l *FileLogger) StdoutTail() string {
	return string(l.stdoutTail.Bytes())
}

// StderrTail returns the retained tail of the child's stderr.
func (l *FileLogger) StderrTail() string {
	return string(l.stderrTail.Bytes())
}

// Handler adapters, so the logger can register with the dispatcher directly.

func (l *FileLogger) HandleStdout(text string) {
	_ = l.LogStdout(text)
}

func (l *FileLogger) HandleStderr(text string) {
	_ = l.LogStderr(text)
}

// HandlePassthrough records non-frame lines from the shared channel in the
// stdout log; they are harness output that escaped redirection.
func (l *FileLogger) HandlePassthrough(line string) {
	_ = l.LogStdout(line + "\n")
}

// Close flushes and closes every async writer.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	writers := make([]*AsyncFile, 0, len(l.asyncWriters))
	for _, af := range l.asyncWriters {
		writers = append(writers, af)
	}
	l.asyncWriters = make(map[string]*AsyncFile)
	l.mu.Unlock()

	var firstErr error
	for _, af := range writers {
		if err := af.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
