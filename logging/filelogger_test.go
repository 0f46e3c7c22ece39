package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *FileLogger {
	t.Helper()
	l, err := NewFileLogger(t.TempDir(), "run-123")
	require.NoError(t, err)
	return l
}

func TestFileLogger_RequiresRunIDAndBaseDir(t *testing.T) {
	_, err := NewFileLogger(t.TempDir(), "")
	assert.Error(t, err)

	_, err = NewFileLogger("", "run-123")
	assert.Error(t, err)
}

func TestFileLogger_CreatesRunDirectory(t *testing.T) {
	base := t.TempDir()
	l, err := NewFileLogger(base, "abc")
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, filepath.Join(base, "testrun-abc"), l.LogDir())
	info, err := os.Stat(l.LogDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileLogger_StdoutStrippedOfANSI(t *testing.T) {
	l := newTestLogger(t)

	require.NoError(t, l.LogStdout("\x1b[32mPASSED\x1b[0m test_one\n"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(l.LogDir(), "stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "PASSED test_one\n", string(data))
	assert.Equal(t, "PASSED test_one\n", l.StdoutTail())
}

func TestFileLogger_StreamsGoToSeparateFiles(t *testing.T) {
	l := newTestLogger(t)

	require.NoError(t, l.LogStdout("out line\n"))
	require.NoError(t, l.LogStderr("err line\n"))
	require.NoError(t, l.Close())

	out, err := os.ReadFile(filepath.Join(l.LogDir(), "stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "out line\n", string(out))

	errData, err := os.ReadFile(filepath.Join(l.LogDir(), "stderr.log"))
	require.NoError(t, err)
	assert.Equal(t, "err line\n", string(errData))
}

func TestFileLogger_FramesKeptVerbatim(t *testing.T) {
	l := newTestLogger(t)

	line := "<<--TEST-PIPE-->>: start-test 6e6f6465"
	require.NoError(t, l.LogFrame(line))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(l.LogDir(), "frames.log"))
	require.NoError(t, err)
	assert.Equal(t, line+"\n", string(data))
}

func TestFileLogger_WriteSummary(t *testing.T) {
	l := newTestLogger(t)
	defer l.Close()

	require.NoError(t, l.WriteSummary("1 passed, 0 failed\n"))

	data, err := os.ReadFile(filepath.Join(l.LogDir(), "summary.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1 passed, 0 failed\n", string(data))
}

func TestFileLogger_CloseDrainsQueuedWrites(t *testing.T) {
	l := newTestLogger(t)

	var want strings.Builder
	for i := 0; i < 500; i++ {
		require.NoError(t, l.LogStdout("line\n"))
		want.WriteString("line\n")
	}
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(l.LogDir(), "stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, want.String(), string(data))
}

func TestTailBuffer_KeepsMostRecentBytes(t *testing.T) {
	b := NewTailBuffer(10)
	b.WriteString("0123456789")
	assert.False(t, b.Truncated())

	b.WriteString("abcdef")
	assert.True(t, b.Truncated())
	assert.Equal(t, "6789abcdef", string(b.Bytes()))
	assert.Equal(t, int64(16), b.TotalBytes())
}
