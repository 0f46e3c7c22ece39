package protocol

import "strings"

// Sentinel is the token that distinguishes protocol frames from passthrough
// text on the shared output channel. It must appear at the start of the line;
// anything else on the channel is treated as raw harness output.
const Sentinel = "<<--TEST-PIPE-->>:"

// Message names. The receiver resolves these against its handler registration
// table, so they form the protocol's public vocabulary.
const (
	MsgInit             = "init"
	MsgSessionStart     = "session-start"
	MsgSessionEnd       = "session-end"
	MsgCollectionStart  = "collection-start"
	MsgCollectReport    = "collect-report"
	MsgDeselect         = "deselect"
	MsgCollectionFinish = "collection-finish"
	MsgStartRunPhase    = "start-run-phase"
	MsgStartTest        = "start-test"
	MsgTestReport       = "test-report"
	MsgEndTest          = "end-test"
	MsgWarning          = "warning"
	MsgInternalError    = "internal-error"
	MsgInterrupt        = "interrupt"
	MsgCopyStdout       = "copy-stdout"
	MsgCopyStderr       = "copy-stderr"
	MsgUnconfigure      = "unconfigure"
)

// Message is one protocol frame: a name plus the hex-encoded arguments, in
// order. Messages are transient; they exist only on the wire.
type Message struct {
	Name string
	Args []string
}

// FrameLine renders the message as a single protocol line (without trailing
// newline).
func (m Message) FrameLine() string {
	parts := make([]string, 0, len(m.Args)+2)
	parts = append(parts, Sentinel, m.Name)
	parts = append(parts, m.Args...)
	return strings.Join(parts, " ")
}

// ParseFrame splits a protocol line into a Message. The second return value
// is false when the line does not carry the sentinel token, meaning it is
// passthrough text.
func ParseFrame(line string) (Message, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != Sentinel {
		return Message{}, false
	}
	return Message{Name: fields[1], Args: fields[2:]}, true
}
