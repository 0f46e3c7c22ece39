package runner

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testpipe/testpipe/protocol"
	"github.com/testpipe/testpipe/types"
)

// recordingHandler implements every handler interface and records call order.
type recordingHandler struct {
	calls   []string
	reports []protocol.TestReportRepresentation
	stdout  strings.Builder
}

func (h *recordingHandler) HandleInit(config protocol.ConfigRepresentation) {
	h.calls = append(h.calls, "init:"+config.RootPath)
}
func (h *recordingHandler) HandleSessionStart(protocol.SessionRepresentation) {
	h.calls = append(h.calls, "session-start")
}
func (h *recordingHandler) HandleSessionEnd(exitStatus int64) {
	h.calls = append(h.calls, "session-end")
}
func (h *recordingHandler) HandleCollectionStart() {
	h.calls = append(h.calls, "collection-start")
}
func (h *recordingHandler) HandleCollectReport(r protocol.CollectReportRepresentation) {
	h.calls = append(h.calls, "collect-report:"+r.NodeID)
}
func (h *recordingHandler) HandleDeselect(items []protocol.ItemRepresentation) {
	h.calls = append(h.calls, "deselect")
}
func (h *recordingHandler) HandleCollectionFinish(items []protocol.ItemRepresentation) {
	h.calls = append(h.calls, "collection-finish")
}
func (h *recordingHandler) HandleStartRunPhase() {
	h.calls = append(h.calls, "start-run-phase")
}
func (h *recordingHandler) HandleStartTest(id types.NodeID) {
	h.calls = append(h.calls, "start-test:"+id.Raw)
}
func (h *recordingHandler) HandleTestReport(r protocol.TestReportRepresentation) {
	h.calls = append(h.calls, "test-report:"+string(r.Phase))
	h.reports = append(h.reports, r)
}
func (h *recordingHandler) HandleEndTest(id types.NodeID) {
	h.calls = append(h.calls, "end-test:"+id.Raw)
}
func (h *recordingHandler) HandleStdout(text string) {
	h.stdout.WriteString(text)
	h.calls = append(h.calls, "stdout")
}
func (h *recordingHandler) HandleStderr(text string) {
	h.calls = append(h.calls, "stderr")
}
func (h *recordingHandler) HandleWarning(protocol.WarningRepresentation) {
	h.calls = append(h.calls, "warning")
}
func (h *recordingHandler) HandleInternalError(repr string) {
	h.calls = append(h.calls, "internal-error")
}
func (h *recordingHandler) HandleInterrupt(reason string) {
	h.calls = append(h.calls, "interrupt")
}
func (h *recordingHandler) HandlePassthrough(line string) {
	h.calls = append(h.calls, "passthrough:"+line)
}

// panickingHandler blows up on every test report.
type panickingHandler struct{}

func (panickingHandler) HandleStartRunPhase()                               {}
func (panickingHandler) HandleStartTest(types.NodeID)                       {}
func (panickingHandler) HandleTestReport(protocol.TestReportRepresentation) { panic("boom") }
func (panickingHandler) HandleEndTest(types.NodeID)                         {}

func frame(t *testing.T, codec *protocol.Codec, name string, args ...any) string {
	t.Helper()
	msg := protocol.Message{Name: name}
	for _, arg := range args {
		enc, err := codec.Encode(arg)
		require.NoError(t, err)
		msg.Args = append(msg.Args, enc)
	}
	return msg.FrameLine()
}

func newTestDispatcher() (*Dispatcher, *protocol.Codec) {
	codec := protocol.NewCodec(log.New("module", "dispatcher-test"))
	return NewDispatcher(log.New("module", "dispatcher-test"), codec), codec
}

func TestDispatcher_RoutesFramesToHandlers(t *testing.T) {
	d, codec := newTestDispatcher()
	h := &recordingHandler{}
	d.Register(h)

	d.Dispatch(frame(t, codec, protocol.MsgInit, protocol.ConfigRepresentation{RootPath: "/proj"}))
	d.Dispatch(frame(t, codec, protocol.MsgCollectionStart))
	d.Dispatch(frame(t, codec, protocol.MsgStartRunPhase))
	d.Dispatch(frame(t, codec, protocol.MsgStartTest, "/proj/t.py::test_one"))
	d.Dispatch("PASSED some passthrough text")

	assert.Equal(t, []string{
		"init:/proj",
		"collection-start",
		"start-run-phase",
		"start-test:/proj/t.py::test_one",
		"passthrough:PASSED some passthrough text",
	}, h.calls)
}

func TestDispatcher_HoldBackUntilRunPhase(t *testing.T) {
	d, codec := newTestDispatcher()
	h := &recordingHandler{}
	d.Register(h)

	// Run phase frames arriving before the phase transition are parked and
	// replayed in original order once the transition is recognized.
	d.Dispatch(frame(t, codec, protocol.MsgStartTest, "t.py::test_one"))
	d.Dispatch(frame(t, codec, protocol.MsgTestReport,
		protocol.TestReportRepresentation{NodeID: "t.py::test_one", Phase: "setup", Outcome: "passed"}))
	assert.Empty(t, h.calls, "run phase frames must be held back")

	d.Dispatch(frame(t, codec, protocol.MsgStartRunPhase))
	assert.Equal(t, []string{
		"start-run-phase",
		"start-test:t.py::test_one",
		"test-report:setup",
	}, h.calls)

	// Subsequent run phase frames flow straight through.
	d.Dispatch(frame(t, codec, protocol.MsgEndTest, "t.py::test_one"))
	assert.Equal(t, "end-test:t.py::test_one", h.calls[len(h.calls)-1])
}

func TestDispatcher_UnknownNameIgnored(t *testing.T) {
	d, codec := newTestDispatcher()
	h := &recordingHandler{}
	d.Register(h)

	d.Dispatch(frame(t, codec, "future-message", "payload"))
	d.Dispatch(frame(t, codec, "future-message", "payload"))
	assert.Empty(t, h.calls, "unknown messages must never reach handlers")

	// A known message afterwards still works; the stream is not poisoned.
	d.Dispatch(frame(t, codec, protocol.MsgCollectionStart))
	assert.Equal(t, []string{"collection-start"}, h.calls)
}

func TestDispatcher_UndecodableArgumentSkipsFrame(t *testing.T) {
	d, _ := newTestDispatcher()
	h := &recordingHandler{}
	d.Register(h)

	d.Dispatch(protocol.Sentinel + " collection-start not-hex-at-all!")
	assert.Empty(t, h.calls)
}

func TestDispatcher_HandlerPanicIsolated(t *testing.T) {
	d, codec := newTestDispatcher()
	d.Register(panickingHandler{})
	h := &recordingHandler{}
	d.Register(h)

	d.Dispatch(frame(t, codec, protocol.MsgStartRunPhase))
	d.Dispatch(frame(t, codec, protocol.MsgTestReport,
		protocol.TestReportRepresentation{NodeID: "t.py::test_one", Phase: "call", Outcome: "passed"}))

	// The panicking handler registered first, yet the recording handler
	// still received the report.
	require.Len(t, h.reports, 1)
	assert.Equal(t, types.Phase("call"), h.reports[0].Phase)
}

func TestDispatcher_NodeIDRehydratedFromInit(t *testing.T) {
	d, codec := newTestDispatcher()
	h := &recordingHandler{}
	d.Register(h)

	d.Dispatch(frame(t, codec, protocol.MsgInit, protocol.ConfigRepresentation{RootPath: "/proj"}))
	d.Dispatch(frame(t, codec, protocol.MsgStartRunPhase))
	d.Dispatch(frame(t, codec, protocol.MsgStartTest, "/proj/tests/t.py::test_one"))

	assert.Equal(t, "start-test:/proj/tests/t.py::test_one", h.calls[len(h.calls)-1])
}

func TestDispatcher_OutputFramesCarryPayload(t *testing.T) {
	d, codec := newTestDispatcher()
	h := &recordingHandler{}
	d.Register(h)

	d.Dispatch(frame(t, codec, protocol.MsgCopyStdout, "line one\n"))
	d.Dispatch(frame(t, codec, protocol.MsgCopyStdout, "line two\n"))
	assert.Equal(t, "line one\nline two\n", h.stdout.String())
}
