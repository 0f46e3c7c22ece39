package runner

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/testpipe/testpipe/metrics"
	"github.com/testpipe/testpipe/protocol"
	"github.com/testpipe/testpipe/types"
)

// Handler interfaces. A handler registers once and receives every decoded
// message matching the interfaces it implements; the dispatch table is built
// at registration time, so delivery is a map lookup rather than reflection.

// SessionHandler receives session lifecycle messages.
type SessionHandler interface {
	HandleInit(config protocol.ConfigRepresentation)
	HandleSessionStart(session protocol.SessionRepresentation)
	HandleSessionEnd(exitStatus int64)
}

// CollectionHandler receives collection phase messages.
type CollectionHandler interface {
	HandleCollectionStart()
	HandleCollectReport(report protocol.CollectReportRepresentation)
	HandleDeselect(items []protocol.ItemRepresentation)
	HandleCollectionFinish(items []protocol.ItemRepresentation)
}

// TestLifecycleHandler receives run phase messages.
type TestLifecycleHandler interface {
	HandleStartRunPhase()
	HandleStartTest(id types.NodeID)
	HandleTestReport(report protocol.TestReportRepresentation)
	HandleEndTest(id types.NodeID)
}

// OutputHandler receives the child's redirected stdout/stderr payloads.
type OutputHandler interface {
	HandleStdout(text string)
	HandleStderr(text string)
}

// WarningHandler receives forwarded warnings.
type WarningHandler interface {
	HandleWarning(w protocol.WarningRepresentation)
}

// ErrorHandler receives engine-internal errors and interrupts.
type ErrorHandler interface {
	HandleInternalError(repr string)
	HandleInterrupt(reason string)
}

// ShutdownHandler receives the final unconfigure frame.
type ShutdownHandler interface {
	HandleUnconfigure()
}

// PassthroughHandler receives lines that carry no sentinel token.
type PassthroughHandler interface {
	HandlePassthrough(line string)
}

// boundMethod is one handler method bound to a message name, taking the
// already-decoded arguments.
type boundMethod func(args []protocol.Value)

// Dispatcher routes reconstructed lines to registered handlers. It runs
// single-threaded: no two dispatch invocations overlap and lines are
// processed strictly in arrival order, which is what lets the aggregator
// mutate without locking.
type Dispatcher struct {
	log   log.Logger
	codec *protocol.Codec

	table       map[string][]boundMethod
	passthrough []PassthroughHandler

	// Phase-start is inferred by the producer rather than signalled by the
	// engine, so a run phase message can arrive before the transition frame.
	// Such messages are held back and replayed, in original order, right
	// after start-run-phase is recognized.
	runPhaseStarted bool
	heldBack        []heldMessage

	// unknownSeen limits unknown-name logging to once per distinct name.
	unknownSeen map[string]bool
}

type heldMessage struct {
	name string
	args []protocol.Value
	line string
}

// heldBackMessages are the run phase messages subject to the hold-back rule.
var heldBackMessages = map[string]bool{
	protocol.MsgStartTest:  true,
	protocol.MsgTestReport: true,
	protocol.MsgEndTest:    true,
}

// NewDispatcher creates a Dispatcher sharing the given codec. The codec holds
// the root path captured from the init frame, which the dispatcher needs to
// rehydrate bare node id arguments.
func NewDispatcher(logger log.Logger, codec *protocol.Codec) *Dispatcher {
	return &Dispatcher{
		log:         logger,
		codec:       codec,
		table:       make(map[string][]boundMethod),
		unknownSeen: make(map[string]bool),
	}
}

// Register inspects the handler against every handler interface and binds a
// method per message it can receive. A handler may implement any subset.
func (d *Dispatcher) Register(handler any) {
	if h, ok := handler.(SessionHandler); ok {
		d.bind(protocol.MsgInit, func(args []protocol.Value) {
			if cfg := argConfig(args); cfg != nil {
				h.HandleInit(*cfg)
			}
		})
		d.bind(protocol.MsgSessionStart, func(args []protocol.Value) {
			if s := argSession(args); s != nil {
				h.HandleSessionStart(*s)
			}
		})
		d.bind(protocol.MsgSessionEnd, func(args []protocol.Value) {
			h.HandleSessionEnd(argInt(args, 0))
		})
	}
	if h, ok := handler.(CollectionHandler); ok {
		d.bind(protocol.MsgCollectionStart, func([]protocol.Value) {
			h.HandleCollectionStart()
		})
		d.bind(protocol.MsgCollectReport, func(args []protocol.Value) {
			if r := argCollectReport(args); r != nil {
				h.HandleCollectReport(*r)
			}
		})
		d.bind(protocol.MsgDeselect, func(args []protocol.Value) {
			h.HandleDeselect(argItems(args))
		})
		d.bind(protocol.MsgCollectionFinish, func(args []protocol.Value) {
			h.HandleCollectionFinish(argItems(args))
		})
	}
	if h, ok := handler.(TestLifecycleHandler); ok {
		d.bind(protocol.MsgStartRunPhase, func([]protocol.Value) {
			h.HandleStartRunPhase()
		})
		d.bind(protocol.MsgStartTest, func(args []protocol.Value) {
			h.HandleStartTest(d.argNodeID(args, 0))
		})
		d.bind(protocol.MsgTestReport, func(args []protocol.Value) {
			if r := argTestReport(args); r != nil {
				h.HandleTestReport(*r)
			}
		})
		d.bind(protocol.MsgEndTest, func(args []protocol.Value) {
			h.HandleEndTest(d.argNodeID(args, 0))
		})
	}
	if h, ok := handler.(OutputHandler); ok {
		d.bind(protocol.MsgCopyStdout, func(args []protocol.Value) {
			h.HandleStdout(argString(args, 0))
		})
		d.bind(protocol.MsgCopyStderr, func(args []protocol.Value) {
			h.HandleStderr(argString(args, 0))
		})
	}
	if h, ok := handler.(WarningHandler); ok {
		d.bind(protocol.MsgWarning, func(args []protocol.Value) {
			if len(args) > 0 && args[0].Kind == protocol.KindWarning && args[0].Warning != nil {
				h.HandleWarning(*args[0].Warning)
			}
		})
	}
	if h, ok := handler.(ErrorHandler); ok {
		d.bind(protocol.MsgInternalError, func(args []protocol.Value) {
			h.HandleInternalError(argString(args, 0))
		})
		d.bind(protocol.MsgInterrupt, func(args []protocol.Value) {
			h.HandleInterrupt(argString(args, 0))
		})
	}
	if h, ok := handler.(ShutdownHandler); ok {
		d.bind(protocol.MsgUnconfigure, func([]protocol.Value) {
			h.HandleUnconfigure()
		})
	}
	if h, ok := handler.(PassthroughHandler); ok {
		d.passthrough = append(d.passthrough, h)
	}
}

func (d *Dispatcher) bind(name string, m boundMethod) {
	d.table[name] = append(d.table[name], m)
}

// Dispatch routes one reconstructed line. Frame lines are decoded once and
// delivered to every bound method; anything else is passthrough text.
func (d *Dispatcher) Dispatch(line string) {
	msg, ok := protocol.ParseFrame(line)
	if !ok {
		for _, h := range d.passthrough {
			d.invoke(line, func([]protocol.Value) { h.HandlePassthrough(line) }, nil)
		}
		return
	}

	if _, known := d.table[msg.Name]; !known {
		if !d.unknownSeen[msg.Name] {
			d.unknownSeen[msg.Name] = true
			d.log.Warn("unknown protocol message, ignoring all occurrences", "message", msg.Name)
		}
		metrics.RecordProtocolViolation(msg.Name)
		return
	}

	args := make([]protocol.Value, 0, len(msg.Args))
	for _, raw := range msg.Args {
		val, err := d.codec.Decode(raw)
		if err != nil {
			d.log.Error("skipping frame with undecodable argument",
				"message", msg.Name, "error", err)
			metrics.RecordDecodeError(msg.Name)
			return
		}
		args = append(args, val)
	}
	metrics.RecordFrame(msg.Name)

	if heldBackMessages[msg.Name] && !d.runPhaseStarted {
		d.heldBack = append(d.heldBack, heldMessage{name: msg.Name, args: args, line: line})
		return
	}

	d.deliver(msg.Name, args, line)

	if msg.Name == protocol.MsgStartRunPhase && !d.runPhaseStarted {
		d.runPhaseStarted = true
		held := d.heldBack
		d.heldBack = nil
		for _, hm := range held {
			d.deliver(hm.name, hm.args, hm.line)
		}
	}
}

// deliver invokes every bound method for the message, isolating each call.
func (d *Dispatcher) deliver(name string, args []protocol.Value, line string) {
	for _, m := range d.table[name] {
		d.invoke(line, m, args)
	}
}

// invoke runs one bound method, recovering panics so a broken handler never
// stops delivery to the remaining handlers or stalls the stream loop.
func (d *Dispatcher) invoke(line string, m boundMethod, args []protocol.Value) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panicked, continuing", "panic", r, "line", line)
		}
	}()
	m(args)
}

// argNodeID rehydrates a bare node id string argument against the root path
// the codec captured from the init frame.
func (d *Dispatcher) argNodeID(args []protocol.Value, i int) types.NodeID {
	return types.NewNodeID(argString(args, i), d.codec.RootPath())
}

func argString(args []protocol.Value, i int) string {
	if i >= len(args) {
		return ""
	}
	return args[i].AsString()
}

func argInt(args []protocol.Value, i int) int64 {
	if i >= len(args) {
		return 0
	}
	return args[i].AsInt()
}

func argConfig(args []protocol.Value) *protocol.ConfigRepresentation {
	if len(args) > 0 && args[0].Kind == protocol.KindConfig {
		return args[0].Config
	}
	return nil
}

func argSession(args []protocol.Value) *protocol.SessionRepresentation {
	if len(args) > 0 && args[0].Kind == protocol.KindSession {
		return args[0].Session
	}
	return nil
}

func argCollectReport(args []protocol.Value) *protocol.CollectReportRepresentation {
	if len(args) > 0 && args[0].Kind == protocol.KindCollectReport {
		return args[0].CollectReport
	}
	return nil
}

func argTestReport(args []protocol.Value) *protocol.TestReportRepresentation {
	if len(args) > 0 && args[0].Kind == protocol.KindTestReport {
		return args[0].TestReport
	}
	return nil
}

func argItems(args []protocol.Value) []protocol.ItemRepresentation {
	if len(args) == 0 || args[0].Kind != protocol.KindList {
		return nil
	}
	items := make([]protocol.ItemRepresentation, 0, len(args[0].List))
	for _, v := range args[0].List {
		if v.Kind == protocol.KindItem && v.Item != nil {
			items = append(items, *v.Item)
		}
	}
	return items
}
