// Package emitter is the producer half of the reporting pipeline. It lives in
// the test-execution child process, turns engine lifecycle callbacks into
// protocol frames, and writes them to the inherited output channel through a
// single writer goroutine.
package emitter

import (
	"fmt"
	"io"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/testpipe/testpipe/protocol"
	"github.com/testpipe/testpipe/types"
)

// phase is the emitter's internal lifecycle position. It is inferred from
// callback order: the engine gives no explicit phase-start signal.
type phase int

const (
	phaseInit phase = iota
	phaseCollecting
	phaseRunning
	phaseDone
)

// Emitter converts lifecycle callbacks into protocol frames. Callbacks may
// arrive from multiple goroutines (the primary worker plus, under parallel
// collection, one auxiliary collector); every frame funnels through one
// buffered channel drained by exactly one writer goroutine, which is the only
// serialization point the wire format needs.
type Emitter struct {
	out   io.Writer
	codec *protocol.Codec
	log   log.Logger

	queue chan protocol.Message
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	phase   phase

	// seenCollect suppresses duplicate collection reports for a NodeID when
	// two collectors run concurrently.
	seenCollect map[string]bool

	// seenWarnings deduplicates repeated warnings so a warning raised inside
	// a loop is forwarded once.
	seenWarnings map[string]bool

	// collectWG tracks the auxiliary collection goroutine; Close joins it
	// before shutting down the writer.
	collectWG sync.WaitGroup
}

// New creates an Emitter writing frames to out. The writer goroutine starts
// immediately; the caller must call Close before process exit so no queued
// frame is dropped.
func New(out io.Writer, logger log.Logger) *Emitter {
	e := &Emitter{
		out:          out,
		codec:        protocol.NewCodec(logger),
		log:          logger,
		queue:        make(chan protocol.Message, 100),
		seenCollect:  make(map[string]bool),
		seenWarnings: make(map[string]bool),
	}
	e.wg.Add(1)
	go e.drainQueue()
	return e
}

// drainQueue pops messages and writes one frame line per message. This is the
// only goroutine that touches the output channel.
func (e *Emitter) drainQueue() {
	defer e.wg.Done()
	for msg := range e.queue {
		if _, err := fmt.Fprintln(e.out, msg.FrameLine()); err != nil {
			e.log.Error("failed to write frame", "message", msg.Name, "error", err)
		}
	}
}

// put encodes each argument and enqueues one message. An unrepresentable
// argument degrades to a placeholder; the reporting pipeline must never be
// the reason a test run aborts.
func (e *Emitter) put(name string, args ...any) {
	encoded := make([]string, 0, len(args))
	for _, arg := range args {
		enc, err := e.codec.Encode(arg)
		if err != nil {
			e.log.Warn("unrepresentable frame argument, sending placeholder", "message", name, "error", err)
			enc = e.codec.EncodePlaceholder(fmt.Sprintf("%T", arg))
		}
		encoded = append(encoded, enc)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		e.log.Warn("frame dropped after shutdown", "message", name)
		return
	}
	e.queue <- protocol.Message{Name: name, Args: encoded}
}

// setPhase advances the phase machine, returning true when this call
// performed the transition. Phases never move backwards.
func (e *Emitter) setPhase(p phase) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase >= p {
		return false
	}
	e.phase = p
	return true
}

// Init announces the run configuration. It must be the first callback; the
// consumer captures the root path from it.
func (e *Emitter) Init(config protocol.ConfigRepresentation) {
	e.put(protocol.MsgInit, config)
}

// SessionStart announces the engine session.
func (e *Emitter) SessionStart(session protocol.SessionRepresentation) {
	e.put(protocol.MsgSessionStart, session)
}

// SessionEnd announces the session finish with the engine's exit status.
func (e *Emitter) SessionEnd(exitStatus int) {
	e.setPhase(phaseDone)
	e.put(protocol.MsgSessionEnd, exitStatus)
}

// CollectionStart announces that test collection began.
func (e *Emitter) CollectionStart() {
	e.setPhase(phaseCollecting)
	e.put(protocol.MsgCollectionStart)
}

// CollectReport forwards one collection report. When two collectors report
// the same NodeID concurrently only the first acceptance is forwarded; the
// report carrying the primary-collector marker always wins.
func (e *Emitter) CollectReport(report protocol.CollectReportRepresentation) {
	e.setPhase(phaseCollecting)

	e.mu.Lock()
	if !report.Primary && e.seenCollect[report.NodeID] {
		e.mu.Unlock()
		e.log.Debug("dropping duplicate collect report", "nodeid", report.NodeID)
		return
	}
	e.seenCollect[report.NodeID] = true
	e.mu.Unlock()

	e.put(protocol.MsgCollectReport, report)
}

// Deselect announces tests excluded from the run by selection.
func (e *Emitter) Deselect(items []protocol.ItemRepresentation) {
	e.put(protocol.MsgDeselect, items)
}

// CollectionFinish announces the end of collection with the final item list.
func (e *Emitter) CollectionFinish(items []protocol.ItemRepresentation) {
	e.put(protocol.MsgCollectionFinish, items)
}

// TestStart announces that a test began executing. The first test start
// implies the run phase; the transition frame is emitted exactly once, ahead
// of the test's own frame, so the consumer sees the phase change first.
func (e *Emitter) TestStart(id types.NodeID) {
	if e.setPhase(phaseRunning) {
		e.put(protocol.MsgStartRunPhase)
	}
	e.put(protocol.MsgStartTest, id)
}

// TestReport forwards one phase report for a running test.
func (e *Emitter) TestReport(report protocol.TestReportRepresentation) {
	if e.setPhase(phaseRunning) {
		e.put(protocol.MsgStartRunPhase)
	}
	e.put(protocol.MsgTestReport, report)
}

// TestEnd announces that a test finished all phases.
func (e *Emitter) TestEnd(id types.NodeID) {
	e.put(protocol.MsgEndTest, id)
}

// Warning forwards a warning, at most once per distinct origin.
func (e *Emitter) Warning(w protocol.WarningRepresentation) {
	key := w.Message + "|" + w.When + "|" + w.NodeID
	if w.Filename != nil {
		key += "|" + *w.Filename
	}

	e.mu.Lock()
	if e.seenWarnings[key] {
		e.mu.Unlock()
		return
	}
	e.seenWarnings[key] = true
	e.mu.Unlock()

	e.put(protocol.MsgWarning, w)
}

// InternalError forwards an engine-internal error trace.
func (e *Emitter) InternalError(repr string) {
	e.put(protocol.MsgInternalError, repr)
}

// Interrupt announces a keyboard interrupt inside the child.
func (e *Emitter) Interrupt(reason string) {
	e.put(protocol.MsgInterrupt, reason)
}

// GoCollect runs fn on the auxiliary collection goroutine. Under parallel
// collection the engine's own collection is delegated to workers; the
// auxiliary pass walks the suite locally so the consumer can render progress
// before the workers finish. Close joins the goroutine.
func (e *Emitter) GoCollect(fn func()) {
	e.collectWG.Add(1)
	go func() {
		defer e.collectWG.Done()
		fn()
	}()
}

// Close flushes the pipeline: it joins the auxiliary collection goroutine,
// emits the final unconfigure frame, then closes the queue and joins the
// writer. After Close returns, every accepted frame has been written.
func (e *Emitter) Close() {
	e.collectWG.Wait()
	e.put(protocol.MsgUnconfigure)

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.queue)
	e.mu.Unlock()

	e.wg.Wait()
}
