// Package state maintains the per-test lifecycle model on the consumer side.
// The dispatcher feeds it decoded messages in arrival order; because dispatch
// is single-threaded, nothing in this package needs locking.
package state

import (
	"github.com/testpipe/testpipe/protocol"
	"github.com/testpipe/testpipe/types"
)

// TestRecord is the full lifecycle state of one test: its item snapshot, one
// report slot per phase, and the lifecycle flags. Outcome is derived from the
// slots and cached until the next write.
type TestRecord struct {
	Item protocol.ItemRepresentation

	Setup    *protocol.TestReportRepresentation
	Call     *protocol.TestReportRepresentation
	Teardown *protocol.TestReportRepresentation

	// Started is set by the start-test message and cleared when the record
	// is reset for a re-run.
	Started bool

	// Done is set by the end-test message; it closes the lifecycle even when
	// a phase report never arrived.
	Done bool

	// Parked excludes the test from the current run without forgetting it.
	Parked bool

	// Interrupted marks a test that was started but never finished when the
	// stream closed abruptly.
	Interrupted bool

	cached types.Outcome
}

// NewTestRecord creates a record for a collected item.
func NewTestRecord(item protocol.ItemRepresentation) *TestRecord {
	return &TestRecord{Item: item}
}

// ID returns the test's NodeID.
func (r *TestRecord) ID() types.NodeID {
	return r.Item.ID
}

// StorePhase attaches a report to the matching phase slot and invalidates the
// cached outcome. Returns false when the slot was already occupied; the slot
// is overwritten either way and the caller logs the ordering anomaly.
func (r *TestRecord) StorePhase(phase types.Phase, report *protocol.TestReportRepresentation) bool {
	var slot **protocol.TestReportRepresentation
	switch phase {
	case types.PhaseSetup:
		slot = &r.Setup
	case types.PhaseCall:
		slot = &r.Call
	case types.PhaseTeardown:
		slot = &r.Teardown
	default:
		return false
	}
	overwrote := *slot != nil
	*slot = report
	r.cached = ""
	return !overwrote
}

// MarkStarted records the start-test message.
func (r *TestRecord) MarkStarted() {
	r.Started = true
	r.cached = ""
}

// MarkDone records the end-test message, closing the lifecycle.
func (r *TestRecord) MarkDone() {
	r.Done = true
	r.cached = ""
}

// MarkInterrupted flags a started-but-unfinished record after an abrupt
// stream closure, so no stale running state survives the run.
func (r *TestRecord) MarkInterrupted() {
	r.Interrupted = true
	r.cached = ""
}

// Reset restores the record to a rerunnable state, clearing all reports and
// flags.
func (r *TestRecord) Reset() {
	r.Setup, r.Call, r.Teardown = nil, nil, nil
	r.Started = false
	r.Done = false
	r.Parked = false
	r.Interrupted = false
	r.cached = ""
}

// Park excludes the record from the current run.
func (r *TestRecord) Park() {
	r.Parked = true
}

// Finished reports whether the test completed all phases it will ever run.
// The teardown report closes the lifecycle, as does the end-test message.
func (r *TestRecord) Finished() bool {
	return r.Done || r.Teardown != nil
}

// Outcome derives the display state of the record. The result is cached
// until the next lifecycle write. Incomplete-lifecycle states are checked
// before any outcome state, and expected-outcome states (xfailed/xpassed)
// before their plain counterparts.
func (r *TestRecord) Outcome() types.Outcome {
	if r.cached == "" {
		r.cached = r.classify()
	}
	return r.cached
}

func (r *TestRecord) classify() types.Outcome {
	if r.Interrupted {
		return types.OutcomeInterrupted
	}
	if !r.Started && r.Setup == nil && r.Call == nil && r.Teardown == nil {
		return types.OutcomeNotStarted
	}

	if !r.Done && r.Teardown == nil {
		// In-flight states. A failed setup falls through: its outcome is
		// already decided even though teardown has not arrived.
		if r.Setup == nil && r.Call == nil {
			return types.OutcomeSetupRunning
		}
		if r.setupPassed() && r.Call == nil {
			return types.OutcomeRunning
		}
		if r.Call != nil {
			return types.OutcomeTeardownRunning
		}
	}

	if r.isXFailed() {
		return types.OutcomeXFailed
	}
	if r.isXPassed() {
		return types.OutcomeXPassed
	}
	if r.Setup != nil && r.Setup.Outcome == types.ReportFailed {
		return types.OutcomeSetupErrored
	}
	if r.Teardown != nil && r.Teardown.Outcome == types.ReportFailed {
		return types.OutcomeTeardownErrored
	}
	if r.Call != nil && r.Call.Outcome == types.ReportFailed {
		return types.OutcomeFailed
	}
	if r.Call != nil && r.Call.Outcome == types.ReportPassed {
		return types.OutcomePassed
	}
	if r.anyOutcome(types.ReportSkipped) {
		return types.OutcomeSkipped
	}
	return types.OutcomeUnknown
}

func (r *TestRecord) setupPassed() bool {
	return r.Setup != nil && r.Setup.Outcome == types.ReportPassed
}

// isXFailed reports whether the call failed (or was skipped by the engine)
// while carrying the expected-failure marker.
func (r *TestRecord) isXFailed() bool {
	return r.Call != nil && r.Call.WasXfail != nil && r.Call.Outcome != types.ReportPassed
}

// isXPassed reports whether the call passed despite the expected-failure
// marker.
func (r *TestRecord) isXPassed() bool {
	return r.Call != nil && r.Call.WasXfail != nil && r.Call.Outcome == types.ReportPassed
}

func (r *TestRecord) anyOutcome(o types.ReportOutcome) bool {
	for _, rep := range []*protocol.TestReportRepresentation{r.Setup, r.Call, r.Teardown} {
		if rep != nil && rep.Outcome == o {
			return true
		}
	}
	return false
}
