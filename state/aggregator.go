package state

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/testpipe/testpipe/metrics"
	"github.com/testpipe/testpipe/protocol"
	"github.com/testpipe/testpipe/types"
)

// Aggregator owns every TestRecord, keyed by NodeID. The dispatcher delivers
// decoded messages to it in arrival order; dependents hold NodeIDs plus a
// reference to the aggregator, never a second copy of a record.
type Aggregator struct {
	log log.Logger

	records map[string]*TestRecord
	// order preserves collection order for stable iteration.
	order []string

	// processedReports is the dedup set for collection reports; duplicates
	// are common under parallel collection.
	processedReports map[string]bool

	// collectFailures holds collection reports that failed outright, keyed
	// by the failing collector's NodeID. These never become TestRecords.
	collectFailures map[string]protocol.CollectReportRepresentation

	// collectSkips are collectors skipped during collection, keyed by NodeID.
	collectSkips map[string]bool

	deselected map[string]bool

	// finishedCount caches how many records have finished, maintained on
	// lifecycle writes so progress queries stay O(1).
	finishedCount int
}

// NewAggregator creates an empty Aggregator.
func NewAggregator(logger log.Logger) *Aggregator {
	a := &Aggregator{log: logger}
	a.reset()
	return a
}

func (a *Aggregator) reset() {
	a.records = make(map[string]*TestRecord)
	a.order = nil
	a.processedReports = make(map[string]bool)
	a.collectFailures = make(map[string]protocol.CollectReportRepresentation)
	a.collectSkips = make(map[string]bool)
	a.deselected = make(map[string]bool)
	a.finishedCount = 0
}

// PrepareForRun readies the aggregator for a run over the given selection.
// An empty selection means a whole-suite run and resets everything; a subset
// run only clears the dedup set so the fresh collection pass over the subset
// is accepted, preserving unaffected records.
func (a *Aggregator) PrepareForRun(selection []types.NodeID) {
	if len(selection) == 0 {
		a.reset()
		return
	}
	a.processedReports = make(map[string]bool)
	a.ParkAndReset(selection)
}

// ParkAndReset parks every record and restores only the selected ones to a
// rerunnable state, so a subset re-run reports progress against the subset
// while the rest of the suite keeps its previous results visible.
func (a *Aggregator) ParkAndReset(selection []types.NodeID) {
	for _, rec := range a.records {
		rec.Park()
	}
	for _, id := range selection {
		if rec, ok := a.records[id.Raw]; ok {
			rec.Reset()
		}
	}
	a.recountFinished()
}

// AddCollected registers the tests carried by one collection report. It is
// idempotent per NodeID: duplicate reports are detected via the dedup set and
// dropped. Returns whether a new test was registered and whether a new
// collection failure was recorded.
func (a *Aggregator) AddCollected(report protocol.CollectReportRepresentation) (added bool, failed bool) {
	if a.processedReports[report.NodeID] {
		a.log.Debug("duplicate collection report dropped", "nodeid", report.NodeID)
		return false, false
	}
	a.processedReports[report.NodeID] = true

	if report.Outcome == types.ReportFailed {
		if _, seen := a.collectFailures[report.NodeID]; !seen {
			a.collectFailures[report.NodeID] = report
			failed = true
		}
		return false, failed
	}
	if report.Outcome == types.ReportSkipped {
		a.collectSkips[report.NodeID] = true
		return false, false
	}

	for _, item := range report.Result {
		if _, ok := a.records[item.NodeID]; ok {
			continue
		}
		a.records[item.NodeID] = NewTestRecord(item)
		a.order = append(a.order, item.NodeID)
		added = true
	}
	return added, false
}

// Deselect marks tests excluded from the run by selection.
func (a *Aggregator) Deselect(items []protocol.ItemRepresentation) {
	for _, item := range items {
		a.deselected[item.NodeID] = true
		if rec, ok := a.records[item.NodeID]; ok {
			rec.Park()
		}
	}
}

// StartTest records that a test began executing.
func (a *Aggregator) StartTest(id types.NodeID) {
	rec, ok := a.records[id.Raw]
	if !ok {
		a.log.Warn("start for unknown test", "nodeid", id.Raw)
		rec = NewTestRecord(protocol.ItemRepresentation{NodeID: id.Raw, ID: id})
		a.records[id.Raw] = rec
		a.order = append(a.order, id.Raw)
	}
	rec.MarkStarted()
}

// StorePhaseReport attaches a phase report to the matching record slot,
// invalidating its cached outcome. An unknown NodeID is a lifecycle ordering
// anomaly: logged, counted, and recovered by creating the record on the fly.
func (a *Aggregator) StorePhaseReport(report protocol.TestReportRepresentation) *TestRecord {
	if !types.ValidPhase(report.Phase) {
		a.log.Warn("phase report with unknown phase", "nodeid", report.NodeID, "phase", report.Phase)
		metrics.RecordLifecycleOrderError(report.Phase)
		return nil
	}

	rec, ok := a.records[report.NodeID]
	if !ok {
		a.log.Warn("phase report for unknown test", "nodeid", report.NodeID, "phase", report.Phase)
		metrics.RecordLifecycleOrderError(report.Phase)
		rec = NewTestRecord(protocol.ItemRepresentation{NodeID: report.NodeID, ID: report.ID})
		a.records[report.NodeID] = rec
		a.order = append(a.order, report.NodeID)
	}

	wasFinished := rec.Finished()
	r := report
	if fresh := rec.StorePhase(report.Phase, &r); !fresh {
		a.log.Warn("phase report slot overwritten", "nodeid", report.NodeID, "phase", report.Phase)
		metrics.RecordLifecycleOrderError(report.Phase)
	}
	// Parked records are outside the active total, so they never count as
	// finished.
	if !rec.Parked && !wasFinished && rec.Finished() {
		a.finishedCount++
	}
	return rec
}

// EndTest closes a test's lifecycle.
func (a *Aggregator) EndTest(id types.NodeID) {
	rec, ok := a.records[id.Raw]
	if !ok {
		a.log.Warn("end for unknown test", "nodeid", id.Raw)
		return
	}
	if !rec.Parked && !rec.Finished() {
		a.finishedCount++
	}
	rec.MarkDone()
}

// MarkInterrupted flags every started-but-unfinished record after an abrupt
// stream closure, so no stale running state survives the run.
func (a *Aggregator) MarkInterrupted() {
	for _, rec := range a.records {
		if rec.Started && !rec.Finished() {
			rec.MarkInterrupted()
		}
	}
}

// Record returns the record for a NodeID, or nil when unknown.
func (a *Aggregator) Record(id types.NodeID) *TestRecord {
	return a.records[id.Raw]
}

// Records returns every record in collection order.
func (a *Aggregator) Records() []*TestRecord {
	out := make([]*TestRecord, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, a.records[key])
	}
	return out
}

// QueryRecords returns the records for the given NodeIDs, in collection
// order; an empty query returns all records.
func (a *Aggregator) QueryRecords(ids []types.NodeID) []*TestRecord {
	if len(ids) == 0 {
		return a.Records()
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id.Raw] = true
	}
	out := make([]*TestRecord, 0, len(ids))
	for _, key := range a.order {
		if want[key] {
			out = append(out, a.records[key])
		}
	}
	return out
}

// filter returns the records whose outcome is in the given set, in
// collection order. Views are live: they reflect the state at call time.
func (a *Aggregator) filter(outcomes ...types.Outcome) []*TestRecord {
	want := make(map[types.Outcome]bool, len(outcomes))
	for _, o := range outcomes {
		want[o] = true
	}
	var out []*TestRecord
	for _, key := range a.order {
		if rec := a.records[key]; want[rec.Outcome()] {
			out = append(out, rec)
		}
	}
	return out
}

// Passed returns the records that passed.
func (a *Aggregator) Passed() []*TestRecord { return a.filter(types.OutcomePassed) }

// Failed returns the records that failed, excluding expected failures and
// setup errors.
func (a *Aggregator) Failed() []*TestRecord { return a.filter(types.OutcomeFailed) }

// XFailed returns the records that failed as expected.
func (a *Aggregator) XFailed() []*TestRecord { return a.filter(types.OutcomeXFailed) }

// XPassed returns the records that passed unexpectedly.
func (a *Aggregator) XPassed() []*TestRecord { return a.filter(types.OutcomeXPassed) }

// Skipped returns the records that were skipped.
func (a *Aggregator) Skipped() []*TestRecord { return a.filter(types.OutcomeSkipped) }

// SetupErrored returns the records whose setup phase failed.
func (a *Aggregator) SetupErrored() []*TestRecord { return a.filter(types.OutcomeSetupErrored) }

// TeardownErrored returns the records whose teardown phase failed.
func (a *Aggregator) TeardownErrored() []*TestRecord { return a.filter(types.OutcomeTeardownErrored) }

// NotRun returns the records that never ran or were interrupted.
func (a *Aggregator) NotRun() []*TestRecord {
	return a.filter(types.OutcomeNotStarted, types.OutcomeInterrupted)
}

// CollectFailures returns the collection reports that failed outright, which
// never became TestRecords.
func (a *Aggregator) CollectFailures() []protocol.CollectReportRepresentation {
	out := make([]protocol.CollectReportRepresentation, 0, len(a.collectFailures))
	for _, rep := range a.collectFailures {
		out = append(out, rep)
	}
	return out
}

// CollectionCounts summarizes the collection phase for the progress
// indicator and the state endpoint.
type CollectionCounts struct {
	Selected   int `json:"selected"`
	Skipped    int `json:"skipped"`
	Deselected int `json:"deselected"`
	Failed     int `json:"failed"`
}

// CollectionProgress returns the current collection phase counts.
func (a *Aggregator) CollectionProgress() CollectionCounts {
	return CollectionCounts{
		Selected:   len(a.records),
		Skipped:    len(a.collectSkips),
		Deselected: len(a.deselected),
		Failed:     len(a.collectFailures),
	}
}

// CompletionCounts returns how many active records have finished against the
// active total, using the cached finished count.
func (a *Aggregator) CompletionCounts() (finished int, total int) {
	total = 0
	for _, rec := range a.records {
		if !rec.Parked {
			total++
		}
	}
	return a.finishedCount, total
}

// recountFinished rebuilds the finished-count cache after a bulk mutation.
func (a *Aggregator) recountFinished() {
	count := 0
	for _, rec := range a.records {
		if !rec.Parked && rec.Finished() {
			count++
		}
	}
	a.finishedCount = count
}
