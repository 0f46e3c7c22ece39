package testpipe

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/testpipe/testpipe/protocol"
	"github.com/testpipe/testpipe/state"
	"github.com/testpipe/testpipe/types"
)

// RunResult is the final accounting of one test run.
type RunResult struct {
	RunID    string
	Duration time.Duration
	Total    int
	Counts   map[types.Outcome]int
	Failures []*state.TestRecord
	Abrupt   bool
	ExitCode int
}

// summaryOutcomes is the display order for outcome rows.
var summaryOutcomes = []types.Outcome{
	types.OutcomePassed,
	types.OutcomeFailed,
	types.OutcomeSkipped,
	types.OutcomeXFailed,
	types.OutcomeXPassed,
	types.OutcomeSetupErrored,
	types.OutcomeTeardownErrored,
	types.OutcomeInterrupted,
	types.OutcomeNotStarted,
}

// newRunResult snapshots the aggregator into a RunResult.
func newRunResult(runID string, duration time.Duration, agg *state.Aggregator, abrupt bool, exitCode int) *RunResult {
	result := &RunResult{
		RunID:    runID,
		Duration: duration,
		Counts:   make(map[types.Outcome]int),
		Abrupt:   abrupt,
		ExitCode: exitCode,
	}
	for _, rec := range agg.Records() {
		result.Total++
		result.Counts[rec.Outcome()]++
	}
	result.Failures = append(result.Failures, agg.Failed()...)
	result.Failures = append(result.Failures, agg.SetupErrored()...)
	result.Failures = append(result.Failures, agg.TeardownErrored()...)
	return result
}

// FailureCount returns how many tests ended in a failing state.
func (r *RunResult) FailureCount() int {
	return r.Counts[types.OutcomeFailed] +
		r.Counts[types.OutcomeSetupErrored] +
		r.Counts[types.OutcomeTeardownErrored]
}

// Passed reports whether the run completed with no failing tests and a clean
// stream shutdown.
func (r *RunResult) Passed() bool {
	return r.FailureCount() == 0 && !r.Abrupt && r.ExitCode == 0
}

// String renders the one-line summary, e.g. "12 passed, 1 failed (2.3s)".
func (r *RunResult) String() string {
	var parts []string
	for _, outcome := range summaryOutcomes {
		if n := r.Counts[outcome]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(outcome.Label())))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no tests ran")
	}
	return fmt.Sprintf("%s (%s)", strings.Join(parts, ", "), formatDuration(r.Duration))
}

// printResultsTable prints the run results to the console.
func (p *Pipeline) printResultsTable(result *RunResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Test Run Results (%s)", formatDuration(result.Duration)))

	t.AppendHeader(table.Row{"Outcome", "Count", ""})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Count", Align: text.AlignRight},
		{Name: "", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	std := p.config.StdIndicators
	for _, outcome := range summaryOutcomes {
		n := result.Counts[outcome]
		if n == 0 {
			continue
		}
		t.AppendRow(table.Row{
			fmt.Sprintf("%s %s", outcome.Indicator(std), outcome.Label()),
			n,
			"",
		})
	}
	t.AppendFooter(table.Row{"Total", result.Total, ""})
	t.Render()

	if len(result.Failures) > 0 {
		f := table.NewWriter()
		f.SetOutputMirror(os.Stdout)
		f.SetTitle("Failures")
		f.AppendHeader(table.Row{"Test", "Outcome", "Detail"})
		f.SetColumnConfigs([]table.ColumnConfig{
			{Name: "Test", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
			{Name: "Detail", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		})
		for _, rec := range result.Failures {
			f.AppendRow(table.Row{
				rec.Item.NodeID,
				rec.Outcome().Label(),
				failureDetail(rec),
			})
		}
		f.Render()
	}
}

// failureDetail extracts the most significant failure text from a record,
// preferring the call phase over setup and teardown.
func failureDetail(rec *state.TestRecord) string {
	for _, rep := range []*protocol.TestReportRepresentation{rec.Call, rec.Setup, rec.Teardown} {
		if rep != nil && rep.Outcome == types.ReportFailed && rep.LongRepr != nil {
			return firstLine(*rep.LongRepr)
		}
	}
	return ""
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Truncate(time.Millisecond).String()
	}
	return d.Truncate(100 * time.Millisecond).String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
