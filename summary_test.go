package testpipe

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testpipe/testpipe/protocol"
	"github.com/testpipe/testpipe/state"
	"github.com/testpipe/testpipe/types"
)

func phaseReport(nodeid string, phase types.Phase, outcome types.ReportOutcome) protocol.TestReportRepresentation {
	return protocol.TestReportRepresentation{
		NodeID:  nodeid,
		Phase:   phase,
		Outcome: outcome,
		ID:      types.NewNodeID(nodeid, "/repo"),
	}
}

// runLifecycle drives one test through a complete start/setup/call/teardown/end
// sequence on the aggregator.
func runLifecycle(agg *state.Aggregator, nodeid string, callOutcome types.ReportOutcome) {
	id := types.NewNodeID(nodeid, "/repo")
	agg.StartTest(id)
	agg.StorePhaseReport(phaseReport(nodeid, types.PhaseSetup, types.ReportPassed))
	agg.StorePhaseReport(phaseReport(nodeid, types.PhaseCall, callOutcome))
	agg.StorePhaseReport(phaseReport(nodeid, types.PhaseTeardown, types.ReportPassed))
	agg.EndTest(id)
}

func collectedAggregator(t *testing.T, nodeids ...string) *state.Aggregator {
	t.Helper()
	agg := state.NewAggregator(log.NewLogger(log.DiscardHandler()))
	items := make([]protocol.ItemRepresentation, 0, len(nodeids))
	for _, nodeid := range nodeids {
		items = append(items, protocol.ItemRepresentation{
			NodeID: nodeid,
			Name:   nodeid,
			ID:     types.NewNodeID(nodeid, "/repo"),
		})
	}
	added, failed := agg.AddCollected(protocol.CollectReportRepresentation{
		NodeID:  "tests/test_a.py",
		Outcome: types.ReportPassed,
		Result:  items,
	})
	require.True(t, added)
	require.False(t, failed)
	return agg
}

func TestNewRunResult(t *testing.T) {
	agg := collectedAggregator(t,
		"tests/test_a.py::test_one",
		"tests/test_a.py::test_two",
		"tests/test_a.py::test_three",
	)
	runLifecycle(agg, "tests/test_a.py::test_one", types.ReportPassed)
	runLifecycle(agg, "tests/test_a.py::test_two", types.ReportFailed)
	runLifecycle(agg, "tests/test_a.py::test_three", types.ReportPassed)

	result := newRunResult("run-1", 2*time.Second, agg, false, 1)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Counts[types.OutcomePassed])
	assert.Equal(t, 1, result.Counts[types.OutcomeFailed])
	assert.Equal(t, 1, result.FailureCount())
	assert.False(t, result.Passed())
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "tests/test_a.py::test_two", result.Failures[0].Item.NodeID)
}

func TestRunResultPassed(t *testing.T) {
	tests := []struct {
		name   string
		result RunResult
		want   bool
	}{
		{
			name:   "clean run",
			result: RunResult{Counts: map[types.Outcome]int{types.OutcomePassed: 3}},
			want:   true,
		},
		{
			name: "failures",
			result: RunResult{Counts: map[types.Outcome]int{
				types.OutcomePassed: 2,
				types.OutcomeFailed: 1,
			}},
			want: false,
		},
		{
			name: "setup error counts as failure",
			result: RunResult{Counts: map[types.Outcome]int{
				types.OutcomeSetupErrored: 1,
			}},
			want: false,
		},
		{
			name: "abrupt stream closure",
			result: RunResult{
				Counts: map[types.Outcome]int{types.OutcomePassed: 3},
				Abrupt: true,
			},
			want: false,
		},
		{
			name: "non-zero exit code",
			result: RunResult{
				Counts:   map[types.Outcome]int{types.OutcomePassed: 3},
				ExitCode: 2,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Passed())
		})
	}
}

func TestRunResultString(t *testing.T) {
	tests := []struct {
		name   string
		result RunResult
		want   string
	}{
		{
			name: "mixed outcomes in display order",
			result: RunResult{
				Duration: 2300 * time.Millisecond,
				Counts: map[types.Outcome]int{
					types.OutcomeFailed: 1,
					types.OutcomePassed: 12,
				},
			},
			want: "12 passed, 1 failed (2.3s)",
		},
		{
			name: "expected failures",
			result: RunResult{
				Duration: 500 * time.Millisecond,
				Counts: map[types.Outcome]int{
					types.OutcomePassed:  2,
					types.OutcomeXFailed: 1,
				},
			},
			want: "2 passed, 1 expected failures (500ms)",
		},
		{
			name:   "empty run",
			result: RunResult{Duration: time.Second},
			want:   "no tests ran (1s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.String())
		})
	}
}

func TestFailureDetail(t *testing.T) {
	callRepr := "assert 1 == 2\nfull trace follows"
	setupRepr := "fixture raised"

	rec := state.NewTestRecord(protocol.ItemRepresentation{NodeID: "t"})
	setup := phaseReport("t", types.PhaseSetup, types.ReportFailed)
	setup.LongRepr = &setupRepr
	rec.StorePhase(types.PhaseSetup, &setup)
	assert.Equal(t, "fixture raised", failureDetail(rec))

	// A failing call takes precedence over the setup failure.
	call := phaseReport("t", types.PhaseCall, types.ReportFailed)
	call.LongRepr = &callRepr
	rec.StorePhase(types.PhaseCall, &call)
	assert.Equal(t, "assert 1 == 2", failureDetail(rec))

	empty := state.NewTestRecord(protocol.ItemRepresentation{NodeID: "u"})
	assert.Equal(t, "", failureDetail(empty))
}
