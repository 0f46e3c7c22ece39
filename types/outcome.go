package types

import "strings"

// Phase identifies one of the three execution phases of a test.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseCall     Phase = "call"
	PhaseTeardown Phase = "teardown"
)

// ValidPhase reports whether p names a known execution phase.
func ValidPhase(p Phase) bool {
	return p == PhaseSetup || p == PhaseCall || p == PhaseTeardown
}

// ReportOutcome is the raw outcome string carried by a phase report.
type ReportOutcome string

const (
	ReportPassed  ReportOutcome = "passed"
	ReportFailed  ReportOutcome = "failed"
	ReportSkipped ReportOutcome = "skipped"
)

// Outcome is the derived display state of a test record. It is a pure
// function of the record's three phase reports plus the started and parked
// flags.
type Outcome string

const (
	OutcomeNotStarted      Outcome = "not_started"
	OutcomeSetupRunning    Outcome = "setup_running"
	OutcomeRunning         Outcome = "running"
	OutcomeTeardownRunning Outcome = "teardown_running"
	OutcomeXFailed         Outcome = "xfailed"
	OutcomeXPassed         Outcome = "xpassed"
	OutcomeSetupErrored    Outcome = "setup_errored"
	OutcomeTeardownErrored Outcome = "teardown_errored"
	OutcomeFailed          Outcome = "failed"
	OutcomePassed          Outcome = "passed"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeNotRun          Outcome = "not_run"
	OutcomeInterrupted     Outcome = "interrupted"
	OutcomeUnknown         Outcome = "unknown"
)

// indicators maps each outcome to the single-character marker used by the
// progress display.
var indicators = map[Outcome]string{
	OutcomeNotStarted:      ".",
	OutcomeSetupRunning:    "↑",
	OutcomeRunning:         "r",
	OutcomeTeardownRunning: "↓",
	OutcomeXFailed:         "f",
	OutcomeXPassed:         "p",
	OutcomeSetupErrored:    "u",
	OutcomeTeardownErrored: "d",
	OutcomeFailed:          "✕",
	OutcomePassed:          "✔",
	OutcomeSkipped:         "s",
	OutcomeNotRun:          ".",
	OutcomeInterrupted:     "!",
}

// stdIndicators is the conservative marker set matching conventional test
// runner output.
var stdIndicators = map[Outcome]string{
	OutcomeNotStarted:      ".",
	OutcomeSetupRunning:    "↑",
	OutcomeRunning:         "r",
	OutcomeTeardownRunning: "↓",
	OutcomeXFailed:         "x",
	OutcomeXPassed:         "X",
	OutcomeSetupErrored:    "E",
	OutcomeTeardownErrored: "E",
	OutcomeFailed:          "F",
	OutcomePassed:          ".",
	OutcomeSkipped:         "s",
	OutcomeNotRun:          ".",
	OutcomeInterrupted:     "!",
}

// Indicator returns the single-character marker for an outcome. When std is
// set the conventional marker set is used.
func (o Outcome) Indicator(std bool) string {
	m := indicators
	if std {
		m = stdIndicators
	}
	if ind, ok := m[o]; ok {
		return ind
	}
	return "?"
}

// Label returns the human-readable display label for an outcome.
func (o Outcome) Label() string {
	switch o {
	case OutcomeXFailed:
		return "Expected failures"
	case OutcomeXPassed:
		return "Unexpected passes"
	case OutcomeSetupErrored:
		return "Setup errors"
	case OutcomeTeardownErrored:
		return "Teardown errors"
	case OutcomeNotRun:
		return "Not run"
	case OutcomeNotStarted:
		return "Not started"
	default:
		if o == "" {
			return "Unknown"
		}
		return strings.ToUpper(string(o[0])) + string(o[1:])
	}
}
