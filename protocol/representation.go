package protocol

import (
	"github.com/testpipe/testpipe/types"
)

// Kind tags a transmissible value. Primitive kinds carry their payload
// directly; representation kinds carry a whitelisted-attribute snapshot of an
// engine object. An unrecognized engine object degrades to KindPlaceholder
// rather than failing the emitter.
type Kind string

const (
	KindNil           Kind = "nil"
	KindBool          Kind = "bool"
	KindInt           Kind = "int"
	KindFloat         Kind = "float"
	KindString        Kind = "string"
	KindList          Kind = "list"
	KindConfig        Kind = "config"
	KindSession       Kind = "session"
	KindItem          Kind = "item"
	KindCollectReport Kind = "collect-report"
	KindTestReport    Kind = "test-report"
	KindWarning       Kind = "warning"
	KindPlaceholder   Kind = "placeholder"
)

// Value is the tagged union carried by protocol frames. Exactly one payload
// field is populated, selected by Kind. Optional representation attributes are
// pointer fields; absent means the source object did not carry the attribute.
type Value struct {
	Kind Kind `json:"kind"`

	Bool          *bool                        `json:"bool,omitempty"`
	Int           *int64                       `json:"int,omitempty"`
	Float         *float64                     `json:"float,omitempty"`
	Str           *string                      `json:"str,omitempty"`
	List          []Value                      `json:"list,omitempty"`
	Config        *ConfigRepresentation        `json:"config,omitempty"`
	Session       *SessionRepresentation       `json:"session,omitempty"`
	Item          *ItemRepresentation          `json:"item,omitempty"`
	CollectReport *CollectReportRepresentation `json:"collectReport,omitempty"`
	TestReport    *TestReportRepresentation    `json:"testReport,omitempty"`
	Warning       *WarningRepresentation       `json:"warning,omitempty"`

	// Placeholder names the type of a value the codec could not represent.
	Placeholder *string `json:"placeholder,omitempty"`
}

// ConfigRepresentation is the snapshot of the harness run configuration. It
// is the first representation sent on the wire; the decoder captures RootPath
// from it to rehydrate NodeIDs.
type ConfigRepresentation struct {
	RootPath   string   `json:"rootPath"`
	Args       []string `json:"args,omitempty"`
	NumWorkers int      `json:"numWorkers,omitempty"`
}

// SessionRepresentation is the snapshot of a harness session object.
type SessionRepresentation struct {
	Config    *ConfigRepresentation `json:"config,omitempty"`
	StartTime float64               `json:"startTime,omitempty"`
}

// ItemRepresentation is the snapshot of one collected test.
type ItemRepresentation struct {
	NodeID       string  `json:"nodeid"`
	Name         string  `json:"name"`
	Path         string  `json:"path,omitempty"`
	OriginalName *string `json:"originalName,omitempty"`

	// ID is the rehydrated form of NodeID, populated by the decoder.
	ID types.NodeID `json:"-"`
}

// Section is one captured output section of a report, a (title, body) pair.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// CollectReportRepresentation is the snapshot of one collection report. The
// Primary marker distinguishes the authoritative collector's report when two
// collectors report the same NodeID concurrently.
type CollectReportRepresentation struct {
	NodeID   string               `json:"nodeid"`
	Outcome  types.ReportOutcome  `json:"outcome"`
	Result   []ItemRepresentation `json:"result,omitempty"`
	LongRepr *string              `json:"longrepr,omitempty"`
	Sections []Section            `json:"sections,omitempty"`
	Primary  bool                 `json:"primary,omitempty"`

	ID types.NodeID `json:"-"`
}

// TestReportRepresentation is the snapshot of one phase report for a running
// test. WasXfail is present when the test was marked as an expected failure.
type TestReportRepresentation struct {
	NodeID   string              `json:"nodeid"`
	Phase    types.Phase         `json:"phase"`
	Outcome  types.ReportOutcome `json:"outcome"`
	Duration float64             `json:"duration,omitempty"`
	Start    float64             `json:"start,omitempty"`
	Stop     float64             `json:"stop,omitempty"`
	Location *string             `json:"location,omitempty"`
	LongRepr *string             `json:"longrepr,omitempty"`
	Sections []Section           `json:"sections,omitempty"`
	WasXfail *string             `json:"wasxfail,omitempty"`
	WorkerID *string             `json:"workerId,omitempty"`

	ID types.NodeID `json:"-"`
}

// WarningRepresentation is the snapshot of a warning raised by the harness or
// the code under test.
type WarningRepresentation struct {
	Message    string  `json:"message"`
	Category   *string `json:"category,omitempty"`
	When       string  `json:"when,omitempty"`
	NodeID     string  `json:"nodeid,omitempty"`
	Filename   *string `json:"filename,omitempty"`
	LineNumber *int    `json:"lineNumber,omitempty"`
	Function   *string `json:"function,omitempty"`
}

// Convenience constructors for primitive values.

func NilValue() Value { return Value{Kind: KindNil} }

func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: &b} }

func IntValue(i int64) Value { return Value{Kind: KindInt, Int: &i} }

func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: &f} }

func StringValue(s string) Value { return Value{Kind: KindString, Str: &s} }

func ListValue(vs ...Value) Value { return Value{Kind: KindList, List: vs} }

// AsString returns the string payload, or "" when the value is not a string.
func (v Value) AsString() string {
	if v.Kind == KindString && v.Str != nil {
		return *v.Str
	}
	return ""
}

// AsInt returns the integer payload, or 0 when the value is not an int.
func (v Value) AsInt() int64 {
	if v.Kind == KindInt && v.Int != nil {
		return *v.Int
	}
	return 0
}
