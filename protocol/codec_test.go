package protocol

import (
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec() *Codec {
	return NewCodec(log.New("module", "codec-test"))
}

func TestCodec_RoundTripPrimitives(t *testing.T) {
	tests := []struct {
		name  string
		value any
		check func(t *testing.T, got Value)
	}{
		{
			name:  "nil",
			value: nil,
			check: func(t *testing.T, got Value) {
				assert.Equal(t, KindNil, got.Kind)
			},
		},
		{
			name:  "bool",
			value: true,
			check: func(t *testing.T, got Value) {
				require.Equal(t, KindBool, got.Kind)
				assert.True(t, *got.Bool)
			},
		},
		{
			name:  "int",
			value: 42,
			check: func(t *testing.T, got Value) {
				assert.Equal(t, int64(42), got.AsInt())
			},
		},
		{
			name:  "float",
			value: 1.5,
			check: func(t *testing.T, got Value) {
				require.Equal(t, KindFloat, got.Kind)
				assert.Equal(t, 1.5, *got.Float)
			},
		},
		{
			name:  "string with spaces and newlines",
			value: "hello world\nsecond line",
			check: func(t *testing.T, got Value) {
				assert.Equal(t, "hello world\nsecond line", got.AsString())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCodec()
			enc, err := c.Encode(tt.value)
			require.NoError(t, err)
			assert.NotContains(t, enc, " ", "encoded form must be channel-safe")
			assert.NotContains(t, enc, "\n", "encoded form must be channel-safe")

			got, err := c.Decode(enc)
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestCodec_RoundTripTestReport(t *testing.T) {
	c := newTestCodec()
	longrepr := "assert 1 == 2"
	report := TestReportRepresentation{
		NodeID:   "/proj/pkg/test_math.py::TestAdd::test_add",
		Phase:    "call",
		Outcome:  "failed",
		Duration: 0.25,
		LongRepr: &longrepr,
		Sections: []Section{{Title: "Captured stdout call", Body: "computing\n"}},
	}

	enc, err := c.Encode(report)
	require.NoError(t, err)

	got, err := c.Decode(enc)
	require.NoError(t, err)
	require.Equal(t, KindTestReport, got.Kind)
	require.NotNil(t, got.TestReport)
	assert.Equal(t, report.NodeID, got.TestReport.NodeID)
	assert.Equal(t, report.Phase, got.TestReport.Phase)
	assert.Equal(t, report.Outcome, got.TestReport.Outcome)
	require.NotNil(t, got.TestReport.LongRepr)
	assert.Equal(t, longrepr, *got.TestReport.LongRepr)
	require.Len(t, got.TestReport.Sections, 1)
	assert.Equal(t, "Captured stdout call", got.TestReport.Sections[0].Title)
	assert.Nil(t, got.TestReport.WasXfail, "absent optional attribute must stay absent")
}

func TestCodec_ConfigCapturesRootPath(t *testing.T) {
	c := newTestCodec()

	enc, err := c.Encode(ConfigRepresentation{RootPath: "/proj", Args: []string{"tests/"}})
	require.NoError(t, err)
	_, err = c.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, "/proj", c.RootPath())

	// Node ids decoded afterwards render their file portion relative to it.
	enc, err = c.Encode(ItemRepresentation{NodeID: "/proj/tests/test_a.py::test_one", Name: "test_one"})
	require.NoError(t, err)
	got, err := c.Decode(enc)
	require.NoError(t, err)
	require.Equal(t, KindItem, got.Kind)
	assert.Equal(t, "tests/test_a.py", got.Item.ID.File())
}

func TestCodec_CollectReportResultRehydrated(t *testing.T) {
	c := newTestCodec()
	_, err := c.Decode(mustEncode(t, c, ConfigRepresentation{RootPath: "/proj"}))
	require.NoError(t, err)

	report := CollectReportRepresentation{
		NodeID:  "/proj/tests/test_a.py",
		Outcome: "passed",
		Result: []ItemRepresentation{
			{NodeID: "/proj/tests/test_a.py::test_one", Name: "test_one"},
			{NodeID: "/proj/tests/test_a.py::test_two", Name: "test_two"},
		},
		Primary: true,
	}
	got, err := c.Decode(mustEncode(t, c, report))
	require.NoError(t, err)
	require.Equal(t, KindCollectReport, got.Kind)
	assert.True(t, got.CollectReport.Primary)
	require.Len(t, got.CollectReport.Result, 2)
	assert.Equal(t, "tests/test_a.py", got.CollectReport.Result[0].ID.File())
}

func TestCodec_EncodeUnrepresentable(t *testing.T) {
	c := newTestCodec()
	_, err := c.Encode(struct{ X int }{X: 1})
	require.Error(t, err)
	assert.True(t, IsEncodingError(err))

	// The fallback path always yields a decodable placeholder.
	enc := c.EncodePlaceholder("struct { X int }")
	got, err := c.Decode(enc)
	require.NoError(t, err)
	require.Equal(t, KindPlaceholder, got.Kind)
	assert.Equal(t, "struct { X int }", *got.Placeholder)
}

func TestCodec_DecodeCorruptedInput(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantOffset int
	}{
		{
			name:       "non-hex byte mid-stream",
			input:      "7b226b696e64Zdeadbeef",
			wantOffset: 12,
		},
		{
			name:       "stray harness output",
			input:      "some stray output",
			wantOffset: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCodec()
			got, err := c.Decode(tt.input)
			require.Error(t, err)
			require.True(t, IsDecodeError(err))
			var decErr *DecodeError
			require.ErrorAs(t, err, &decErr)
			assert.Equal(t, tt.wantOffset, decErr.Offset)
			assert.Equal(t, Value{}, got)
		})
	}
}

func TestCodec_DecodeTruncatedInput(t *testing.T) {
	c := newTestCodec()
	enc := mustEncode(t, c, "hello")

	// Odd-length truncation: the error offset points at the end.
	_, err := c.Decode(enc[:len(enc)-1])
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, len(enc)-1, decErr.Offset)
}

func TestCodec_ListRecursion(t *testing.T) {
	c := newTestCodec()
	enc, err := c.Encode([]any{"a", 1, true})
	require.NoError(t, err)

	got, err := c.Decode(enc)
	require.NoError(t, err)
	require.Equal(t, KindList, got.Kind)
	require.Len(t, got.List, 3)
	assert.Equal(t, "a", got.List[0].AsString())
	assert.Equal(t, int64(1), got.List[1].AsInt())
	assert.True(t, *got.List[2].Bool)
}

func mustEncode(t *testing.T, c *Codec, v any) string {
	t.Helper()
	enc, err := c.Encode(v)
	require.NoError(t, err)
	return enc
}
