package protocol

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/testpipe/testpipe/types"
)

// Codec converts engine objects to transport-safe text and back. Values are
// JSON-serialized and the result hex-encoded, so a frame argument can never
// contain a space or newline and cannot be confused with passthrough text.
//
// The decoding side is stateful: the root path carried by the first decoded
// ConfigRepresentation is captured and used to rehydrate NodeID strings on
// every subsequent representation.
type Codec struct {
	log      log.Logger
	rootPath string
}

// NewCodec creates a Codec. The logger receives decode diagnostics.
func NewCodec(logger log.Logger) *Codec {
	return &Codec{log: logger}
}

// RootPath returns the root path captured from the first decoded config, or
// "" when no config has been decoded yet.
func (c *Codec) RootPath() string {
	return c.rootPath
}

// Encode converts a value to its transport-safe text form. Recognized engine
// objects are first reduced to their Representation; sequences are encoded
// recursively; primitives pass through. An unrecognized complex kind yields
// an EncodingError; callers degrade to EncodePlaceholder rather than failing.
func (c *Codec) Encode(v any) (string, error) {
	val, err := Represent(v)
	if err != nil {
		return "", err
	}
	return marshalValue(val)
}

// EncodeValue converts an already-represented Value to transport-safe text.
func (c *Codec) EncodeValue(val Value) (string, error) {
	return marshalValue(val)
}

// EncodePlaceholder produces the best-effort stand-in for an unrepresentable
// value. It cannot fail.
func (c *Codec) EncodePlaceholder(typeName string) string {
	enc, err := marshalValue(Value{Kind: KindPlaceholder, Placeholder: &typeName})
	if err != nil {
		// A placeholder is a flat two-field struct; marshalling cannot fail.
		panic(err)
	}
	return enc
}

func marshalValue(val Value) (string, error) {
	raw, err := json.Marshal(val)
	if err != nil {
		return "", &EncodingError{TypeName: string(val.Kind), Err: err}
	}
	return hex.EncodeToString(raw), nil
}

// Represent reduces a Go value to its transmissible Value form. Recognized
// object kinds map to their Representation variant, slices recurse, and
// primitives pass through unchanged.
func Represent(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return NilValue(), nil
	case bool:
		return BoolValue(x), nil
	case int:
		return IntValue(int64(x)), nil
	case int64:
		return IntValue(x), nil
	case float64:
		return FloatValue(x), nil
	case string:
		return StringValue(x), nil
	case types.NodeID:
		return StringValue(x.Raw), nil
	case Value:
		return x, nil
	case *ConfigRepresentation:
		return Value{Kind: KindConfig, Config: x}, nil
	case ConfigRepresentation:
		return Value{Kind: KindConfig, Config: &x}, nil
	case *SessionRepresentation:
		return Value{Kind: KindSession, Session: x}, nil
	case SessionRepresentation:
		return Value{Kind: KindSession, Session: &x}, nil
	case *ItemRepresentation:
		return Value{Kind: KindItem, Item: x}, nil
	case ItemRepresentation:
		return Value{Kind: KindItem, Item: &x}, nil
	case *CollectReportRepresentation:
		return Value{Kind: KindCollectReport, CollectReport: x}, nil
	case CollectReportRepresentation:
		return Value{Kind: KindCollectReport, CollectReport: &x}, nil
	case *TestReportRepresentation:
		return Value{Kind: KindTestReport, TestReport: x}, nil
	case TestReportRepresentation:
		return Value{Kind: KindTestReport, TestReport: &x}, nil
	case *WarningRepresentation:
		return Value{Kind: KindWarning, Warning: x}, nil
	case WarningRepresentation:
		return Value{Kind: KindWarning, Warning: &x}, nil
	case []any:
		list := make([]Value, 0, len(x))
		for _, el := range x {
			ev, err := Represent(el)
			if err != nil {
				return Value{}, err
			}
			list = append(list, ev)
		}
		return Value{Kind: KindList, List: list}, nil
	case []ItemRepresentation:
		list := make([]Value, 0, len(x))
		for i := range x {
			list = append(list, Value{Kind: KindItem, Item: &x[i]})
		}
		return Value{Kind: KindList, List: list}, nil
	default:
		return Value{}, &EncodingError{TypeName: fmt.Sprintf("%T", v)}
	}
}

// Decode converts a transport text form back to a Value, rehydrating NodeID
// strings against the run's root path. Malformed input yields a DecodeError
// carrying the byte offset of the corruption; both halves of the input around
// that offset are logged, since two independent streams sharing one channel
// is a realistic corruption source.
func (c *Codec) Decode(enc string) (Value, error) {
	raw, err := hex.DecodeString(enc)
	if err != nil {
		offset := hexErrorOffset(enc)
		c.logSplitInput(enc, offset)
		return Value{}, &DecodeError{Offset: offset, Input: enc, Err: err}
	}
	var val Value
	if err := json.Unmarshal(raw, &val); err != nil {
		c.logSplitInput(enc, 0)
		return Value{}, &DecodeError{Offset: 0, Input: enc, Err: err}
	}
	c.rehydrate(&val)
	return val, nil
}

// hexErrorOffset finds the first byte of enc that is not a hex digit, which
// is where a corrupted stream diverges from valid protocol data.
func hexErrorOffset(enc string) int {
	for i := 0; i < len(enc); i++ {
		ch := enc[i]
		isHex := (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
		if !isHex {
			return i
		}
	}
	// Odd-length input: the truncation point is the end.
	return len(enc)
}

// logSplitInput logs both halves of a malformed input around the given
// offset, wrapped to keep log lines readable.
func (c *Codec) logSplitInput(enc string, offset int) {
	if c.log == nil {
		return
	}
	if offset > len(enc) {
		offset = len(enc)
	}
	before, after := enc[:offset], enc[offset:]
	c.log.Error("non-protocol data in frame argument", "offset", offset)
	for _, half := range []struct {
		label string
		text  string
	}{{"before", before}, {"after", after}} {
		for chunk := half.text; chunk != ""; {
			n := 60
			if n > len(chunk) {
				n = len(chunk)
			}
			c.log.Error("frame fragment", "half", half.label, "data", chunk[:n])
			chunk = chunk[n:]
		}
	}
}

// rehydrate converts node id strings within a decoded value to NodeID
// instances. A decoded config updates the codec's root path instead.
func (c *Codec) rehydrate(val *Value) {
	switch val.Kind {
	case KindConfig:
		if val.Config != nil {
			c.rootPath = val.Config.RootPath
		}
	case KindSession:
		if val.Session != nil && val.Session.Config != nil {
			c.rootPath = val.Session.Config.RootPath
		}
	case KindItem:
		if val.Item != nil {
			val.Item.ID = types.NewNodeID(val.Item.NodeID, c.rootPath)
		}
	case KindCollectReport:
		if val.CollectReport != nil {
			val.CollectReport.ID = types.NewNodeID(val.CollectReport.NodeID, c.rootPath)
			for i := range val.CollectReport.Result {
				val.CollectReport.Result[i].ID = types.NewNodeID(val.CollectReport.Result[i].NodeID, c.rootPath)
			}
		}
	case KindTestReport:
		if val.TestReport != nil {
			val.TestReport.ID = types.NewNodeID(val.TestReport.NodeID, c.rootPath)
		}
	case KindList:
		for i := range val.List {
			c.rehydrate(&val.List[i])
		}
	}
}
