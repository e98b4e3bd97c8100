package wsbridge

import "github.com/streamspace/pulsehost/internal/value"

// wireValue is the JSON-serializable projection of value.Value sent
// to dashboard clients; value.Value itself exposes no exported
// fields, so the bridge flattens it into a tagged shape here rather
// than elsewhere, keeping the conversion colocated with its only
// caller.
type wireValue struct {
	Kind     string      `json:"kind"`
	Int      int64       `json:"int,omitempty"`
	Float    float64     `json:"float,omitempty"`
	Bool     bool        `json:"bool,omitempty"`
	Micros   int64       `json:"micros,omitempty"`
	Str      string      `json:"str,omitempty"`
	Elements []wireValue `json:"elements,omitempty"`
}

func toWireValue(v value.Value) wireValue {
	switch v.Kind() {
	case value.KindInt:
		n, _ := v.Int()
		return wireValue{Kind: "int", Int: n}
	case value.KindFloat:
		f, _ := v.Float()
		return wireValue{Kind: "float", Float: f}
	case value.KindBool:
		b, _ := v.Bool()
		return wireValue{Kind: "bool", Bool: b}
	case value.KindDuration:
		micros, _ := v.DurationMicros()
		return wireValue{Kind: "duration", Micros: micros}
	case value.KindString:
		s, _ := v.String()
		return wireValue{Kind: "string", Str: s}
	case value.KindArray:
		elems := v.Elements()
		out := make([]wireValue, len(elems))
		for i, e := range elems {
			out[i] = toWireValue(e)
		}
		return wireValue{Kind: "array", Elements: out}
	default:
		return wireValue{Kind: "none"}
	}
}

// outboundKind discriminates the envelope sent to dashboard clients.
type outboundKind string

const (
	outboundPropertyUpdate outboundKind = "property_update"
	outboundPropertyRemove outboundKind = "property_remove"
)

type outboundEnvelope struct {
	Type     outboundKind `json:"type"`
	Plugin   uint64       `json:"plugin"`
	Item     uint64       `json:"item"`
	Name     string       `json:"name,omitempty"`
	Value    *wireValue   `json:"value,omitempty"`
}

// inboundKind discriminates a message sent by a dashboard client.
type inboundKind string

const (
	inboundTriggerAction inboundKind = "trigger_action"
)

// inboundEnvelope is what readPump decodes from a dashboard client.
// Only TriggerAction is currently handled; unknown types are logged
// and ignored rather than closing the connection.
type inboundEnvelope struct {
	Type       inboundKind `json:"type"`
	Target     uint64      `json:"target"`
	ActionCode uint64      `json:"action_code"`
	Params     []wireValue `json:"params"`
}

func toValues(wvs []wireValue) []value.Value {
	out := make([]value.Value, len(wvs))
	for i, wv := range wvs {
		out[i] = wv.toValue()
	}
	return out
}

func (wv wireValue) toValue() value.Value {
	switch wv.Kind {
	case "int":
		return value.Int(wv.Int)
	case "float":
		return value.Float(wv.Float)
	case "bool":
		return value.Bool(wv.Bool)
	case "duration":
		return value.Dur(wv.Micros)
	case "string":
		return value.Str(wv.Str)
	default:
		return value.None()
	}
}
