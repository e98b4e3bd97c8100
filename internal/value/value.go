// Package value implements the Value sum type and the ValueCell
// typed, atomically-readable, optionally-shared storage container
// that backs every Property in the host.
package value

import "time"

// Kind identifies which variant a Value or ValueCell holds.
type Kind int

const (
	KindNone Kind = iota
	KindInt
	KindFloat
	KindBool
	KindDuration
	KindString
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Bool"
	case KindDuration:
		return "Duration"
	case KindString:
		return "String"
	case KindArray:
		return "Array"
	default:
		return "Unknown"
	}
}

// Value is exactly one of {None, Int64, Float64, Bool,
// Duration(microseconds, signed), String, Array-of-scalar}.
type Value struct {
	kind     Kind
	i        int64
	f        float64
	b        bool
	dur      time.Duration // stored in microsecond resolution
	s        string
	elemKind Kind
	arr      []Value
}

func None() Value { return Value{kind: KindNone} }

func Int(v int64) Value { return Value{kind: KindInt, i: v} }

func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Dur constructs a Duration value from a signed microsecond count.
func Dur(microseconds int64) Value {
	return Value{kind: KindDuration, dur: time.Duration(microseconds) * time.Microsecond}
}

func Str(v string) Value { return Value{kind: KindString, s: v} }

// Array constructs a fixed-length array of one scalar kind. elemKind
// must not be KindArray or KindNone (nested arrays are not permitted
// and arrays of None make no sense). Unfilled elements default to the
// zero value of elemKind.
func Array(elemKind Kind, length int) Value {
	elems := make([]Value, length)
	for i := range elems {
		elems[i] = zeroOf(elemKind)
	}
	return Value{kind: KindArray, elemKind: elemKind, arr: elems}
}

// ArrayOf builds an array value directly from a slice of already
// constructed scalar elements, validating they share elemKind.
func ArrayOf(elemKind Kind, elems []Value) (Value, bool) {
	for _, e := range elems {
		if e.kind != elemKind {
			return Value{}, false
		}
	}
	cp := make([]Value, len(elems))
	copy(cp, elems)
	return Value{kind: KindArray, elemKind: elemKind, arr: cp}, true
}

func zeroOf(k Kind) Value {
	switch k {
	case KindInt:
		return Int(0)
	case KindFloat:
		return Float(0)
	case KindBool:
		return Bool(false)
	case KindDuration:
		return Dur(0)
	case KindString:
		return Str("")
	default:
		return None()
	}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Int() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) Float() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// DurationMicros returns the signed microsecond count for a Duration value.
func (v Value) DurationMicros() (int64, bool) {
	if v.kind != KindDuration {
		return 0, false
	}
	return int64(v.dur / time.Microsecond), true
}

func (v Value) String() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// ElemKind returns the scalar element kind of an Array value.
func (v Value) ElemKind() (Kind, bool) {
	if v.kind != KindArray {
		return KindNone, false
	}
	return v.elemKind, true
}

// Len returns the length of an Array value, or 0 for non-arrays.
func (v Value) Len() int {
	if v.kind != KindArray {
		return 0
	}
	return len(v.arr)
}

// At returns the element at index i of an Array value. Returns
// None() if i is out of bounds (per spec.md boundary behavior #14) or
// v is not an array.
func (v Value) At(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return None()
	}
	return v.arr[i]
}

// Elements returns a copy of the array's backing slice.
func (v Value) Elements() []Value {
	if v.kind != KindArray {
		return nil
	}
	cp := make([]Value, len(v.arr))
	copy(cp, v.arr)
	return cp
}

// SameKind reports whether v and other share the same Kind (and, for
// arrays, the same element Kind).
func (v Value) SameKind(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	if v.kind == KindArray {
		return v.elemKind == other.elemKind
	}
	return true
}
