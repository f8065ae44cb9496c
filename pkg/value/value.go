// Package value provides the dynamically-typed value representation and the
// object/class/trait graph shared by both bytecode dialects, together with
// the coercion rules of the platform.
//
// Every object lives in the gc arena owned by a Heap; a Value of kind
// KindObject carries only a gc.Ref into that arena.
package value

import (
	"fmt"

	"github.com/zurustar/kagami/pkg/gc"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindNumber
	KindString
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a closed tagged union. The zero Value is undefined.
type Value struct {
	kind Kind
	num  float64
	str  string
	ref  gc.Ref
}

var (
	// Undefined is the undefined value.
	Undefined = Value{}
	// Null is the null value.
	Null = Value{kind: KindNull}
	// True and False are the boolean values.
	True  = Value{kind: KindBoolean, num: 1}
	False = Value{kind: KindBoolean}
)

// Bool returns a boolean value.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Number returns a numeric value.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// Int returns a numeric value from an integer.
func Int(i int) Value {
	return Value{kind: KindNumber, num: float64(i)}
}

// String returns a string value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// FromRef returns an object value referring to r, or null for the nil ref.
func FromRef(r gc.Ref) Value {
	if r.IsNil() {
		return Null
	}
	return Value{kind: KindObject, ref: r}
}

// Kind returns the tag of v.
func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) IsBool() bool      { return v.kind == KindBoolean }
func (v Value) IsNumber() bool    { return v.kind == KindNumber }
func (v Value) IsString() bool    { return v.kind == KindString }
func (v Value) IsObject() bool    { return v.kind == KindObject }

// IsNullish reports whether v is undefined or null.
func (v Value) IsNullish() bool {
	return v.kind == KindUndefined || v.kind == KindNull
}

// IsPrimitive reports whether v is not an object.
func (v Value) IsPrimitive() bool {
	return v.kind != KindObject
}

// Ref returns the object reference of v, or gc.Nil.
func (v Value) Ref() gc.Ref {
	if v.kind != KindObject {
		return gc.Nil
	}
	return v.ref
}

// AsNumber returns the raw number of a numeric value.
func (v Value) AsNumber() float64 {
	return v.num
}

// AsString returns the raw string of a string value.
func (v Value) AsString() string {
	return v.str
}

// AsBool returns the raw boolean of a boolean value.
func (v Value) AsBool() bool {
	return v.num != 0
}

// Mark reports the object reference held by v, if any.
func (v Value) Mark(m gc.Marker) {
	if v.kind == KindObject {
		m.Mark(v.ref)
	}
}

// String renders v for diagnostics. It does not run script code; use
// Heap.ToString for script-visible conversion.
func (v Value) String() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case KindNumber:
		return FormatNumber(v.num)
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindObject:
		return "object" + v.ref.String()
	default:
		return "<invalid>"
	}
}

// FromGo converts a Go primitive into a Value. Unsupported types map to
// undefined.
func FromGo(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case float32:
		return Number(float64(t))
	case float64:
		return Number(t)
	case string:
		return String(t)
	default:
		return Undefined
	}
}
