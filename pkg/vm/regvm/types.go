package regvm

import (
	"math"

	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// isType reports whether v is an instance of the type named t.
func isType(m *vm.Machine, v value.Value, t string) (bool, error) {
	h := m.Heap()
	switch t {
	case "", "*":
		return true, nil
	case "void":
		return v.IsUndefined(), nil
	case "Number":
		return v.IsNumber(), nil
	case "int":
		return v.IsNumber() && isInteger(v.AsNumber(), math.MinInt32, math.MaxInt32), nil
	case "uint":
		return v.IsNumber() && isInteger(v.AsNumber(), 0, math.MaxUint32), nil
	case "String":
		return v.IsString(), nil
	case "Boolean":
		return v.IsBool(), nil
	case "Object":
		return !v.IsNullish(), nil
	case "Function":
		return h.IsCallable(v), nil
	case "Array":
		_, ok := h.AsArray(v)
		return ok, nil
	case "Class":
		o, ok := h.Object(v)
		if !ok {
			return false, nil
		}
		_, ok = o.Native().(*value.Class)
		return ok, nil
	}
	if c, ok := h.Class(t); ok {
		o, ok := h.Object(v)
		return ok && o.Class() != nil && o.Class().IsSubclassOf(c), nil
	}
	ctor, err := h.GetProperty(h.Global(), t)
	if err != nil {
		return false, err
	}
	if !ctor.IsObject() {
		return false, value.Errorf(value.ReferenceError, "type %s is not defined", t)
	}
	return h.InstanceOf(v, ctor)
}

func isInteger(f, lo, hi float64) bool {
	return f == math.Trunc(f) && f >= lo && f <= hi
}

// coerce converts v to the type named t. Primitive types convert; a
// reference type accepts null and its own instances and raises a TypeError
// for anything else.
func coerce(m *vm.Machine, v value.Value, t string) (value.Value, error) {
	h := m.Heap()
	switch t {
	case "", "*":
		return v, nil
	case "void":
		return value.Undefined, nil
	case "Number":
		n, err := h.ToNumber(v)
		return value.Number(n), err
	case "int":
		n, err := h.ToInt32(v)
		return value.Int(int(n)), err
	case "uint":
		n, err := h.ToUint32(v)
		return value.Number(float64(n)), err
	case "String":
		if v.IsNullish() {
			return value.Null, nil
		}
		s, err := h.ToString(v)
		return value.String(s), err
	case "Boolean":
		return value.Bool(h.ToBoolean(v)), nil
	case "Object":
		if v.IsUndefined() {
			return value.Null, nil
		}
		return v, nil
	}
	if v.IsNullish() {
		return value.Null, nil
	}
	ok, err := isType(m, v, t)
	if err != nil {
		return value.Undefined, err
	}
	if !ok {
		return value.Undefined, value.Errorf(value.TypeError, "cannot convert %s to %s", h.TypeOf(v), t)
	}
	return v, nil
}

// asType returns v when it is of type t, else null.
func asType(m *vm.Machine, v value.Value, t string) (value.Value, error) {
	ok, err := isType(m, v, t)
	if err != nil || !ok {
		return value.Null, err
	}
	return v, nil
}
