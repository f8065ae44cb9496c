// Package builtins installs the global environment shared by both dialects:
// the Object, Function, Array, String, Number and Boolean constructors with
// their prototypes, the Error family, Math, RegExp, QName and the global
// functions (trace, parseInt, parseFloat, isNaN, isFinite).
//
// Every builtin is a native function created with vm.Machine.NewNative.
// Natives follow the legacy conventions: missing arguments are undefined and
// wrong argument types are coerced rather than rejected.
package builtins

import (
	"github.com/zurustar/kagami/pkg/gc"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// realm is the installation context.
type realm struct {
	m      *vm.Machine
	h      *value.Heap
	global value.Value

	// arrays currently being joined
	joining map[gc.Ref]bool
}

// Install defines the builtins on the global object of m and registers the
// intrinsic prototypes the object model uses for primitives and errors.
func Install(m *vm.Machine) {
	r := &realm{m: m, h: m.Heap(), global: m.Heap().Global()}

	r.registerObjectBuiltins()
	r.registerFunctionBuiltins()
	r.registerArrayBuiltins()
	r.registerErrorBuiltins()
	r.registerStringBuiltins()
	r.registerNumberBuiltins()
	r.registerBooleanBuiltins()
	r.registerMathBuiltins()
	r.registerRegExpBuiltins()
	r.registerQNameBuiltins()
	r.registerGlobalFunctions()

	m.Logger().Debug("builtins installed", "globals", len(r.h.Enumerate(r.global)))
}

// method defines a DontEnum native function property on obj.
func (r *realm) method(obj value.Value, name string, arity int, fn vm.NativeFunc) {
	r.h.DefineProperty(obj, name, r.m.NewNative(name, arity, fn), value.DontEnum)
}

// constant defines a permanent read-only value on obj.
func (r *realm) constant(obj value.Value, name string, v value.Value) {
	r.h.DefineProperty(obj, name, v, value.DontEnum|value.DontDelete|value.ReadOnly)
}

// constructor creates a global native constructor bound to proto.
func (r *realm) constructor(name string, arity int, proto value.Value, fn vm.NativeFunc) value.Value {
	ctor := r.m.NewNative(name, arity, fn)
	r.h.DefineProperty(ctor, "prototype", proto, value.DontEnum|value.DontDelete|value.ReadOnly)
	r.h.DefineProperty(proto, "constructor", ctor, value.DontEnum)
	r.h.DefineProperty(r.global, name, ctor, value.DontEnum)
	return ctor
}

// prototype creates an intrinsic prototype object inheriting from parent.
func (r *realm) prototype(name string, parent value.Value, native any) value.Value {
	proto := r.h.New(parent, native)
	r.h.SetIntrinsic(name, proto)
	return proto
}

// constructing reports whether this is the fresh object Construct created
// for a constructor whose prototype is proto.
func (r *realm) constructing(this, proto value.Value) bool {
	o, ok := r.h.Object(this)
	return ok && o.Native() == nil && o.Proto() == proto.Ref() && len(o.Keys()) == 0
}

func arg(args []value.Value, i int) value.Value {
	if i < len(args) {
		return args[i]
	}
	return value.Undefined
}

func (r *realm) number(args []value.Value, i int) (float64, error) {
	return r.h.ToNumber(arg(args, i))
}

func (r *realm) string(args []value.Value, i int) (string, error) {
	return r.h.ToString(arg(args, i))
}

// integer converts argument i to an integer, with def for undefined.
func (r *realm) integer(args []value.Value, i int, def int) (int, error) {
	v := arg(args, i)
	if v.IsUndefined() {
		return def, nil
	}
	n, err := r.h.ToNumber(v)
	if err != nil {
		return 0, err
	}
	return toInteger(n), nil
}

func toInteger(n float64) int {
	switch {
	case n != n:
		return 0
	case n > 1<<53:
		return 1 << 53
	case n < -(1 << 53):
		return -(1 << 53)
	}
	return int(n)
}

// clampIndex resolves a possibly negative relative index against length.
func clampIndex(i, length int) int {
	if i < 0 {
		i += length
		if i < 0 {
			return 0
		}
	}
	return min(i, length)
}

// Primitive is the payload of String, Number and Boolean wrapper objects.
type Primitive struct {
	Value value.Value
}

// GetHook exposes length on String wrappers.
func (p *Primitive) GetHook(h *value.Heap, self value.Value, name string) (value.Value, bool, error) {
	if name == "length" && p.Value.IsString() {
		v, err := h.GetProperty(p.Value, "length")
		return v, true, err
	}
	return value.Undefined, false, nil
}

func (p *Primitive) SetHook(h *value.Heap, self value.Value, name string, v value.Value) (bool, error) {
	return name == "length" && p.Value.IsString(), nil
}

// thisPrimitive unwraps a primitive receiver or a wrapper object.
func (r *realm) thisPrimitive(this value.Value) value.Value {
	if o, ok := r.h.Object(this); ok {
		if p, ok := o.Native().(*Primitive); ok {
			return p.Value
		}
	}
	return this
}
