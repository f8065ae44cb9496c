package vm

import (
	"github.com/zurustar/kagami/pkg/gc"
	"github.com/zurustar/kagami/pkg/opcode"
	"github.com/zurustar/kagami/pkg/value"
)

// NativeFunc is a function implemented in Go.
type NativeFunc func(m *Machine, this value.Value, args []value.Value) (value.Value, error)

// Function is the native payload of function objects: a bytecode method
// closed over a scope chain, or a Go function.
type Function struct {
	Name   string
	Method *opcode.Method
	Scope  *Scope
	Native NativeFunc
	// Class is the class a method was declared on.
	Class *value.Class
}

// FunctionName implements value.Callable.
func (f *Function) FunctionName() string {
	if f.Name != "" {
		return f.Name
	}
	if f.Method != nil && f.Method.Name != "" {
		return f.Method.Name
	}
	return "<anonymous>"
}

// Trace reports the captured scope chain.
func (f *Function) Trace(m gc.Marker) {
	f.Scope.Mark(m)
}

// NewFunction creates a closure over method with the given scope chain.
// Legacy functions get a fresh prototype object so they can be used as
// constructors.
func (m *Machine) NewFunction(method *opcode.Method, scope *Scope) value.Value {
	h := m.heap
	fn := h.New(h.Intrinsic(value.FunctionPrototype), &Function{Method: method, Scope: scope})
	if method.Dialect == opcode.DialectLegacy {
		proto := h.NewObject()
		h.DefineProperty(proto, "constructor", fn, value.DontEnum)
		h.DefineProperty(fn, "prototype", proto, value.DontEnum)
	}
	h.DefineProperty(fn, "length", value.Int(len(method.Params)), value.DontEnum|value.DontDelete|value.ReadOnly)
	return fn
}

// NewMethod creates the function object of a class dialect method.
func (m *Machine) NewMethod(method *opcode.Method, class *value.Class, scope *Scope) value.Value {
	return m.heap.New(m.heap.Intrinsic(value.FunctionPrototype), &Function{Method: method, Class: class, Scope: scope})
}

// NewNative wraps a Go function as a function object.
func (m *Machine) NewNative(name string, arity int, fn NativeFunc) value.Value {
	h := m.heap
	f := h.New(h.Intrinsic(value.FunctionPrototype), &Function{Name: name, Native: fn})
	h.DefineProperty(f, "length", value.Int(arity), value.DontEnum|value.DontDelete|value.ReadOnly)
	return f
}

// AsFunction returns the function payload of v.
func (m *Machine) AsFunction(v value.Value) (*Function, bool) {
	o, ok := m.heap.Object(v)
	if !ok {
		return nil, false
	}
	f, ok := o.Native().(*Function)
	return f, ok
}
