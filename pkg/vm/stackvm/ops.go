package stackvm

import (
	"math"
	"strings"

	"github.com/zurustar/kagami/pkg/value"
)

// count reads a count operand at stack position pos, checking that n
// groups of per values sit below it.
func (f *frame) count(pos, per int) (int, error) {
	v := f.act.Peek(pos)
	if !v.IsNumber() {
		return 0, f.malformed("count operand is %s, want a number", v.Kind())
	}
	n := v.AsNumber()
	if n < 0 || n != math.Trunc(n) || int(n)*per > len(f.act.Stack)-pos-1 {
		return 0, f.malformed("count %v exceeds the operand stack", n)
	}
	return int(n), nil
}

// args copies n arguments lying below the top skip values. The first value
// popped is the first argument.
func (f *frame) args(skip, n int) []value.Value {
	out := make([]value.Value, n)
	for i := range out {
		out[i] = f.act.Peek(skip + i)
	}
	return out
}

// lookup resolves a variable name. Dotted names walk members from the
// first segment, and "this" is the receiver.
func (f *frame) lookup(name string) (value.Value, error) {
	head, rest, dotted := strings.Cut(name, ".")
	v, err := f.lookupName(head)
	for dotted && err == nil {
		if v.IsNullish() {
			return value.Undefined, nil
		}
		var seg string
		seg, rest, dotted = strings.Cut(rest, ".")
		v, err = f.h.GetProperty(v, seg)
	}
	return v, err
}

func (f *frame) lookupName(name string) (value.Value, error) {
	if name == "this" {
		return f.act.This, nil
	}
	v, _, err := f.act.Scope.Resolve(f.h, name)
	return v, err
}

func (f *frame) getVariable() error {
	name, err := f.h.ToString(f.act.Peek(0))
	if err != nil {
		return err
	}
	v, err := f.lookup(name)
	if err != nil {
		return err
	}
	f.act.Drop(1)
	f.act.Push(v)
	return nil
}

func (f *frame) setVariable() error {
	name, err := f.h.ToString(f.act.Peek(1))
	if err != nil {
		return err
	}
	v := f.act.Peek(0)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		obj, err := f.lookup(name[:i])
		if err != nil {
			return err
		}
		if !obj.IsNullish() {
			if err := f.h.SetProperty(obj, name[i+1:], v); err != nil {
				return err
			}
		}
	} else if err := f.act.Scope.Assign(f.h, name, v); err != nil {
		return err
	}
	f.act.Drop(2)
	return nil
}

func (f *frame) getMember() error {
	obj := f.act.Peek(1)
	name, err := f.h.ToString(f.act.Peek(0))
	if err != nil {
		return err
	}
	v := value.Undefined
	if !obj.IsNullish() {
		if v, err = f.h.GetProperty(obj, name); err != nil {
			return err
		}
	}
	f.act.Drop(2)
	f.act.Push(v)
	return nil
}

func (f *frame) setMember() error {
	obj, v := f.act.Peek(2), f.act.Peek(0)
	name, err := f.h.ToString(f.act.Peek(1))
	if err != nil {
		return err
	}
	if !obj.IsNullish() {
		if err := f.h.SetProperty(obj, name, v); err != nil {
			return err
		}
	}
	f.act.Drop(3)
	return nil
}

// initObject builds an object from (value, name) pairs. The object is kept
// on the stack while names are converted, since conversion may run script.
func (f *frame) initObject() error {
	n, err := f.count(0, 2)
	if err != nil {
		return err
	}
	obj := f.h.NewObject()
	f.act.Push(obj)
	for i := range n {
		v := f.act.Peek(2 + 2*i)
		name, err := f.h.ToString(f.act.Peek(3 + 2*i))
		if err != nil {
			return err
		}
		if err := f.h.SetProperty(obj, name, v); err != nil {
			return err
		}
	}
	f.act.Drop(2*n + 2)
	f.act.Push(obj)
	return nil
}

func (f *frame) initArray() error {
	n, err := f.count(0, 1)
	if err != nil {
		return err
	}
	arr := f.h.NewArray(f.args(1, n))
	f.act.Drop(n + 1)
	f.act.Push(arr)
	return nil
}

// invoke calls fn. Calling something that is not a function yields
// undefined, as legacy content expects.
func (f *frame) invoke(name string, fn, this value.Value, args []value.Value) (value.Value, error) {
	if !f.h.IsCallable(fn) {
		f.m.Logger().Debug("call of non-function", "name", name, "script", f.act.Name(), "pc", f.act.PC)
		return value.Undefined, nil
	}
	return f.m.Call(fn, this, args)
}

func (f *frame) construct(name string, ctor value.Value, args []value.Value) (value.Value, error) {
	if !ctor.IsObject() {
		f.m.Logger().Debug("new of non-object", "name", name, "script", f.act.Name(), "pc", f.act.PC)
		return value.Undefined, nil
	}
	return f.m.Construct(ctor, args)
}

// callFunction: name, argc, args.
func (f *frame) callFunction() error {
	name, err := f.h.ToString(f.act.Peek(0))
	if err != nil {
		return err
	}
	n, err := f.count(1, 1)
	if err != nil {
		return err
	}
	fn, err := f.lookup(name)
	if err != nil {
		return err
	}
	r, err := f.invoke(name, fn, value.Undefined, f.args(2, n))
	if err != nil {
		return err
	}
	f.act.Drop(n + 2)
	f.act.Push(r)
	return nil
}

// member resolves the (object, name) pair of CallMethod and NewMethod. An
// empty or undefined name designates the object itself.
func (f *frame) member() (name string, fn, this value.Value, err error) {
	key, obj := f.act.Peek(0), f.act.Peek(1)
	if key.IsUndefined() {
		return "", obj, value.Undefined, nil
	}
	if name, err = f.h.ToString(key); err != nil {
		return "", value.Undefined, value.Undefined, err
	}
	if name == "" {
		return "", obj, value.Undefined, nil
	}
	if obj.IsNullish() {
		return name, value.Undefined, obj, nil
	}
	fn, err = f.h.GetProperty(obj, name)
	return name, fn, obj, err
}

// callMethod: name, object, argc, args.
func (f *frame) callMethod() error {
	name, fn, this, err := f.member()
	if err != nil {
		return err
	}
	n, err := f.count(2, 1)
	if err != nil {
		return err
	}
	r, err := f.invoke(name, fn, this, f.args(3, n))
	if err != nil {
		return err
	}
	f.act.Drop(n + 3)
	f.act.Push(r)
	return nil
}

// newObject: name, argc, args.
func (f *frame) newObject() error {
	name, err := f.h.ToString(f.act.Peek(0))
	if err != nil {
		return err
	}
	n, err := f.count(1, 1)
	if err != nil {
		return err
	}
	ctor, err := f.lookup(name)
	if err != nil {
		return err
	}
	r, err := f.construct(name, ctor, f.args(2, n))
	if err != nil {
		return err
	}
	f.act.Drop(n + 2)
	f.act.Push(r)
	return nil
}

// newMethod: name, object, argc, args.
func (f *frame) newMethod() error {
	name, ctor, _, err := f.member()
	if err != nil {
		return err
	}
	n, err := f.count(2, 1)
	if err != nil {
		return err
	}
	r, err := f.construct(name, ctor, f.args(3, n))
	if err != nil {
		return err
	}
	f.act.Drop(n + 3)
	f.act.Push(r)
	return nil
}
