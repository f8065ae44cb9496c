package builtins

import (
	"strings"

	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// registerObjectBuiltins defines Object and Object.prototype.
func (r *realm) registerObjectBuiltins() {
	h := r.h
	proto := h.Intrinsic(value.ObjectPrototype)

	// Object(v): objects pass through, anything else yields a new object
	r.constructor("Object", 1, proto, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		if v := arg(args, 0); v.IsObject() {
			return v, nil
		}
		if r.constructing(this, proto) {
			return this, nil
		}
		return h.NewObject(), nil
	})

	r.method(proto, "toString", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		if h.IsCallable(this) {
			return value.String("[type Function]"), nil
		}
		return value.String("[object Object]"), nil
	})

	r.method(proto, "valueOf", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return this, nil
	})

	r.method(proto, "hasOwnProperty", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		name, err := r.string(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		return value.Bool(h.HasOwnProperty(this, name)), nil
	})

	r.method(proto, "isPrototypeOf", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		if !this.IsObject() {
			return value.False, nil
		}
		return value.Bool(h.HasInChain(arg(args, 0), this.Ref())), nil
	})

	r.method(proto, "propertyIsEnumerable", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		name, err := r.string(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		o, ok := h.Object(this)
		if !ok {
			return value.False, nil
		}
		p, ok := o.Own(name)
		return value.Bool(ok && !p.Attr.Has(value.DontEnum)), nil
	})

	// addProperty(name, getter, setter) installs a legacy accessor
	r.method(proto, "addProperty", 3, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		name, err := r.string(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		getter, setter := arg(args, 1), arg(args, 2)
		if name == "" || !h.IsCallable(getter) {
			return value.False, nil
		}
		if !setter.IsNull() && !h.IsCallable(setter) {
			return value.False, nil
		}
		h.DefineAccessor(this, name, getter, setter, 0)
		return value.True, nil
	})

	// ASSetPropFlags(obj, names, set, clear) edits property attributes.
	// names is an array, a comma separated list or null for every own name.
	r.method(r.global, "ASSetPropFlags", 4, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		target := arg(args, 0)
		o, ok := h.Object(target)
		if !ok {
			return value.Undefined, nil
		}
		names, err := r.nameList(arg(args, 1), o)
		if err != nil {
			return value.Undefined, err
		}
		set, err := h.ToInt32(arg(args, 2))
		if err != nil {
			return value.Undefined, err
		}
		clearBits, err := h.ToInt32(arg(args, 3))
		if err != nil {
			return value.Undefined, err
		}
		for _, name := range names {
			p, ok := o.Own(name)
			if !ok {
				continue
			}
			attr := (p.Attr &^ propFlags(clearBits)) | propFlags(set)
			h.SetAttr(target, name, attr)
		}
		return value.Undefined, nil
	})
}

// propFlags maps the legacy ASSetPropFlags bits onto attributes.
func propFlags(bits int32) value.Attr {
	var a value.Attr
	if bits&1 != 0 {
		a |= value.DontEnum
	}
	if bits&2 != 0 {
		a |= value.DontDelete
	}
	if bits&4 != 0 {
		a |= value.ReadOnly
	}
	return a
}

func (r *realm) nameList(v value.Value, o *value.Object) ([]string, error) {
	if v.IsNull() {
		return o.Keys(), nil
	}
	if a, ok := r.h.AsArray(v); ok {
		vals, err := a.Values()
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range vals {
			s, err := r.h.ToString(e)
			if err != nil {
				return nil, err
			}
			names = append(names, s)
		}
		return names, nil
	}
	s, err := r.h.ToString(v)
	if err != nil {
		return nil, err
	}
	return strings.Split(s, ","), nil
}

// registerFunctionBuiltins defines Function.prototype.call and apply.
func (r *realm) registerFunctionBuiltins() {
	h := r.h
	proto := h.Intrinsic(value.FunctionPrototype)

	r.constructor("Function", 0, proto, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return value.Undefined, value.Errorf(value.TypeError, "functions cannot be created from source")
	})

	r.method(proto, "call", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		var rest []value.Value
		if len(args) > 1 {
			rest = args[1:]
		}
		return m.Call(this, arg(args, 0), rest)
	})

	r.method(proto, "apply", 2, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		list := arg(args, 1)
		var rest []value.Value
		if a, ok := h.AsArray(list); ok {
			vals, err := a.Values()
			if err != nil {
				return value.Undefined, err
			}
			rest = vals
		} else if !list.IsNullish() {
			return value.Undefined, value.Errorf(value.TypeError, "apply expects an array of arguments")
		}
		return m.Call(this, arg(args, 0), rest)
	})

	r.method(proto, "toString", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return value.String("[type Function]"), nil
	})
}
