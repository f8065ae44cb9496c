package builtins

import (
	"strings"

	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// errorTypes lists the subclasses of Error in registration order.
var errorTypes = []value.ErrorType{
	value.TypeError,
	value.RangeError,
	value.ReferenceError,
	value.ArgumentError,
	value.VerifyError,
}

// registerErrorBuiltins defines Error and its subclasses. Each prototype is
// registered as the "<Name>.prototype" intrinsic so that errors raised by
// the runtime share them.
func (r *realm) registerErrorBuiltins() {
	h := r.h
	base := r.prototype(value.ErrorPrototype, h.Intrinsic(value.ObjectPrototype), nil)
	h.DefineProperty(base, "name", value.String(string(value.GenericError)), value.DontEnum)
	h.DefineProperty(base, "message", value.String(""), value.DontEnum)
	r.errorConstructor(value.GenericError, base)

	// toString is "name: message", or the name alone for an empty message
	r.method(base, "toString", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		name, err := h.GetProperty(this, "name")
		if err != nil {
			return value.Undefined, err
		}
		msg, err := h.GetProperty(this, "message")
		if err != nil {
			return value.Undefined, err
		}
		ns, err := h.ToString(name)
		if err != nil {
			return value.Undefined, err
		}
		if msg.IsUndefined() {
			return value.String(ns), nil
		}
		ms, err := h.ToString(msg)
		if err != nil || ms == "" {
			return value.String(ns), err
		}
		return value.String(ns + ": " + ms), nil
	})

	// getStackTrace returns the frames captured at creation, one per line
	r.method(base, "getStackTrace", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		o, ok := h.Object(this)
		if !ok {
			return value.Null, nil
		}
		data, ok := o.Native().(*value.ErrorData)
		if !ok || len(data.Stack) == 0 {
			return value.Null, nil
		}
		return value.String("\tat " + strings.Join(data.Stack, "\n\tat ")), nil
	})

	for _, t := range errorTypes {
		proto := r.prototype(string(t)+".prototype", base, nil)
		h.DefineProperty(proto, "name", value.String(string(t)), value.DontEnum)
		r.errorConstructor(t, proto)
	}
}

// errorConstructor defines the constructor of error type t. Calling it
// with or without new yields a fresh error object.
func (r *realm) errorConstructor(t value.ErrorType, proto value.Value) {
	h := r.h
	r.constructor(string(t), 1, proto, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		msg := ""
		if v := arg(args, 0); !v.IsUndefined() {
			s, err := h.ToString(v)
			if err != nil {
				return value.Undefined, err
			}
			msg = s
		}
		e := h.NewError(t, msg)
		if o, ok := h.Object(e); ok {
			if data, ok := o.Native().(*value.ErrorData); ok {
				// drop the constructor's own frame
				if st := m.StackTrace(); len(st) > 1 {
					data.Stack = st[1:]
				}
			}
		}
		return e, nil
	})
}
