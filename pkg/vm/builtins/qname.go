package builtins

import (
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// QNameData is the native payload of QName objects.
type QNameData struct {
	Name value.QName
}

func (q *QNameData) GetHook(h *value.Heap, self value.Value, name string) (value.Value, bool, error) {
	switch name {
	case "localName":
		return value.String(q.Name.Local), true, nil
	case "uri":
		return value.String(q.Name.Namespace), true, nil
	}
	return value.Undefined, false, nil
}

func (q *QNameData) SetHook(h *value.Heap, self value.Value, name string, v value.Value) (bool, error) {
	return name == "localName" || name == "uri", nil
}

// registerQNameBuiltins defines QName(uri, localName) and QName(localName).
func (r *realm) registerQNameBuiltins() {
	h := r.h
	proto := r.prototype("QName.prototype", h.Intrinsic(value.ObjectPrototype), nil)

	r.constructor("QName", 2, proto, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		var q value.QName
		switch len(args) {
		case 0:
		case 1:
			if src, ok := r.asQName(args[0]); ok {
				q = src.Name
				break
			}
			s, err := r.string(args, 0)
			if err != nil {
				return value.Undefined, err
			}
			q = value.ParseQName(s)
		default:
			ns, err := r.string(args, 0)
			if err != nil {
				return value.Undefined, err
			}
			if args[0].IsNull() {
				ns = value.AnyName
			}
			local, err := r.string(args, 1)
			if err != nil {
				return value.Undefined, err
			}
			q = value.NewQName(ns, local)
		}
		return h.New(proto, &QNameData{Name: q}), nil
	})

	r.method(proto, "toString", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		q, ok := r.asQName(this)
		if !ok {
			return value.Undefined, value.Errorf(value.TypeError, "QName.prototype.toString called on %s", h.TypeOf(this))
		}
		return value.String(q.Name.String()), nil
	})
}

func (r *realm) asQName(v value.Value) (*QNameData, bool) {
	o, ok := r.h.Object(v)
	if !ok {
		return nil, false
	}
	q, ok := o.Native().(*QNameData)
	return q, ok
}
