package host

import (
	"strings"

	"github.com/zurustar/kagami/pkg/loader"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// installGlobals defines the host globals scripts see next to the builtins.
func (p *Player) installGlobals() {
	h := p.m.Heap()
	g := h.Global()
	h.DefineProperty(g, "_root", p.root, value.DontEnum|value.DontDelete)
	h.DefineProperty(g, "_level0", p.root, value.DontEnum|value.DontDelete)

	p.global("loadVariables", 2, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		url, err := p.argString(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		target := p.root
		if len(args) > 1 {
			target = p.resolveTarget(args[1])
		}
		if !target.IsObject() {
			return value.Undefined, nil
		}
		if _, err := p.loads.LoadVariables(url, target); err != nil {
			return value.Undefined, err
		}
		return value.Undefined, nil
	})

	p.loadVarsClass()
	p.inputObjects()
}

// resolveTarget turns a clip or a target path such as "_root.menu.item" or
// "/menu/item" into a clip. Unknown paths resolve to undefined.
func (p *Player) resolveTarget(v value.Value) value.Value {
	if v.IsObject() {
		return v
	}
	h := p.m.Heap()
	path, err := h.ToString(v)
	if err != nil {
		return value.Undefined
	}
	cur := p.root
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '.' || r == '/' }) {
		if part == "_root" || part == "_level0" {
			cur = p.root
			continue
		}
		d, ok := asDisplay(h, cur)
		if !ok {
			return value.Undefined
		}
		if part == "_parent" {
			cur = d.parent
			continue
		}
		c, ok := d.child(h, part)
		if !ok {
			return value.Undefined
		}
		cur = c
	}
	return cur
}

// loadVarsClass defines LoadVars, a plain object that loads and sends
// variables documents.
func (p *Player) loadVarsClass() {
	h := p.m.Heap()
	proto := h.NewObject()
	ctor := p.m.NewNative("LoadVars", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		if this.IsObject() && !value.StrictEquals(this, h.Global()) {
			return value.Undefined, nil
		}
		return h.New(proto, nil), nil
	})
	h.DefineProperty(ctor, "prototype", proto, value.DontEnum|value.DontDelete|value.ReadOnly)
	h.DefineProperty(proto, "constructor", ctor, value.DontEnum)
	h.DefineProperty(h.Global(), "LoadVars", ctor, value.DontEnum)

	h.DefineProperty(proto, "load", p.m.NewNative("load", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		url, err := p.argString(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		if !this.IsObject() {
			return value.False, nil
		}
		if _, err := p.loads.LoadData(url, loader.FormatVariables, this); err != nil {
			return value.False, nil
		}
		return value.True, nil
	}), value.DontEnum)

	h.DefineProperty(proto, "toString", p.m.NewNative("toString", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		var parts []string
		for _, k := range h.Enumerate(this) {
			v, err := h.GetProperty(this, k)
			if err != nil {
				return value.Undefined, err
			}
			if h.IsCallable(v) {
				continue
			}
			s, err := h.ToString(v)
			if err != nil {
				return value.Undefined, err
			}
			parts = append(parts, encodeVariable(k)+"="+encodeVariable(s))
		}
		return value.String(strings.Join(parts, "&")), nil
	}), value.DontEnum)
}

// encodeVariable escapes a name or value for a variables document.
func encodeVariable(s string) string {
	var sb strings.Builder
	for _, b := range []byte(s) {
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9', strings.IndexByte("-_.*", b) >= 0:
			sb.WriteByte(b)
		case b == ' ':
			sb.WriteByte('+')
		default:
			const hex = "0123456789ABCDEF"
			sb.WriteByte('%')
			sb.WriteByte(hex[b>>4])
			sb.WriteByte(hex[b&15])
		}
	}
	return sb.String()
}
