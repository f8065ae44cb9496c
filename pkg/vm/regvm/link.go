package regvm

import (
	"errors"
	"fmt"

	"github.com/zurustar/kagami/pkg/opcode"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// memberKind is what a resolved member reference designates.
type memberKind uint8

const (
	memberSlot memberKind = iota
	memberConst
	memberMethod
	memberGetter
	memberSetter
	memberConstructor
)

// binding is a member reference resolved against a linked class.
type binding struct {
	ref   opcode.MemberRef
	class *value.Class
	kind  memberKind
	index int
	// setter is the setter vtable index of a getter member, or -1.
	setter int
}

// builtinTypes are the type names a declaration may use without a class.
var builtinTypes = map[string]bool{
	"":         true,
	"*":        true,
	"void":     true,
	"Object":   true,
	"Number":   true,
	"int":      true,
	"uint":     true,
	"String":   true,
	"Boolean":  true,
	"Array":    true,
	"Function": true,
	"Class":    true,
	"Error":    true,
}

// LinkClasses builds and links the classes declared by defs. Superclasses
// may be declared in the same batch or already registered on the heap.
// Every class that fails is reported as a diagnostic and left unregistered;
// the others remain usable.
func LinkClasses(m *vm.Machine, defs []*opcode.ClassDef) ([]*value.Class, error) {
	h := m.Heap()
	byName := make(map[string]*value.Class, len(defs))
	classes := make([]*value.Class, 0, len(defs))
	for _, def := range defs {
		c := &value.Class{
			Name:    value.NewQName(def.Namespace, def.Name),
			Dynamic: def.Dynamic,
			Final:   def.Final,
		}
		byName[c.Name.String()] = c
		byName[def.Name] = c
		classes = append(classes, c)
	}
	resolve := func(t string) bool {
		if builtinTypes[t] {
			return true
		}
		if _, ok := byName[t]; ok {
			return true
		}
		if _, ok := h.Class(t); ok {
			return true
		}
		return h.HasProperty(h.Global(), t)
	}

	var errs []error
	failed := make(map[*value.Class]bool)
	for i, def := range defs {
		c := classes[i]
		if def.Super != "" {
			if s, ok := byName[def.Super]; ok {
				c.Super = s
			} else if s, ok := h.Class(def.Super); ok {
				c.Super = s
			} else {
				errs = append(errs, &value.LinkError{Class: c.Name.String(), Reason: "unknown superclass " + def.Super})
				failed[c] = true
				continue
			}
		}
		c.Traits = traits(m, c, def.Traits)
		c.Statics = traits(m, c, def.Static)
		if def.Constructor != nil {
			c.Constructor = m.NewMethod(def.Constructor, c, nil)
		}
	}

	linked := classes[:0:0]
	for _, c := range classes {
		if failed[c] {
			continue
		}
		if err := c.Link(h, resolve); err != nil {
			errs = append(errs, err)
			continue
		}
		scopeMethods(m, c)
		linked = append(linked, c)
	}
	for _, err := range errs {
		m.Report(vm.Diagnostic{Kind: vm.DiagLink, Message: err.Error()})
	}
	return linked, errors.Join(errs...)
}

func traits(m *vm.Machine, c *value.Class, defs []opcode.TraitDef) []value.Trait {
	out := make([]value.Trait, 0, len(defs))
	for _, d := range defs {
		t := value.Trait{
			Name:     value.NewQName(d.Namespace, d.Name),
			Kind:     d.Kind,
			Type:     d.Type,
			Override: d.Override,
			Final:    d.Final,
		}
		switch d.Kind {
		case value.TraitSlot, value.TraitConst:
			t.Default = vm.ConstValue(d.Default)
			if d.Default.Kind == opcode.ConstUndefined {
				t.Default = defaultFor(d.Type)
			}
		default:
			if d.Method != nil {
				t.Method = m.NewMethod(d.Method, c, nil)
			}
		}
		out = append(out, t)
	}
	return out
}

// scopeMethods gives every method of a linked class the class object as
// its lexical scope, so statics resolve by name.
func scopeMethods(m *vm.Machine, c *value.Class) {
	scope := (*vm.Scope)(nil).Push(value.FromRef(c.Object), vm.ScopeClass)
	set := func(fn value.Value) {
		if f, ok := m.AsFunction(fn); ok && f.Scope == nil {
			f.Scope = scope
		}
	}
	set(c.Constructor)
	for _, t := range c.Traits {
		set(t.Method)
	}
	for _, t := range c.Statics {
		set(t.Method)
	}
}

// defaultFor is the initial value of an uninitialized slot of type t.
func defaultFor(t string) value.Value {
	switch t {
	case "Number":
		return value.Number(0)
	case "int", "uint":
		return value.Int(0)
	case "Boolean":
		return value.False
	case "", "*":
		return value.Undefined
	default:
		return value.Null
	}
}

// resolveMember binds ref to a slot or vtable index of a linked class. An
// empty member name designates the constructor.
func resolveMember(h *value.Heap, ref opcode.MemberRef) (binding, error) {
	b := binding{ref: ref, setter: -1}
	c, ok := h.Class(ref.Class)
	if !ok || !c.Linked() {
		return b, &value.LinkError{Class: ref.Class, Reason: "class is not linked"}
	}
	b.class = c
	if ref.Name == "" {
		b.kind = memberConstructor
		return b, nil
	}
	if i, ok := c.SlotIndex(ref.Name); ok {
		b.index, b.kind = i, memberSlot
		if c.SlotTrait(i).Kind == value.TraitConst {
			b.kind = memberConst
		}
		return b, nil
	}
	if i, ok := c.MethodIndex(ref.Name); ok {
		b.index, b.kind = i, memberMethod
		return b, nil
	}
	getter, hasGetter := c.GetterIndex(ref.Name)
	setter, hasSetter := c.SetterIndex(ref.Name)
	switch {
	case hasGetter:
		b.index, b.kind = getter, memberGetter
		if hasSetter {
			b.setter = setter
		}
		return b, nil
	case hasSetter:
		b.index, b.kind, b.setter = setter, memberSetter, setter
		return b, nil
	}
	return b, &value.LinkError{Class: ref.Class, Reason: fmt.Sprintf("no member %s", ref.Name)}
}

// ConstructClass implements vm.ClassConstructor: it allocates an instance
// with the class's fixed layout and runs the nearest constructor.
func (in *Interpreter) ConstructClass(m *vm.Machine, c *value.Class, args []value.Value) (value.Value, error) {
	obj, err := m.Heap().NewInstance(c)
	if err != nil {
		return value.Undefined, err
	}
	if err := initialize(m, c, obj, args); err != nil {
		return value.Undefined, err
	}
	return obj, nil
}

// initialize runs the constructor of c, or of its nearest ancestor
// declaring one, on obj.
func initialize(m *vm.Machine, c *value.Class, obj value.Value, args []value.Value) error {
	for k := c; k != nil; k = k.Super {
		if k.Constructor.IsObject() {
			_, err := m.Call(k.Constructor, obj, args)
			return err
		}
	}
	return nil
}
