package value

import (
	"fmt"
	"maps"
	"slices"

	"github.com/zurustar/kagami/pkg/gc"
	"github.com/zurustar/kagami/pkg/opcode"
)

// TraitKind is the kind of a class member.
type TraitKind = opcode.TraitKind

const (
	TraitSlot   = opcode.TraitSlot
	TraitConst  = opcode.TraitConst
	TraitMethod = opcode.TraitMethod
	TraitGetter = opcode.TraitGetter
	TraitSetter = opcode.TraitSetter
)

// Trait is a class member with its runtime values. Method holds the
// function object of methods and accessors.
type Trait struct {
	Name     QName
	Kind     TraitKind
	Type     string
	Default  Value
	Method   Value
	Override bool
	Final    bool
}

// Binding is one vtable entry.
type Binding struct {
	Name   QName
	Kind   TraitKind
	Method Value
	Owner  *Class
	Final  bool
}

// TypeResolver reports whether a declared type name is known.
type TypeResolver func(name string) bool

type linkState uint8

const (
	unlinked linkState = iota
	linking
	linked
)

// Class is a class of the class dialect. Its instance layout and vtable are
// computed once by Link and never change afterwards. Members are looked up
// by local name.
type Class struct {
	Name        QName
	Super       *Class
	Dynamic     bool
	Final       bool
	Traits      []Trait
	Statics     []Trait
	Constructor Value

	// Prototype is the object instances inherit from; Object is the class
	// object scripts see. Both are created by Link when unset.
	Prototype gc.Ref
	Object    gc.Ref

	state   linkState
	layout  []Trait
	slots   map[string]int
	vtable  []Binding
	methods map[string]int
	getters map[string]int
	setters map[string]int
}

// Linked reports whether Link completed.
func (c *Class) Linked() bool {
	return c.state == linked
}

// Link computes the slot layout and vtable, linking the superclass first,
// and registers the class on h. Declared slot types are checked with
// resolve when it is non-nil.
func (c *Class) Link(h *Heap, resolve TypeResolver) error {
	switch c.state {
	case linked:
		return nil
	case linking:
		return c.fail("circular inheritance")
	}
	c.state = linking
	if err := c.link(h, resolve); err != nil {
		c.state = unlinked
		c.layout, c.vtable = nil, nil
		return err
	}
	c.state = linked
	h.DefineClass(c)
	return nil
}

func (c *Class) fail(format string, args ...any) error {
	return &LinkError{Class: c.Name.String(), Reason: fmt.Sprintf(format, args...)}
}

func (c *Class) link(h *Heap, resolve TypeResolver) error {
	parentProto := h.intrinsics[ObjectPrototype]
	if s := c.Super; s != nil {
		if err := s.Link(h, resolve); err != nil {
			return c.fail("superclass %s: %v", s.Name, err)
		}
		if s.Final {
			return c.fail("cannot extend final class %s", s.Name)
		}
		c.layout = slices.Clone(s.layout)
		c.vtable = slices.Clone(s.vtable)
		c.slots = maps.Clone(s.slots)
		c.methods = maps.Clone(s.methods)
		c.getters = maps.Clone(s.getters)
		c.setters = maps.Clone(s.setters)
		parentProto = s.Prototype
	} else {
		c.layout, c.vtable = nil, nil
		c.slots = make(map[string]int)
		c.methods = make(map[string]int)
		c.getters = make(map[string]int)
		c.setters = make(map[string]int)
	}

	for _, t := range c.Traits {
		name := t.Name.Local
		switch t.Kind {
		case TraitSlot, TraitConst:
			if c.hasTrait(name) {
				return c.fail("duplicate member %s", name)
			}
			if t.Type != "" && t.Type != AnyName && resolve != nil && !resolve(t.Type) {
				return c.fail("slot %s has unknown type %s", name, t.Type)
			}
			c.slots[name] = len(c.layout)
			c.layout = append(c.layout, t)
		case TraitMethod:
			if _, ok := c.slots[name]; ok {
				return c.fail("duplicate member %s", name)
			}
			if err := c.bind(c.methods, t); err != nil {
				return err
			}
		case TraitGetter:
			if err := c.bind(c.getters, t); err != nil {
				return err
			}
		case TraitSetter:
			if err := c.bind(c.setters, t); err != nil {
				return err
			}
		default:
			return c.fail("member %s has unknown kind %s", name, t.Kind)
		}
	}

	if c.Prototype.IsNil() {
		c.Prototype = h.arena.Allocate(&Object{proto: parentProto})
	}
	if c.Object.IsNil() {
		c.Object = h.arena.Allocate(&Object{proto: h.intrinsics[FunctionPrototype], native: c})
	}
	obj := FromRef(c.Object)
	h.DefineProperty(obj, "prototype", FromRef(c.Prototype), DontEnum|DontDelete|ReadOnly)
	h.DefineProperty(FromRef(c.Prototype), "constructor", obj, DontEnum)
	for _, t := range c.Statics {
		switch t.Kind {
		case TraitSlot:
			h.DefineProperty(obj, t.Name.Local, t.Default, DontDelete)
		case TraitConst:
			h.DefineProperty(obj, t.Name.Local, t.Default, DontDelete|ReadOnly)
		case TraitMethod:
			h.DefineProperty(obj, t.Name.Local, t.Method, DontEnum|DontDelete|ReadOnly)
		case TraitGetter, TraitSetter:
			var get, set Value
			if p, ok := h.arena.Get(c.Object).props[t.Name.Local]; ok && p.IsAccessor() {
				get, set = p.Getter, p.Setter
			}
			if t.Kind == TraitGetter {
				get = t.Method
			} else {
				set = t.Method
			}
			h.DefineAccessor(obj, t.Name.Local, get, set, DontEnum|DontDelete)
		}
	}
	return nil
}

// bind adds a method or accessor to the vtable, enforcing the override
// rules.
func (c *Class) bind(table map[string]int, t Trait) error {
	name := t.Name.Local
	if !t.Method.IsObject() {
		return c.fail("%s %s has no body", t.Kind, name)
	}
	b := Binding{Name: t.Name, Kind: t.Kind, Method: t.Method, Owner: c, Final: t.Final}
	if i, ok := table[name]; ok {
		prev := c.vtable[i]
		switch {
		case prev.Owner == c:
			return c.fail("duplicate %s %s", t.Kind, name)
		case prev.Final:
			return c.fail("cannot override final %s %s of %s", t.Kind, name, prev.Owner.Name)
		case !t.Override:
			return c.fail("%s %s hides %s without override", t.Kind, name, prev.Owner.Name)
		}
		c.vtable[i] = b
		return nil
	}
	if t.Override {
		return c.fail("%s %s is marked override but overrides nothing", t.Kind, name)
	}
	table[name] = len(c.vtable)
	c.vtable = append(c.vtable, b)
	return nil
}

func (c *Class) hasTrait(name string) bool {
	if _, ok := c.slots[name]; ok {
		return true
	}
	if _, ok := c.methods[name]; ok {
		return true
	}
	if _, ok := c.getters[name]; ok {
		return true
	}
	_, ok := c.setters[name]
	return ok
}

// SlotIndex returns the layout index of a slot or const.
func (c *Class) SlotIndex(name string) (int, bool) {
	i, ok := c.slots[name]
	return i, ok
}

// MethodIndex returns the vtable index of a method.
func (c *Class) MethodIndex(name string) (int, bool) {
	i, ok := c.methods[name]
	return i, ok
}

// GetterIndex returns the vtable index of a getter.
func (c *Class) GetterIndex(name string) (int, bool) {
	i, ok := c.getters[name]
	return i, ok
}

// SetterIndex returns the vtable index of a setter.
func (c *Class) SetterIndex(name string) (int, bool) {
	i, ok := c.setters[name]
	return i, ok
}

// Binding returns vtable entry i.
func (c *Class) Binding(i int) Binding {
	return c.vtable[i]
}

// NumSlots returns the instance slot count.
func (c *Class) NumSlots() int {
	return len(c.layout)
}

// SlotTrait returns the trait stored in slot i.
func (c *Class) SlotTrait(i int) Trait {
	return c.layout[i]
}

// IsSubclassOf reports whether c is other or derives from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
	}
	return false
}

func (c *Class) mark(m gc.Marker) {
	m.Mark(c.Prototype)
	m.Mark(c.Object)
	c.Constructor.Mark(m)
	for _, t := range c.Traits {
		t.Default.Mark(m)
		t.Method.Mark(m)
	}
	for _, t := range c.Statics {
		t.Default.Mark(m)
		t.Method.Mark(m)
	}
}
