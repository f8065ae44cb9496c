package value

import (
	"slices"

	"github.com/zurustar/kagami/pkg/gc"
)

// Attr holds the per-property flags of the legacy dialect.
type Attr uint8

const (
	// DontEnum hides the property from enumeration.
	DontEnum Attr = 1 << iota
	// DontDelete makes delete fail.
	DontDelete
	// ReadOnly makes assignment a silent no-op.
	ReadOnly
)

// Has reports whether all bits of flag are set.
func (a Attr) Has(flag Attr) bool {
	return a&flag == flag
}

// Property is one entry of an object's property table: either a plain
// value or a getter/setter pair.
type Property struct {
	Value  Value
	Getter Value
	Setter Value
	Attr   Attr
}

// IsAccessor reports whether p is a getter/setter pair.
func (p *Property) IsAccessor() bool {
	return p.Getter.IsObject() || p.Setter.IsObject()
}

// PropertyHook is implemented by native payloads whose properties are
// backed by host state (display objects, arrays). Hooks are consulted
// before the property table. The bool result reports whether the hook
// handled the name.
type PropertyHook interface {
	GetHook(h *Heap, self Value, name string) (Value, bool, error)
	SetHook(h *Heap, self Value, name string, v Value) (bool, error)
}

// KeyLister is implemented by native payloads that expose additional
// enumerable names (array indices).
type KeyLister interface {
	HookKeys() []string
}

// TypeNamer lets a native payload override the result of typeof.
type TypeNamer interface {
	TypeName() string
}

// Object is the universal heap entity.
type Object struct {
	proto gc.Ref
	props map[string]*Property
	keys  []string

	// class dialect instances
	class *Class
	slots []Value

	native any
}

// Proto returns the prototype reference.
func (o *Object) Proto() gc.Ref {
	return o.proto
}

// Native returns the opaque native payload.
func (o *Object) Native() any {
	return o.native
}

// Class returns the class of a class dialect instance, or nil.
func (o *Object) Class() *Class {
	return o.class
}

// Slot returns slot i of a class dialect instance.
func (o *Object) Slot(i int) (Value, bool) {
	if i < 0 || i >= len(o.slots) {
		return Undefined, false
	}
	return o.slots[i], true
}

// NumSlots returns the fixed slot count.
func (o *Object) NumSlots() int {
	return len(o.slots)
}

// Own returns the own property named name.
func (o *Object) Own(name string) (*Property, bool) {
	p, ok := o.props[name]
	return p, ok
}

// Keys returns own property names in insertion order.
func (o *Object) Keys() []string {
	return slices.Clone(o.keys)
}

func (o *Object) define(name string, p *Property) {
	if o.props == nil {
		o.props = make(map[string]*Property)
	}
	if _, exists := o.props[name]; !exists {
		o.keys = append(o.keys, name)
	}
	o.props[name] = p
}

func (o *Object) remove(name string) {
	if _, ok := o.props[name]; !ok {
		return
	}
	delete(o.props, name)
	if i := slices.Index(o.keys, name); i >= 0 {
		o.keys = slices.Delete(o.keys, i, i+1)
	}
}

// Trace reports every reference held by the object. Classes are rooted by
// the heap's class registry and are not traced through their instances.
func (o *Object) Trace(m gc.Marker) {
	m.Mark(o.proto)
	for _, p := range o.props {
		p.Value.Mark(m)
		p.Getter.Mark(m)
		p.Setter.Mark(m)
	}
	for _, s := range o.slots {
		s.Mark(m)
	}
	if t, ok := o.native.(gc.Traceable); ok {
		t.Trace(m)
	}
}

// Finalize forwards reclamation to the native payload.
func (o *Object) Finalize() {
	if f, ok := o.native.(gc.Finalizer); ok {
		f.Finalize()
	}
}
