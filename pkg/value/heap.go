package value

import (
	"strconv"
	"unicode/utf8"

	"github.com/zurustar/kagami/pkg/gc"
)

// MaxProtoDepth bounds prototype chain walks. Longer chains, including
// cyclic ones, are treated as exhausted.
const MaxProtoDepth = 256

// Names of the intrinsic prototypes.
const (
	ObjectPrototype   = "Object.prototype"
	FunctionPrototype = "Function.prototype"
	ArrayPrototype    = "Array.prototype"
	StringPrototype   = "String.prototype"
	NumberPrototype   = "Number.prototype"
	BooleanPrototype  = "Boolean.prototype"
	ErrorPrototype    = "Error.prototype"
)

// Invoker runs script and native functions. The machine installs one on the
// heap so that the object model can call getters, setters and conversion
// methods.
type Invoker interface {
	Call(fn, this Value, args []Value) (Value, error)
	Construct(ctor Value, args []Value) (Value, error)
}

// Callable is implemented by the native payload of function objects.
type Callable interface {
	FunctionName() string
}

// HeapOption configures a Heap.
type HeapOption func(*Heap)

// WithGC passes options to the underlying arena.
func WithGC(opts ...gc.Option) HeapOption {
	return func(h *Heap) {
		h.gcOpts = append(h.gcOpts, opts...)
	}
}

// WithVersion sets the content version that selects legacy coercion rules.
func WithVersion(v int) HeapOption {
	return func(h *Heap) {
		h.version = v
	}
}

// Heap owns every script object together with the global object, the
// intrinsic prototypes and the registry of linked classes.
type Heap struct {
	arena      *gc.Arena[*Object]
	gcOpts     []gc.Option
	global     gc.Ref
	intrinsics map[string]gc.Ref
	classes    map[string]*Class
	invoker    Invoker
	version    int
}

// NewHeap creates a heap with a global object and the Object, Function and
// Array prototypes.
func NewHeap(opts ...HeapOption) *Heap {
	h := &Heap{
		intrinsics: make(map[string]gc.Ref),
		classes:    make(map[string]*Class),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.arena = gc.NewArena[*Object](h.gcOpts...)
	h.arena.AddRootSource(h.markRoots)

	objProto := h.arena.Allocate(&Object{})
	h.intrinsics[ObjectPrototype] = objProto
	h.intrinsics[FunctionPrototype] = h.arena.Allocate(&Object{proto: objProto})
	h.intrinsics[ArrayPrototype] = h.arena.Allocate(&Object{proto: objProto})
	h.global = h.arena.Allocate(&Object{proto: objProto})
	h.arena.Safepoint()
	return h
}

func (h *Heap) markRoots(m gc.Marker) {
	m.Mark(h.global)
	for _, r := range h.intrinsics {
		m.Mark(r)
	}
	for _, c := range h.classes {
		c.mark(m)
	}
}

// Arena exposes the underlying collector.
func (h *Heap) Arena() *gc.Arena[*Object] {
	return h.arena
}

// Global returns the global object.
func (h *Heap) Global() Value {
	return FromRef(h.global)
}

// Version returns the content version.
func (h *Heap) Version() int {
	return h.version
}

// SetVersion changes the content version.
func (h *Heap) SetVersion(v int) {
	h.version = v
}

// Legacy reports whether pre-version-7 coercion rules apply.
func (h *Heap) Legacy() bool {
	return h.version > 0 && h.version < 7
}

// SetInvoker installs the function runner.
func (h *Heap) SetInvoker(inv Invoker) {
	h.invoker = inv
}

// Intrinsic returns the named intrinsic, or undefined.
func (h *Heap) Intrinsic(name string) Value {
	r, ok := h.intrinsics[name]
	if !ok {
		return Undefined
	}
	return FromRef(r)
}

// SetIntrinsic registers an intrinsic. Intrinsics are roots.
func (h *Heap) SetIntrinsic(name string, v Value) {
	if !v.IsObject() {
		delete(h.intrinsics, name)
		return
	}
	h.intrinsics[name] = v.ref
}

// Safepoint tells the collector that every live object is reachable from a
// root.
func (h *Heap) Safepoint() {
	h.arena.Safepoint()
}

// Object dereferences v. It reports false for primitives and dead refs.
func (h *Heap) Object(v Value) (*Object, bool) {
	if v.kind != KindObject || !h.arena.Valid(v.ref) {
		return nil, false
	}
	return h.arena.Get(v.ref), true
}

// New allocates an object with the given prototype and native payload.
func (h *Heap) New(proto Value, native any) Value {
	return FromRef(h.arena.Allocate(&Object{proto: proto.Ref(), native: native}))
}

// NewObject allocates a plain object.
func (h *Heap) NewObject() Value {
	return h.New(h.Intrinsic(ObjectPrototype), nil)
}

// NewArray allocates an array holding vals.
func (h *Heap) NewArray(vals []Value) Value {
	return h.New(h.Intrinsic(ArrayPrototype), &Array{elems: vals, length: len(vals)})
}

// NewArrayLength allocates an array of length n with no elements present.
func (h *Heap) NewArrayLength(n int) Value {
	return h.New(h.Intrinsic(ArrayPrototype), &Array{length: n})
}

// NewError allocates an error object of type t. The prototype is the
// intrinsic "<t>.prototype" when registered, else Error.prototype.
func (h *Heap) NewError(t ErrorType, message string) Value {
	proto := h.Intrinsic(string(t) + ".prototype")
	if !proto.IsObject() {
		proto = h.Intrinsic(ErrorPrototype)
	}
	if !proto.IsObject() {
		proto = h.Intrinsic(ObjectPrototype)
	}
	e := h.New(proto, &ErrorData{Type: t})
	h.DefineProperty(e, "message", String(message), DontEnum)
	if !h.Intrinsic(string(t) + ".prototype").IsObject() {
		h.DefineProperty(e, "name", String(string(t)), DontEnum)
	}
	return e
}

// IsCallable reports whether v is a function object.
func (h *Heap) IsCallable(v Value) bool {
	o, ok := h.Object(v)
	if !ok {
		return false
	}
	_, ok = o.native.(Callable)
	return ok
}

// Call invokes fn with the installed Invoker.
func (h *Heap) Call(fn, this Value, args []Value) (Value, error) {
	if h.invoker == nil {
		return Undefined, Errorf(TypeError, "no function runner installed")
	}
	return h.invoker.Call(fn, this, args)
}

// Construct instantiates ctor with the installed Invoker.
func (h *Heap) Construct(ctor Value, args []Value) (Value, error) {
	if h.invoker == nil {
		return Undefined, Errorf(TypeError, "no function runner installed")
	}
	return h.invoker.Construct(ctor, args)
}

// store records that owner now references v.
func (h *Heap) store(owner gc.Ref, v Value) {
	if v.kind == KindObject {
		h.arena.Barrier(owner, v.ref)
	}
}

// Barrier runs the write barrier for a store of v into owner. Native
// payloads call it when they store values outside the property table.
func (h *Heap) Barrier(owner, v Value) {
	if owner.kind == KindObject {
		h.store(owner.ref, v)
	}
}

// SetProto replaces the prototype of obj.
func (h *Heap) SetProto(obj, proto Value) {
	o, ok := h.Object(obj)
	if !ok {
		return
	}
	o.proto = proto.Ref()
	h.store(obj.ref, proto)
}

// Proto returns the prototype of obj, or null.
func (h *Heap) Proto(obj Value) Value {
	o, ok := h.Object(obj)
	if !ok {
		return Null
	}
	return FromRef(o.proto)
}

// lookupStart returns the object a property lookup on v begins at.
// Primitives start at their wrapper prototype.
func (h *Heap) lookupStart(v Value) gc.Ref {
	switch v.kind {
	case KindObject:
		if h.arena.Valid(v.ref) {
			return v.ref
		}
	case KindString:
		return h.intrinsics[StringPrototype]
	case KindNumber:
		return h.intrinsics[NumberPrototype]
	case KindBoolean:
		return h.intrinsics[BooleanPrototype]
	}
	return gc.Nil
}

// GetProperty reads name from target, walking the prototype chain and
// running getters with this=target. A miss is undefined.
func (h *Heap) GetProperty(target Value, name string) (Value, error) {
	if target.kind == KindString && name == "length" {
		return Int(utf8.RuneCountInString(target.str)), nil
	}
	r := h.lookupStart(target)
	for depth := 0; !r.IsNil() && depth < MaxProtoDepth; depth++ {
		if !h.arena.Valid(r) {
			break
		}
		o := h.arena.Get(r)
		if hook, ok := o.native.(PropertyHook); ok {
			v, handled, err := hook.GetHook(h, FromRef(r), name)
			if err != nil || handled {
				return v, err
			}
		}
		if o.class != nil {
			if v, found, err := h.classGet(target, o, name); found || err != nil {
				return v, err
			}
		}
		if p, ok := o.props[name]; ok {
			if p.IsAccessor() {
				if !p.Getter.IsObject() {
					return Undefined, nil
				}
				return h.Call(p.Getter, target, nil)
			}
			return p.Value, nil
		}
		r = o.proto
	}
	return Undefined, nil
}

// SetProperty assigns name on target. Setters found on the chain run with
// this=target, ReadOnly properties ignore the store, and a sealed class
// instance rejects new names with a ReferenceError. Stores to primitives are
// ignored.
func (h *Heap) SetProperty(target Value, name string, v Value) error {
	o, ok := h.Object(target)
	if !ok {
		return nil
	}
	if hook, ok := o.native.(PropertyHook); ok {
		handled, err := hook.SetHook(h, target, name, v)
		if err != nil || handled {
			return err
		}
	}
	if o.class != nil {
		if handled, err := h.classSet(target, o, name, v); handled || err != nil {
			return err
		}
	}
	if p, ok := o.props[name]; ok {
		if p.IsAccessor() {
			if p.Setter.IsObject() {
				_, err := h.Call(p.Setter, target, []Value{v})
				return err
			}
			return nil
		}
		if p.Attr.Has(ReadOnly) {
			return nil
		}
		p.Value = v
		h.store(target.ref, v)
		return nil
	}

	r := o.proto
	for depth := 0; !r.IsNil() && depth < MaxProtoDepth && h.arena.Valid(r); depth++ {
		po := h.arena.Get(r)
		if p, ok := po.props[name]; ok {
			if p.IsAccessor() {
				if p.Setter.IsObject() {
					_, err := h.Call(p.Setter, target, []Value{v})
					return err
				}
				return nil
			}
			if p.Attr.Has(ReadOnly) {
				return nil
			}
			break
		}
		r = po.proto
	}

	if o.class != nil && !o.class.Dynamic {
		return Errorf(ReferenceError, "cannot create property %s on %s", name, o.class.Name)
	}
	o.define(name, &Property{Value: v})
	h.store(target.ref, v)
	return nil
}

// DefineProperty creates or replaces an own data property, ignoring
// ReadOnly.
func (h *Heap) DefineProperty(target Value, name string, v Value, attr Attr) {
	o, ok := h.Object(target)
	if !ok {
		return
	}
	o.define(name, &Property{Value: v, Attr: attr})
	h.store(target.ref, v)
}

// DefineAccessor creates or replaces an own getter/setter pair. Either
// function may be undefined.
func (h *Heap) DefineAccessor(target Value, name string, getter, setter Value, attr Attr) {
	o, ok := h.Object(target)
	if !ok {
		return
	}
	o.define(name, &Property{Getter: getter, Setter: setter, Attr: attr})
	h.store(target.ref, getter)
	h.store(target.ref, setter)
}

// SetAttr replaces the flags of an own property.
func (h *Heap) SetAttr(target Value, name string, attr Attr) bool {
	o, ok := h.Object(target)
	if !ok {
		return false
	}
	p, ok := o.props[name]
	if ok {
		p.Attr = attr
	}
	return ok
}

// DeleteProperty removes an own property. It reports false when the
// property is DontDelete or a class slot; deleting a missing name succeeds.
func (h *Heap) DeleteProperty(target Value, name string) bool {
	o, ok := h.Object(target)
	if !ok {
		return false
	}
	if o.class != nil {
		if _, isSlot := o.class.SlotIndex(name); isSlot {
			return false
		}
	}
	p, ok := o.props[name]
	if !ok {
		return true
	}
	if p.Attr.Has(DontDelete) {
		return false
	}
	o.remove(name)
	return true
}

// HasOwnProperty reports whether target itself defines name.
func (h *Heap) HasOwnProperty(target Value, name string) bool {
	o, ok := h.Object(target)
	if !ok {
		return false
	}
	if hook, ok := o.native.(PropertyHook); ok {
		if _, handled, err := hook.GetHook(h, target, name); handled && err == nil {
			return true
		}
	}
	if o.class != nil && o.class.hasTrait(name) {
		return true
	}
	_, ok = o.props[name]
	return ok
}

// HasProperty reports whether name is found anywhere on target's chain.
func (h *Heap) HasProperty(target Value, name string) bool {
	r := h.lookupStart(target)
	for depth := 0; !r.IsNil() && depth < MaxProtoDepth && h.arena.Valid(r); depth++ {
		if h.HasOwnProperty(FromRef(r), name) {
			return true
		}
		r = h.arena.Get(r).proto
	}
	return false
}

// Enumerate lists the enumerable property names along target's chain,
// own names first, each name once. Shadowed names are not repeated.
func (h *Heap) Enumerate(target Value) []string {
	var names []string
	seen := make(map[string]bool)
	r := h.lookupStart(target)
	for depth := 0; !r.IsNil() && depth < MaxProtoDepth && h.arena.Valid(r); depth++ {
		o := h.arena.Get(r)
		if kl, ok := o.native.(KeyLister); ok {
			for _, k := range kl.HookKeys() {
				if !seen[k] {
					seen[k] = true
					names = append(names, k)
				}
			}
		}
		for _, k := range o.keys {
			if seen[k] {
				continue
			}
			seen[k] = true
			if !o.props[k].Attr.Has(DontEnum) {
				names = append(names, k)
			}
		}
		r = o.proto
	}
	return names
}

// InstanceOf reports whether ctor.prototype is on the prototype chain of v.
func (h *Heap) InstanceOf(v, ctor Value) (bool, error) {
	if !v.IsObject() {
		return false, nil
	}
	proto, err := h.GetProperty(ctor, "prototype")
	if err != nil || !proto.IsObject() {
		return false, err
	}
	return h.HasInChain(v, proto.ref), nil
}

// HasInChain reports whether proto is a strict ancestor of v.
func (h *Heap) HasInChain(v Value, proto gc.Ref) bool {
	o, ok := h.Object(v)
	if !ok {
		return false
	}
	r := o.proto
	for depth := 0; !r.IsNil() && depth < MaxProtoDepth && h.arena.Valid(r); depth++ {
		if r == proto {
			return true
		}
		r = h.arena.Get(r).proto
	}
	return false
}

// DefineClass registers c under its qualified name. Registered classes are
// roots.
func (h *Heap) DefineClass(c *Class) {
	h.classes[c.Name.String()] = c
}

// Class looks up a registered class by qualified or local name.
func (h *Heap) Class(name string) (*Class, bool) {
	if c, ok := h.classes[name]; ok {
		return c, true
	}
	q := ParseQName(name)
	if q.Namespace != "" {
		return nil, false
	}
	var found *Class
	for _, c := range h.classes {
		if c.Name.Local == q.Local {
			if found != nil {
				return nil, false
			}
			found = c
		}
	}
	return found, found != nil
}

// NewInstance allocates an instance of a linked class with its slots at
// their declared defaults. The constructor is not run.
func (h *Heap) NewInstance(c *Class) (Value, error) {
	if !c.Linked() {
		return Undefined, &LinkError{Class: c.Name.String(), Reason: "class is not linked"}
	}
	slots := make([]Value, len(c.layout))
	for i, t := range c.layout {
		slots[i] = t.Default
	}
	return FromRef(h.arena.Allocate(&Object{proto: c.Prototype, class: c, slots: slots})), nil
}

// GetSlot reads slot i of a class instance.
func (h *Heap) GetSlot(obj Value, i int) (Value, error) {
	o, ok := h.Object(obj)
	if !ok {
		return Undefined, Errorf(TypeError, "cannot read slot of %s", obj)
	}
	v, ok := o.Slot(i)
	if !ok {
		return Undefined, Errorf(ReferenceError, "slot %d out of range", i)
	}
	return v, nil
}

// SetSlot writes slot i of a class instance.
func (h *Heap) SetSlot(obj Value, i int, v Value) error {
	o, ok := h.Object(obj)
	if !ok {
		return Errorf(TypeError, "cannot write slot of %s", obj)
	}
	if i < 0 || i >= len(o.slots) {
		return Errorf(ReferenceError, "slot %d out of range", i)
	}
	o.slots[i] = v
	h.store(obj.ref, v)
	return nil
}

func (h *Heap) classGet(this Value, o *Object, name string) (Value, bool, error) {
	c := o.class
	if i, ok := c.SlotIndex(name); ok {
		return o.slots[i], true, nil
	}
	if i, ok := c.GetterIndex(name); ok {
		v, err := h.Call(c.vtable[i].Method, this, nil)
		return v, true, err
	}
	if i, ok := c.MethodIndex(name); ok {
		return c.vtable[i].Method, true, nil
	}
	return Undefined, false, nil
}

func (h *Heap) classSet(this Value, o *Object, name string, v Value) (bool, error) {
	c := o.class
	if i, ok := c.SlotIndex(name); ok {
		if c.layout[i].Kind == TraitConst {
			return true, Errorf(ReferenceError, "cannot assign to const %s", name)
		}
		o.slots[i] = v
		h.store(this.ref, v)
		return true, nil
	}
	if i, ok := c.SetterIndex(name); ok {
		_, err := h.Call(c.vtable[i].Method, this, []Value{v})
		return true, err
	}
	if _, ok := c.GetterIndex(name); ok {
		return true, Errorf(ReferenceError, "property %s is read-only", name)
	}
	if _, ok := c.MethodIndex(name); ok {
		return true, Errorf(ReferenceError, "cannot assign to method %s", name)
	}
	return false, nil
}

// ArrayIndex parses a canonical array index.
func ArrayIndex(name string) (int, bool) {
	if name == "" || (len(name) > 1 && name[0] == '0') {
		return 0, false
	}
	n, err := strconv.Atoi(name)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
