package vm

import (
	"github.com/zurustar/kagami/pkg/gc"
	"github.com/zurustar/kagami/pkg/value"
)

// ScopeKind tells what a scope object represents.
type ScopeKind uint8

const (
	// ScopeLocal is a legacy function's activation object.
	ScopeLocal ScopeKind = iota
	// ScopeWith is an object pushed by a with statement or PushScope.
	ScopeWith
	// ScopeTarget is the display object a frame script runs against.
	// Unresolved legacy assignments land on the innermost target.
	ScopeTarget
	// ScopeClass is a class object or instance scope of the class dialect.
	ScopeClass
)

// Scope is one link of an immutable scope chain. Closures capture the chain
// as it is when they are created, so its order never changes afterwards.
// The global object is implicitly below every chain.
type Scope struct {
	parent *Scope
	object value.Value
	kind   ScopeKind
}

// Push returns a new chain with obj innermost. Push on a nil chain starts a
// new one.
func (s *Scope) Push(obj value.Value, kind ScopeKind) *Scope {
	return &Scope{parent: s, object: obj, kind: kind}
}

// Parent returns the enclosing scope.
func (s *Scope) Parent() *Scope {
	if s == nil {
		return nil
	}
	return s.parent
}

// Object returns the scope object.
func (s *Scope) Object() value.Value {
	return s.object
}

// Kind returns the scope kind.
func (s *Scope) Kind() ScopeKind {
	return s.kind
}

// Depth returns the number of links in the chain.
func (s *Scope) Depth() int {
	n := 0
	for ; s != nil; s = s.parent {
		n++
	}
	return n
}

// Find returns the innermost scope object defining name, falling back to
// the global object.
func (s *Scope) Find(h *value.Heap, name string) (value.Value, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if h.HasProperty(sc.object, name) {
			return sc.object, true
		}
	}
	if g := h.Global(); h.HasProperty(g, name) {
		return g, true
	}
	return value.Undefined, false
}

// Resolve reads name through the chain, innermost first. The bool result
// reports whether any scope defined it.
func (s *Scope) Resolve(h *value.Heap, name string) (value.Value, bool, error) {
	holder, ok := s.Find(h, name)
	if !ok {
		return value.Undefined, false, nil
	}
	v, err := h.GetProperty(holder, name)
	return v, true, err
}

// Assign stores name in the innermost scope defining it. An unbound name is
// created on the innermost target scope, or on the global object.
func (s *Scope) Assign(h *value.Heap, name string, v value.Value) error {
	if holder, ok := s.Find(h, name); ok {
		return h.SetProperty(holder, name, v)
	}
	for sc := s; sc != nil; sc = sc.parent {
		if sc.kind == ScopeTarget {
			return h.SetProperty(sc.object, name, v)
		}
	}
	return h.SetProperty(h.Global(), name, v)
}

// Local returns the object local definitions go to: the innermost local
// scope, else the innermost target, else the global object.
func (s *Scope) Local(h *value.Heap) value.Value {
	target := value.Undefined
	for sc := s; sc != nil; sc = sc.parent {
		switch {
		case sc.kind == ScopeLocal:
			return sc.object
		case sc.kind == ScopeTarget && target.IsUndefined():
			target = sc.object
		}
	}
	if target.IsObject() {
		return target
	}
	return h.Global()
}

// Delete removes name from the innermost scope defining it.
func (s *Scope) Delete(h *value.Heap, name string) bool {
	holder, ok := s.Find(h, name)
	if !ok {
		return false
	}
	return h.DeleteProperty(holder, name)
}

// Mark reports every scope object of the chain.
func (s *Scope) Mark(m gc.Marker) {
	for sc := s; sc != nil; sc = sc.parent {
		sc.object.Mark(m)
	}
}
