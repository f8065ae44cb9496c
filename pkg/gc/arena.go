// Package gc provides the arena that owns every script-allocated object and
// the tracing collector that reclaims the unreachable ones.
//
// Objects are addressed by Ref (slot index plus generation), never by Go
// pointers, so reference cycles between script objects are harmless: a cycle
// that is not reachable from a root is simply never marked.
//
// The collector is a tri-color mark & sweep that can run either to
// completion (Collect) or in bounded increments (Step). Incremental marking
// relies on the insertion write barrier (Barrier) being called on every
// store of an object reference into another object.
package gc

import (
	"fmt"
)

// Ref identifies a slot in an Arena. The zero Ref is the nil reference.
type Ref struct {
	index uint32
	gen   uint32
}

// Nil is the nil reference.
var Nil = Ref{}

// IsNil reports whether r is the nil reference.
func (r Ref) IsNil() bool {
	return r.index == 0
}

// Index returns the slot index of r.
func (r Ref) Index() int {
	return int(r.index)
}

func (r Ref) String() string {
	if r.IsNil() {
		return "#nil"
	}
	return fmt.Sprintf("#%d.%d", r.index, r.gen)
}

// Marker is handed to Traceable values so they can report the references
// they hold.
type Marker interface {
	Mark(r Ref)
}

// Traceable is implemented by everything stored in an Arena.
type Traceable interface {
	Trace(m Marker)
}

// Finalizer may be implemented by arena values that need a side effect when
// they are reclaimed. Finalizers run after the sweep that freed the slot.
type Finalizer interface {
	Finalize()
}

// Phase is the collector state.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseMark
	PhaseSweep
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseMark:
		return "mark"
	case PhaseSweep:
		return "sweep"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

type color uint8

const (
	white color = iota
	gray
	black
)

type slot[T Traceable] struct {
	value T
	gen   uint32
	color color
	live  bool
}

// Stats reports collector counters.
type Stats struct {
	Live        int // objects currently allocated
	Allocated   int // total allocations
	Freed       int // total objects reclaimed
	Cycles      int // completed collection cycles
	Emergencies int // collections forced by the allocation budget
}

// DefaultAllocationBudget is the number of allocations allowed between two
// collection cycles before an emergency collection is forced.
const DefaultAllocationBudget = 1 << 16

type settings struct {
	budget      int
	onEmergency func(Stats)
}

// Option configures an Arena.
type Option func(*settings)

// WithAllocationBudget sets how many allocations may happen between cycles
// before Allocate forces a full collection. Zero disables the check.
func WithAllocationBudget(n int) Option {
	return func(s *settings) {
		s.budget = n
	}
}

// WithEmergencyHook registers a callback invoked after every emergency
// collection.
func WithEmergencyHook(fn func(Stats)) Option {
	return func(s *settings) {
		s.onEmergency = fn
	}
}

// Arena owns values of type T and reclaims the ones that are no longer
// reachable from its roots.
type Arena[T Traceable] struct {
	slots []slot[T]
	free  []uint32

	gray     []Ref
	phase    Phase
	sweepPos int

	roots   []func(Marker)
	handles map[Ref]int
	// young holds objects allocated since the last safepoint. They are
	// treated as roots because the caller may still be holding them only in
	// Go variables.
	young []Ref

	sinceCycle int
	finalize   []Finalizer

	stats    Stats
	settings settings
}

// NewArena creates an empty arena.
func NewArena[T Traceable](opts ...Option) *Arena[T] {
	a := &Arena[T]{
		// slot 0 is reserved so that the zero Ref is nil
		slots:   make([]slot[T], 1, 256),
		handles: make(map[Ref]int),
		settings: settings{
			budget: DefaultAllocationBudget,
		},
	}
	for _, opt := range opts {
		opt(&a.settings)
	}
	return a
}

// AddRootSource registers a function that marks a set of roots. Root
// sources are consulted at the start of every cycle and again at mark
// termination.
func (a *Arena[T]) AddRootSource(fn func(Marker)) {
	a.roots = append(a.roots, fn)
}

// Allocate stores v in a fresh slot. It never fails: when the allocation
// budget is exhausted a full collection runs first.
func (a *Arena[T]) Allocate(v T) Ref {
	if a.settings.budget > 0 && a.sinceCycle >= a.settings.budget {
		a.Collect()
		a.stats.Emergencies++
		if a.settings.onEmergency != nil {
			a.settings.onEmergency(a.stats)
		}
	}

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot[T]{})
		idx = uint32(len(a.slots) - 1)
	}

	s := &a.slots[idx]
	s.value = v
	s.live = true
	s.gen++
	s.color = a.allocationColor(int(idx))

	a.sinceCycle++
	a.stats.Allocated++
	a.stats.Live++

	r := Ref{index: idx, gen: s.gen}
	a.young = append(a.young, r)
	return r
}

// allocationColor returns the color of a new object. Objects created while
// marking are black so the running cycle cannot free them; while sweeping,
// slots the sweeper already passed must be white for the next cycle.
func (a *Arena[T]) allocationColor(idx int) color {
	switch a.phase {
	case PhaseMark:
		return black
	case PhaseSweep:
		if idx < a.sweepPos {
			return white
		}
		return black
	default:
		return white
	}
}

// Get returns the value stored at r. A dangling reference is an internal
// invariant violation and panics.
func (a *Arena[T]) Get(r Ref) T {
	if !a.Valid(r) {
		panic(fmt.Sprintf("gc: dangling reference %v", r))
	}
	return a.slots[r.index].value
}

// Valid reports whether r refers to a live slot.
func (a *Arena[T]) Valid(r Ref) bool {
	if r.IsNil() || int(r.index) >= len(a.slots) {
		return false
	}
	s := &a.slots[r.index]
	return s.live && s.gen == r.gen
}

// Retain pins r as an externally-held root (a host handle).
func (a *Arena[T]) Retain(r Ref) {
	if r.IsNil() {
		return
	}
	a.handles[r]++
	a.shade(r)
}

// Release drops one hold taken with Retain.
func (a *Arena[T]) Release(r Ref) {
	if n, ok := a.handles[r]; ok {
		if n <= 1 {
			delete(a.handles, r)
		} else {
			a.handles[r] = n - 1
		}
	}
}

// Retained reports the number of holds on r.
func (a *Arena[T]) Retained(r Ref) int {
	return a.handles[r]
}

// Safepoint declares that every live reference is now reachable from a
// registered root, so objects allocated so far no longer need protecting.
func (a *Arena[T]) Safepoint() {
	a.young = a.young[:0]
}

// Barrier must be called whenever a reference to child is stored into
// parent. During marking it keeps a black parent from hiding a white child.
func (a *Arena[T]) Barrier(parent, child Ref) {
	if a.phase != PhaseMark || child.IsNil() {
		return
	}
	if !a.Valid(child) {
		return
	}
	if !parent.IsNil() && a.Valid(parent) && a.slots[parent.index].color != black {
		return
	}
	a.shade(child)
}

// shade turns a white object gray.
func (a *Arena[T]) shade(r Ref) {
	if a.phase != PhaseMark || !a.Valid(r) {
		return
	}
	s := &a.slots[r.index]
	if s.color == white {
		s.color = gray
		a.gray = append(a.gray, r)
	}
}

type tracer[T Traceable] struct {
	a *Arena[T]
}

func (t tracer[T]) Mark(r Ref) {
	t.a.shade(r)
}

func (a *Arena[T]) markRoots() {
	t := tracer[T]{a: a}
	for _, fn := range a.roots {
		fn(t)
	}
	for r := range a.handles {
		a.shade(r)
	}
	for _, r := range a.young {
		a.shade(r)
	}
}

func (a *Arena[T]) startCycle() {
	a.phase = PhaseMark
	a.gray = a.gray[:0]
	a.markRoots()
}

// Step performs up to work units of incremental collection, starting a new
// cycle when idle. It returns true when the cycle completed.
func (a *Arena[T]) Step(work int) bool {
	if work <= 0 {
		work = 1
	}
	if a.phase == PhaseIdle {
		a.startCycle()
	}
	for work > 0 {
		switch a.phase {
		case PhaseMark:
			work = a.markStep(work)
		case PhaseSweep:
			work = a.sweepStep(work)
		case PhaseIdle:
			return true
		}
	}
	return a.phase == PhaseIdle
}

func (a *Arena[T]) markStep(work int) int {
	t := tracer[T]{a: a}
	for work > 0 && len(a.gray) > 0 {
		n := len(a.gray) - 1
		r := a.gray[n]
		a.gray = a.gray[:n]
		if !a.Valid(r) {
			continue
		}
		s := &a.slots[r.index]
		s.color = black
		s.value.Trace(t)
		work--
	}
	if len(a.gray) == 0 {
		// Roots are not guarded by the barrier, rescan before terminating.
		a.markRoots()
		if len(a.gray) == 0 {
			a.phase = PhaseSweep
			a.sweepPos = 1
		}
	}
	return work
}

func (a *Arena[T]) sweepStep(work int) int {
	for work > 0 && a.sweepPos < len(a.slots) {
		s := &a.slots[a.sweepPos]
		if s.live {
			if s.color == white {
				if f, ok := any(s.value).(Finalizer); ok {
					a.finalize = append(a.finalize, f)
				}
				var zero T
				s.value = zero
				s.live = false
				a.free = append(a.free, uint32(a.sweepPos))
				a.stats.Live--
				a.stats.Freed++
			} else {
				s.color = white
			}
		}
		a.sweepPos++
		work--
	}
	if a.sweepPos >= len(a.slots) {
		a.finishCycle()
	}
	return work
}

func (a *Arena[T]) finishCycle() {
	a.phase = PhaseIdle
	a.sinceCycle = 0
	a.stats.Cycles++

	pending := a.finalize
	a.finalize = nil
	for _, f := range pending {
		f.Finalize()
	}
}

// Collect runs a complete stop-the-world collection. An incremental cycle
// already in progress is finished first, then a fresh cycle runs so that
// everything unreachable right now is reclaimed.
func (a *Arena[T]) Collect() {
	if a.phase != PhaseIdle {
		for !a.Step(len(a.slots) + 1) {
		}
	}
	for !a.Step(len(a.slots) + 1) {
	}
}

// Phase returns the current collector phase.
func (a *Arena[T]) Phase() Phase {
	return a.phase
}

// Stats returns a snapshot of the collector counters.
func (a *Arena[T]) Stats() Stats {
	return a.stats
}

// Len returns the number of live objects.
func (a *Arena[T]) Len() int {
	return a.stats.Live
}

// Each calls fn for every live object in slot order.
func (a *Arena[T]) Each(fn func(Ref, T)) {
	for i := 1; i < len(a.slots); i++ {
		s := &a.slots[i]
		if s.live {
			fn(Ref{index: uint32(i), gen: s.gen}, s.value)
		}
	}
}
