// Package vm provides the execution machinery shared by both bytecode
// dialects: the call stack of activations, scope chains, function objects,
// exception unwinding, the execution budget, diagnostics and the queue that
// carries asynchronous results onto the script thread.
//
// The interpreters themselves live in the stackvm (legacy dialect) and regvm
// (class dialect) subpackages and are plugged in with WithDialect.
package vm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zurustar/kagami/pkg/gc"
	"github.com/zurustar/kagami/pkg/logger"
	"github.com/zurustar/kagami/pkg/opcode"
	"github.com/zurustar/kagami/pkg/value"
)

// DefaultMaxStackDepth is the call depth at which a call raises a
// RangeError.
const DefaultMaxStackDepth = 256

// Dialect executes the methods of one bytecode dialect.
type Dialect interface {
	// ID returns the dialect the interpreter handles.
	ID() opcode.Dialect
	// Prepare validates a method before its first execution. It runs once
	// per method; a failed method never executes.
	Prepare(m *Machine, method *opcode.Method) error
	// Execute runs act until it returns or fails.
	Execute(m *Machine, act *Activation) (value.Value, error)
}

// ClassConstructor is implemented by the dialect that instantiates classes.
type ClassConstructor interface {
	ConstructClass(m *Machine, c *value.Class, args []value.Value) (value.Value, error)
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// WithMaxStackDepth sets the call depth limit.
func WithMaxStackDepth(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxDepth = n
		}
	}
}

// WithBudget sets the per-entry-point execution budget.
func WithBudget(b Budget) Option {
	return func(m *Machine) {
		m.budget = b
	}
}

// WithMaxObjects sets the live object limit beyond which scripts get a
// RangeError. Zero disables the limit.
func WithMaxObjects(n int) Option {
	return func(m *Machine) {
		m.maxObjects = n
	}
}

// WithGCStepWork makes every budget checkpoint advance the collector by n
// work units. Zero leaves collection to the host.
func WithGCStepWork(n int) Option {
	return func(m *Machine) {
		m.gcStepWork = n
	}
}

// WithDialect registers an interpreter.
func WithDialect(d Dialect) Option {
	return func(m *Machine) {
		m.dialects[d.ID()] = d
	}
}

// WithUncaughtHandler sets the channel uncaught script errors are delivered
// to, once each.
func WithUncaughtHandler(fn func(*UncaughtError)) Option {
	return func(m *Machine) {
		m.onUncaught = fn
	}
}

// WithDiagnostics sets the diagnostics channel.
func WithDiagnostics(fn func(Diagnostic)) Option {
	return func(m *Machine) {
		m.onDiagnostic = fn
	}
}

// WithTrace sets the destination of trace output.
func WithTrace(fn func(string)) Option {
	return func(m *Machine) {
		m.trace = fn
	}
}

// WithHeapOptions configures the heap the machine creates.
func WithHeapOptions(opts ...value.HeapOption) Option {
	return func(m *Machine) {
		m.heapOpts = append(m.heapOpts, opts...)
	}
}

// WithQueue sets the async queue.
func WithQueue(q *Queue) Option {
	return func(m *Machine) {
		m.queue = q
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// Machine runs script functions of both dialects against one heap.
// It is single-threaded: only Queue may be used from other goroutines.
type Machine struct {
	heap     *value.Heap
	heapOpts []value.HeapOption
	dialects map[opcode.Dialect]Dialect
	prepared map[*opcode.Method]error

	frames []*Activation
	native int

	// pending is the most recently raised throw; it stays rooted while the
	// error travels through Go frames.
	pending value.Value

	maxDepth   int
	maxObjects int
	gcStepWork int
	budget     Budget
	meter      meter
	ctx        context.Context

	queue        *Queue
	onUncaught   func(*UncaughtError)
	onDiagnostic func(Diagnostic)
	trace        func(string)
	now          func() time.Time
	log          *slog.Logger
}

// New creates a machine with its heap.
func New(opts ...Option) *Machine {
	m := &Machine{
		dialects: make(map[opcode.Dialect]Dialect),
		prepared: make(map[*opcode.Method]error),
		frames:   make([]*Activation, 0, 32),
		maxDepth: DefaultMaxStackDepth,
		budget:   DefaultBudget,
		queue:    NewQueue(),
		now:      time.Now,
		log:      logger.GetLogger(),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	heapOpts := append([]value.HeapOption{value.WithGC(gc.WithEmergencyHook(m.onEmergency))}, m.heapOpts...)
	m.heap = value.NewHeap(heapOpts...)
	m.heap.SetInvoker(m)
	m.heap.Arena().AddRootSource(m.markRoots)
	return m
}

func (m *Machine) markRoots(mk gc.Marker) {
	for _, act := range m.frames {
		act.Trace(mk)
	}
	m.pending.Mark(mk)
}

// Heap returns the machine's heap.
func (m *Machine) Heap() *value.Heap {
	return m.heap
}

// Queue returns the async queue.
func (m *Machine) Queue() *Queue {
	return m.queue
}

// Logger returns the machine's logger.
func (m *Machine) Logger() *slog.Logger {
	return m.log
}

// Depth returns the number of live activations.
func (m *Machine) Depth() int {
	return len(m.frames)
}

// Current returns the innermost activation, or nil.
func (m *Machine) Current() *Activation {
	if len(m.frames) == 0 {
		return nil
	}
	return m.frames[len(m.frames)-1]
}

func (m *Machine) currentName() string {
	if act := m.Current(); act != nil {
		return act.Name()
	}
	return ""
}

func (m *Machine) currentPC() int {
	if act := m.Current(); act != nil {
		return act.PC
	}
	return 0
}

// StackTrace describes the live activations, innermost first.
func (m *Machine) StackTrace() []string {
	trace := make([]string, 0, len(m.frames))
	for i := len(m.frames) - 1; i >= 0; i-- {
		trace = append(trace, m.frames[i].String())
	}
	return trace
}

// Trace writes script trace output.
func (m *Machine) Trace(msg string) {
	if m.trace != nil {
		m.trace(msg)
		return
	}
	m.log.Info("trace", "message", msg)
}

// Retain pins an object for the host. Pinned objects are roots.
func (m *Machine) Retain(v value.Value) {
	m.heap.Arena().Retain(v.Ref())
}

// Release drops a hold taken with Retain.
func (m *Machine) Release(v value.Value) {
	m.heap.Arena().Release(v.Ref())
}

// Prepare validates method with its dialect, once.
func (m *Machine) Prepare(method *opcode.Method) error {
	if err, done := m.prepared[method]; done {
		return err
	}
	d, ok := m.dialects[method.Dialect]
	if !ok {
		err := fmt.Errorf("method %s: no interpreter for dialect %s", method, method.Dialect)
		m.prepared[method] = err
		m.report(Diagnostic{Kind: DiagVerify, Message: err.Error(), Method: method.Name})
		return err
	}
	err := d.Prepare(m, method)
	m.prepared[method] = err
	if err != nil {
		kind := DiagVerify
		var le *value.LinkError
		if errors.As(err, &le) {
			kind = DiagLink
		}
		m.report(Diagnostic{Kind: kind, Message: err.Error(), Method: method.Name})
	}
	return err
}

// Call implements value.Invoker.
func (m *Machine) Call(fn, this value.Value, args []value.Value) (value.Value, error) {
	f, ok := m.AsFunction(fn)
	if !ok {
		return value.Undefined, value.Errorf(value.TypeError, "%s is not a function", m.describe(fn))
	}
	if len(m.frames) >= m.maxDepth {
		return value.Undefined, value.Errorf(value.RangeError, "stack overflow: call depth exceeds %d", m.maxDepth)
	}
	if f.Native != nil {
		return m.callNative(f, fn, this, args)
	}
	return m.callMethod(f, fn, this, args)
}

func (m *Machine) callNative(f *Function, callee, this value.Value, args []value.Value) (value.Value, error) {
	m.frames = append(m.frames, &Activation{Callee: callee, This: this, Args: args, native: f.FunctionName()})
	m.native++
	defer func() {
		m.native--
		m.popFrame()
	}()
	return f.Native(m, this, args)
}

func (m *Machine) callMethod(f *Function, callee, this value.Value, args []value.Value) (value.Value, error) {
	if err := m.Prepare(f.Method); err != nil {
		return value.Undefined, err
	}
	act := NewActivation(f.Method, callee, this, args, f.Scope)
	act.Class = f.Class
	m.frames = append(m.frames, act)
	defer m.popFrame()

	if err := m.Poll(); err != nil {
		return value.Undefined, err
	}
	v, err := m.dialects[f.Method.Dialect].Execute(m, act)
	var ab *Abort
	if errors.As(err, &ab) {
		return value.Undefined, nil
	}
	return v, err
}

func (m *Machine) popFrame() {
	n := len(m.frames)
	m.frames[n-1] = nil
	m.frames = m.frames[:n-1]
}

// Construct implements value.Invoker.
func (m *Machine) Construct(ctor value.Value, args []value.Value) (value.Value, error) {
	o, ok := m.heap.Object(ctor)
	if !ok {
		return value.Undefined, value.Errorf(value.TypeError, "%s is not a constructor", m.describe(ctor))
	}
	switch n := o.Native().(type) {
	case *value.Class:
		cc, ok := m.dialects[opcode.DialectClass].(ClassConstructor)
		if !ok {
			return value.Undefined, value.Errorf(value.TypeError, "class %s cannot be instantiated", n.Name)
		}
		return cc.ConstructClass(m, n, args)
	case *Function:
		proto, err := m.heap.GetProperty(ctor, "prototype")
		if err != nil {
			return value.Undefined, err
		}
		if !proto.IsObject() {
			proto = m.heap.Intrinsic(value.ObjectPrototype)
		}
		obj := m.heap.New(proto, nil)
		res, err := m.Call(ctor, obj, args)
		if err != nil {
			return value.Undefined, err
		}
		if res.IsObject() {
			return res, nil
		}
		return obj, nil
	default:
		return value.Undefined, value.Errorf(value.TypeError, "%s is not a constructor", m.describe(ctor))
	}
}

func (m *Machine) describe(v value.Value) string {
	if f, ok := m.AsFunction(v); ok {
		return f.FunctionName()
	}
	return m.heap.TypeOf(v) + " " + v.String()
}

// InvokeEntryPoint runs fn as a top-level call from the host. Errors that
// escape it are delivered to the uncaught handler exactly once and
// returned. Internal failures are recovered and reported the same way, so
// no input can crash the host.
func (m *Machine) InvokeEntryPoint(ctx context.Context, fn, this value.Value, args []value.Value) (result value.Value, uncaught *UncaughtError) {
	base, nativeBase := len(m.frames), m.native
	if base == 0 {
		m.ctx = ctx
		m.startMeter()
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		clear(m.frames[base:])
		m.frames = m.frames[:base]
		m.native = nativeBase
		m.report(Diagnostic{Kind: DiagInternal, Message: fmt.Sprint(r)})
		uncaught = &UncaughtError{Message: fmt.Sprintf("internal error: %v", r), Aborted: true}
		m.deliver(uncaught)
		result = value.Undefined
	}()

	v, err := m.Call(fn, this, args)
	if err == nil {
		return v, nil
	}
	var ab *Abort
	if errors.As(err, &ab) {
		return value.Undefined, nil
	}
	uncaught = m.uncaught(err)
	m.deliver(uncaught)
	return value.Undefined, uncaught
}

// RunScript runs a top-level method (a frame script) with the given
// receiver and scope chain.
func (m *Machine) RunScript(ctx context.Context, method *opcode.Method, this value.Value, scope *Scope) (value.Value, *UncaughtError) {
	fn := m.NewFunction(method, scope)
	return m.InvokeEntryPoint(ctx, fn, this, nil)
}

func (m *Machine) deliver(u *UncaughtError) {
	m.log.Error("uncaught script error", "message", u.Message, "aborted", u.Aborted)
	if m.onUncaught != nil {
		m.onUncaught(u)
	}
}
