package regvm

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/zurustar/kagami/pkg/opcode"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

type harness struct {
	m        *vm.Machine
	diags    []vm.Diagnostic
	uncaught []*vm.UncaughtError
}

func newHarness(t *testing.T, opts ...vm.Option) *harness {
	t.Helper()
	hr := &harness{}
	base := []vm.Option{
		vm.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		vm.WithDialect(New()),
		vm.WithDiagnostics(func(d vm.Diagnostic) { hr.diags = append(hr.diags, d) }),
		vm.WithUncaughtHandler(func(u *vm.UncaughtError) { hr.uncaught = append(hr.uncaught, u) }),
	}
	hr.m = vm.New(append(base, opts...)...)
	return hr
}

func (hr *harness) count(kind vm.DiagnosticKind) int {
	n := 0
	for _, d := range hr.diags {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

// link links defs and fails the test on any link error.
func (hr *harness) link(t *testing.T, defs ...*opcode.ClassDef) {
	t.Helper()
	if _, err := LinkClasses(hr.m, defs); err != nil {
		t.Fatalf("link: %v", err)
	}
}

func (hr *harness) class(t *testing.T, name string) *value.Class {
	t.Helper()
	c, ok := hr.m.Heap().Class(name)
	if !ok {
		t.Fatalf("class %s is not registered", name)
	}
	return c
}

func (hr *harness) construct(t *testing.T, name string, args ...value.Value) value.Value {
	t.Helper()
	obj, err := hr.m.Construct(value.FromRef(hr.class(t, name).Object), args)
	if err != nil {
		t.Fatalf("new %s: %v", name, err)
	}
	return obj
}

func (hr *harness) slot(t *testing.T, obj value.Value, class, name string) value.Value {
	t.Helper()
	i, ok := hr.class(t, class).SlotIndex(name)
	if !ok {
		t.Fatalf("%s has no slot %s", class, name)
	}
	v, err := hr.m.Heap().GetSlot(obj, i)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// invoke calls the named instance method of obj.
func (hr *harness) invoke(t *testing.T, obj value.Value, class, name string, args ...value.Value) (value.Value, error) {
	t.Helper()
	c := hr.class(t, class)
	i, ok := c.MethodIndex(name)
	if !ok {
		t.Fatalf("%s has no method %s", class, name)
	}
	return hr.m.Call(c.Binding(i).Method, obj, args)
}

func (hr *harness) run(method *opcode.Method) (value.Value, *vm.UncaughtError) {
	return hr.m.RunScript(context.Background(), method, value.Undefined, nil)
}

// body builds a class dialect method with no stack use.
func body(name string, frame int, code ...opcode.Instruction) *opcode.Method {
	return &opcode.Method{Name: name, Dialect: opcode.DialectClass, FrameSize: frame, Code: code}
}

func voidMethod(name string) *opcode.Method {
	return body(name, 1, opcode.K(opcode.ReturnVoid))
}

func method(name string, override bool) opcode.TraitDef {
	return opcode.TraitDef{Name: name, Kind: opcode.TraitMethod, Method: voidMethod(name), Override: override}
}
