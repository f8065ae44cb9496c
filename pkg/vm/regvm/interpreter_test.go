package regvm

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zurustar/kagami/pkg/opcode"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

var k = opcode.K

// shapeClasses declares Shape with a virtual area and Square overriding it.
func shapeClasses() []*opcode.ClassDef {
	shapeArea := &opcode.Method{
		Name: "area", Dialect: opcode.DialectClass, FrameSize: 2, ReturnType: "Number",
		Constants: []opcode.Constant{opcode.Number(0)},
		Code:      []opcode.Instruction{k(opcode.LoadConst, 1, 0), k(opcode.CReturn, 1)},
	}
	describe := &opcode.Method{
		Name: "describe", Dialect: opcode.DialectClass, FrameSize: 3, ReturnType: "String",
		Constants: []opcode.Constant{opcode.String("area ")},
		Members:   []opcode.MemberRef{{Class: "Shape", Name: "area"}},
		Code: []opcode.Instruction{
			k(opcode.CCallMethod, 1, 0, 0, 0),
			k(opcode.LoadConst, 2, 0),
			k(opcode.CAdd, 1, 2, 1),
			k(opcode.CReturn, 1),
		},
	}
	squareCtor := &opcode.Method{
		Name: "Square", Dialect: opcode.DialectClass, FrameSize: 2,
		Params:  []opcode.Param{{Name: "side", Type: "Number"}},
		Members: []opcode.MemberRef{{Class: "Square", Name: "side"}},
		Code:    []opcode.Instruction{k(opcode.SetSlot, 0, 0, 1), k(opcode.ReturnVoid)},
	}
	squareArea := &opcode.Method{
		Name: "area", Dialect: opcode.DialectClass, FrameSize: 2, ReturnType: "Number",
		Members: []opcode.MemberRef{{Class: "Square", Name: "side"}},
		Code: []opcode.Instruction{
			k(opcode.GetSlot, 1, 0, 0),
			k(opcode.CMul, 1, 1, 1),
			k(opcode.CReturn, 1),
		},
	}
	return []*opcode.ClassDef{
		{
			Name: "Shape",
			Traits: []opcode.TraitDef{
				{Name: "area", Kind: opcode.TraitMethod, Method: shapeArea},
				{Name: "describe", Kind: opcode.TraitMethod, Method: describe},
			},
		},
		{
			Name: "Square", Super: "Shape", Constructor: squareCtor,
			Traits: []opcode.TraitDef{
				{Name: "side", Kind: opcode.TraitSlot, Type: "Number"},
				{Name: "area", Kind: opcode.TraitMethod, Method: squareArea, Override: true},
			},
		},
	}
}

func TestVirtualDispatch(t *testing.T) {
	hr := newHarness(t)
	hr.link(t, shapeClasses()...)

	main := &opcode.Method{
		Name: "main", Dialect: opcode.DialectClass, FrameSize: 4, MaxStack: 1, Script: true,
		Constants: []opcode.Constant{opcode.String("Square"), opcode.Number(3)},
		Members:   []opcode.MemberRef{{Class: "Shape", Name: "describe"}},
		Code: []opcode.Instruction{
			k(opcode.LoadConst, 1, 1),
			k(opcode.Push, 1),
			k(opcode.Construct, 2, 0, 0, 1),
			k(opcode.CCallMethod, 3, 2, 0, 0),
			k(opcode.CReturn, 3),
		},
	}
	v, u := hr.run(main)
	if u != nil {
		t.Fatalf("unexpected error: %v", u)
	}
	if v.AsString() != "area 9" {
		t.Errorf("expected the override to be dispatched, got %q", v.AsString())
	}

	base := hr.construct(t, "Shape")
	got, err := hr.invoke(t, base, "Shape", "describe")
	if err != nil || got.AsString() != "area 0" {
		t.Errorf("expected the base implementation, got %v (%v)", got, err)
	}
}

func TestConstructorCoercesArguments(t *testing.T) {
	hr := newHarness(t)
	hr.link(t, shapeClasses()...)
	sq := hr.construct(t, "Square", value.String("4"))
	side := hr.slot(t, sq, "Square", "side")
	if !side.IsNumber() || side.AsNumber() != 4 {
		t.Errorf("expected side to be the number 4, got %v", side)
	}
}

func TestSlotsAndConsts(t *testing.T) {
	hr := newHarness(t)
	ctor := &opcode.Method{
		Name: "Config", Dialect: opcode.DialectClass, FrameSize: 2,
		Constants: []opcode.Constant{opcode.Number(7)},
		Members:   []opcode.MemberRef{{Class: "Config", Name: "limit"}},
		Code: []opcode.Instruction{
			k(opcode.LoadConst, 1, 0),
			k(opcode.SetSlot, 0, 0, 1),
			k(opcode.ReturnVoid),
		},
	}
	bump := &opcode.Method{
		Name: "bump", Dialect: opcode.DialectClass, FrameSize: 2,
		Constants: []opcode.Constant{opcode.Number(8)},
		Members:   []opcode.MemberRef{{Class: "Config", Name: "limit"}},
		Code: []opcode.Instruction{
			k(opcode.LoadConst, 1, 0),
			k(opcode.SetSlot, 0, 0, 1),
			k(opcode.ReturnVoid),
		},
	}
	store := &opcode.Method{
		Name: "store", Dialect: opcode.DialectClass, FrameSize: 2,
		Params:  []opcode.Param{{Name: "v"}},
		Members: []opcode.MemberRef{{Class: "Config", Name: "count"}},
		Code:    []opcode.Instruction{k(opcode.SetSlot, 0, 0, 1), k(opcode.ReturnVoid)},
	}
	hr.link(t, &opcode.ClassDef{
		Name: "Config", Constructor: ctor,
		Traits: []opcode.TraitDef{
			{Name: "limit", Kind: opcode.TraitConst, Type: "int", Default: opcode.Number(5)},
			{Name: "count", Kind: opcode.TraitSlot, Type: "int"},
			{Name: "bump", Kind: opcode.TraitMethod, Method: bump},
			{Name: "store", Kind: opcode.TraitMethod, Method: store},
		},
	})

	cfg := hr.construct(t, "Config")
	if v := hr.slot(t, cfg, "Config", "limit"); v.AsNumber() != 7 {
		t.Errorf("expected the constructor to initialize the const, got %v", v)
	}
	if v := hr.slot(t, cfg, "Config", "count"); !v.IsNumber() || v.AsNumber() != 0 {
		t.Errorf("expected an int slot to default to 0, got %v", v)
	}

	t.Run("const is read-only outside the constructor", func(t *testing.T) {
		_, err := hr.invoke(t, cfg, "Config", "bump")
		if err == nil || !strings.Contains(err.Error(), "ReferenceError") {
			t.Fatalf("expected a ReferenceError, got %v", err)
		}
		if v := hr.slot(t, cfg, "Config", "limit"); v.AsNumber() != 7 {
			t.Errorf("const changed to %v", v)
		}
	})

	t.Run("slot stores coerce to the declared type", func(t *testing.T) {
		if _, err := hr.invoke(t, cfg, "Config", "store", value.Number(2.7)); err != nil {
			t.Fatal(err)
		}
		if v := hr.slot(t, cfg, "Config", "count"); v.AsNumber() != 2 {
			t.Errorf("expected 2, got %v", v)
		}
	})

	t.Run("slot access on a foreign receiver is a TypeError", func(t *testing.T) {
		_, err := hr.invoke(t, hr.m.Heap().NewObject(), "Config", "store", value.Int(1))
		if err == nil || !strings.Contains(err.Error(), "TypeError") {
			t.Fatalf("expected a TypeError, got %v", err)
		}
	})
}

func TestAccessors(t *testing.T) {
	hr := newHarness(t)
	members := []opcode.MemberRef{{Class: "Temperature", Name: "celsius"}}
	get := &opcode.Method{
		Name: "fahrenheit", Dialect: opcode.DialectClass, FrameSize: 3,
		Constants: []opcode.Constant{opcode.Number(9), opcode.Number(5), opcode.Number(32)},
		Members:   members,
		Code: []opcode.Instruction{
			k(opcode.GetSlot, 1, 0, 0),
			k(opcode.LoadConst, 2, 0),
			k(opcode.CMul, 1, 1, 2),
			k(opcode.LoadConst, 2, 1),
			k(opcode.CDiv, 1, 1, 2),
			k(opcode.LoadConst, 2, 2),
			k(opcode.CAdd, 1, 1, 2),
			k(opcode.CReturn, 1),
		},
	}
	set := &opcode.Method{
		Name: "fahrenheit", Dialect: opcode.DialectClass, FrameSize: 3,
		Params:    []opcode.Param{{Name: "f", Type: "Number"}},
		Constants: []opcode.Constant{opcode.Number(32), opcode.Number(5), opcode.Number(9)},
		Members:   members,
		Code: []opcode.Instruction{
			k(opcode.LoadConst, 2, 0),
			k(opcode.CSub, 1, 1, 2),
			k(opcode.LoadConst, 2, 1),
			k(opcode.CMul, 1, 1, 2),
			k(opcode.LoadConst, 2, 2),
			k(opcode.CDiv, 1, 1, 2),
			k(opcode.SetSlot, 0, 0, 1),
			k(opcode.ReturnVoid),
		},
	}
	convert := &opcode.Method{
		Name: "convert", Dialect: opcode.DialectClass, FrameSize: 2,
		Params:  []opcode.Param{{Name: "f"}},
		Members: []opcode.MemberRef{{Class: "Temperature", Name: "fahrenheit"}, {Class: "Temperature", Name: "celsius"}},
		Code: []opcode.Instruction{
			k(opcode.SetSlot, 0, 0, 1),
			k(opcode.GetSlot, 1, 0, 1),
			k(opcode.CReturn, 1),
		},
	}
	hr.link(t, &opcode.ClassDef{
		Name: "Temperature",
		Traits: []opcode.TraitDef{
			{Name: "celsius", Kind: opcode.TraitSlot, Type: "Number"},
			{Name: "fahrenheit", Kind: opcode.TraitGetter, Method: get},
			{Name: "fahrenheit", Kind: opcode.TraitSetter, Method: set},
			{Name: "convert", Kind: opcode.TraitMethod, Method: convert},
		},
	})

	temp := hr.construct(t, "Temperature")
	got, err := hr.invoke(t, temp, "Temperature", "convert", value.Int(212))
	if err != nil {
		t.Fatal(err)
	}
	if got.AsNumber() != 100 {
		t.Errorf("expected 100, got %v", got)
	}
	// The getter is also reachable through dynamic property access.
	f, err := hr.m.Heap().GetProperty(temp, "fahrenheit")
	if err != nil || f.AsNumber() != 212 {
		t.Errorf("expected 212, got %v (%v)", f, err)
	}
}

func TestSuperConstructor(t *testing.T) {
	hr := newHarness(t)
	baseCtor := &opcode.Method{
		Name: "Base", Dialect: opcode.DialectClass, FrameSize: 2,
		Params:  []opcode.Param{{Name: "id", Type: "int"}},
		Members: []opcode.MemberRef{{Class: "Base", Name: "id"}},
		Code:    []opcode.Instruction{k(opcode.SetSlot, 0, 0, 1), k(opcode.ReturnVoid)},
	}
	derivedCtor := &opcode.Method{
		Name: "Derived", Dialect: opcode.DialectClass, FrameSize: 3, MaxStack: 1,
		Params:    []opcode.Param{{Name: "n", Type: "int"}},
		Constants: []opcode.Constant{opcode.Number(2), opcode.String("derived")},
		Members:   []opcode.MemberRef{{Class: "Base", Name: ""}, {Class: "Derived", Name: "tag"}},
		Code: []opcode.Instruction{
			k(opcode.LoadConst, 2, 0),
			k(opcode.CMul, 2, 1, 2),
			k(opcode.Push, 2),
			k(opcode.CallSuper, 2, 0, 0, 1),
			k(opcode.LoadConst, 2, 1),
			k(opcode.SetSlot, 0, 1, 2),
			k(opcode.ReturnVoid),
		},
	}
	hr.link(t,
		&opcode.ClassDef{Name: "Derived", Super: "Base", Constructor: derivedCtor,
			Traits: []opcode.TraitDef{{Name: "tag", Kind: opcode.TraitSlot, Type: "String"}}},
		&opcode.ClassDef{Name: "Base", Constructor: baseCtor,
			Traits: []opcode.TraitDef{{Name: "id", Kind: opcode.TraitSlot, Type: "int"}}},
	)

	obj := hr.construct(t, "Derived", value.Int(5))
	if id := hr.slot(t, obj, "Derived", "id"); id.AsNumber() != 10 {
		t.Errorf("expected the super constructor to set id=10, got %v", id)
	}
	if tag := hr.slot(t, obj, "Derived", "tag"); tag.AsString() != "derived" {
		t.Errorf("expected tag, got %v", tag)
	}
	if ok, _ := isType(hr.m, obj, "Base"); !ok {
		t.Error("expected Derived instances to be Base")
	}
}

func TestCoerceTypeErrorIsCatchable(t *testing.T) {
	tests := []struct {
		catchType string
		caught    bool
	}{
		{"", true},
		{"TypeError", true},
		{"Error", true},
		{"RangeError", false},
	}
	for _, tt := range tests {
		t.Run("catch "+tt.catchType, func(t *testing.T) {
			hr := newHarness(t)
			m := &opcode.Method{
				Name: "guard", Dialect: opcode.DialectClass, FrameSize: 3, MaxStack: 1, Script: true,
				Constants: []opcode.Constant{opcode.String("text"), opcode.String("Array"), opcode.String("name")},
				Code: []opcode.Instruction{
					k(opcode.LoadConst, 1, 0),
					k(opcode.Coerce, 2, 1, 1),
					k(opcode.CReturn, 2),
					k(opcode.PopTo, 2),
					k(opcode.GetProp, 1, 2, 2),
					k(opcode.CReturn, 1),
				},
				Exceptions: []opcode.ExceptionRange{{From: 0, To: 3, Target: 3, CatchType: tt.catchType}},
			}
			v, u := hr.run(m)
			if !tt.caught {
				if u == nil || !strings.Contains(u.Message, "TypeError") {
					t.Fatalf("expected an uncaught TypeError, got %v", u)
				}
				return
			}
			if u != nil {
				t.Fatalf("unexpected error: %v", u)
			}
			if v.AsString() != "TypeError" {
				t.Errorf("expected the caught TypeError, got %v", v)
			}
		})
	}
}

func TestTypeTests(t *testing.T) {
	hr := newHarness(t)
	hr.link(t, shapeClasses()...)
	h := hr.m.Heap()
	sq := hr.construct(t, "Square", value.Int(2))

	tests := []struct {
		name string
		v    value.Value
		typ  string
		want bool
	}{
		{"subclass instance", sq, "Shape", true},
		{"exact class", sq, "Square", true},
		{"plain object", h.NewObject(), "Shape", false},
		{"int accepts integers", value.Int(3), "int", true},
		{"int rejects fractions", value.Number(3.5), "int", false},
		{"uint rejects negatives", value.Int(-1), "uint", false},
		{"string", value.String("s"), "String", true},
		{"array", h.NewArray(nil), "Array", true},
		{"any", value.Null, "*", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := isType(hr.m, tt.v, tt.typ)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("isType(%v, %s) = %v, want %v", tt.v, tt.typ, got, tt.want)
			}
			as, _ := asType(hr.m, tt.v, tt.typ)
			if tt.want != !as.IsNull() && !tt.v.IsNull() {
				t.Errorf("asType(%v, %s) = %v", tt.v, tt.typ, as)
			}
		})
	}

	t.Run("coerce accepts null for reference types", func(t *testing.T) {
		v, err := coerce(hr.m, value.Undefined, "Shape")
		if err != nil || !v.IsNull() {
			t.Errorf("expected null, got %v (%v)", v, err)
		}
	})
}

func TestFinallyRunsBeforeRethrow(t *testing.T) {
	hr := newHarness(t)
	m := &opcode.Method{
		Name: "cleanup", Dialect: opcode.DialectClass, FrameSize: 2, Script: true,
		Constants: []opcode.Constant{opcode.String("boom"), opcode.String("cleaned"), opcode.Bool(true)},
		Code: []opcode.Instruction{
			k(opcode.LoadConst, 1, 0),
			k(opcode.CThrow, 1),
			k(opcode.LoadConst, 1, 2),
			k(opcode.SetLex, 1, 1),
			k(opcode.CEndFinally, 0),
			k(opcode.ReturnVoid),
		},
		Exceptions: []opcode.ExceptionRange{{From: 0, To: 2, Target: 2, Finally: true}},
	}
	_, u := hr.run(m)
	if u == nil || u.Message != "boom" {
		t.Fatalf("expected boom to escape, got %v", u)
	}
	if len(hr.uncaught) != 1 {
		t.Errorf("expected one uncaught delivery, got %d", len(hr.uncaught))
	}
	h := hr.m.Heap()
	if v, _ := h.GetProperty(h.Global(), "cleaned"); !v.AsBool() {
		t.Error("expected the finally block to run")
	}
}

func TestUnwindRestoresScope(t *testing.T) {
	hr := newHarness(t)
	h := hr.m.Heap()
	h.SetProperty(h.Global(), "who", value.String("global"))
	m := &opcode.Method{
		Name: "scoped", Dialect: opcode.DialectClass, FrameSize: 3, MaxStack: 2, Script: true,
		Constants: []opcode.Constant{opcode.String("who"), opcode.String("with")},
		Code: []opcode.Instruction{
			k(opcode.LoadConst, 1, 0),
			k(opcode.LoadConst, 2, 1),
			k(opcode.Push, 1),
			k(opcode.Push, 2),
			k(opcode.CNewObject, 2, 0, 0, 1),
			k(opcode.PushScope, 2),
			k(opcode.CThrow, 2),
			// handler
			k(opcode.PopTo, 1),
			k(opcode.GetLex, 1, 0),
			k(opcode.CReturn, 1),
		},
		Exceptions: []opcode.ExceptionRange{{From: 0, To: 7, Target: 7}},
	}
	v, u := hr.run(m)
	if u != nil {
		t.Fatalf("unexpected error: %v", u)
	}
	if v.AsString() != "global" {
		t.Errorf("expected the pushed scope to be gone, got %v", v)
	}
}

func TestArgumentCoercionFailure(t *testing.T) {
	hr := newHarness(t)
	fn := hr.m.NewFunction(&opcode.Method{
		Name: "takesArray", Dialect: opcode.DialectClass, FrameSize: 2, MaxStack: 1,
		Params: []opcode.Param{{Name: "a", Type: "Array"}},
		Code:   []opcode.Instruction{k(opcode.CReturn, 1), k(opcode.PopTo, 1), k(opcode.CReturn, 1)},
		// the callee's own handler does not see entry failures
		Exceptions: []opcode.ExceptionRange{{From: 0, To: 1, Target: 1}},
	}, nil)
	_, err := hr.m.Call(fn, value.Undefined, []value.Value{value.Int(1)})
	var se *value.ScriptError
	if !errors.As(err, &se) || se.Type != value.TypeError {
		t.Fatalf("expected a TypeError, got %v", err)
	}
}

func TestLinkErrors(t *testing.T) {
	tests := []struct {
		name string
		defs []*opcode.ClassDef
	}{
		{"unknown superclass", []*opcode.ClassDef{{Name: "A", Super: "Missing"}}},
		{"extends final class", []*opcode.ClassDef{{Name: "A", Final: true}, {Name: "B", Super: "A"}}},
		{"hides without override", []*opcode.ClassDef{
			{Name: "A", Traits: []opcode.TraitDef{method("run", false)}},
			{Name: "B", Super: "A", Traits: []opcode.TraitDef{method("run", false)}},
		}},
		{"overrides final", []*opcode.ClassDef{
			{Name: "A", Traits: []opcode.TraitDef{{Name: "run", Kind: opcode.TraitMethod, Method: voidMethod("run"), Final: true}}},
			{Name: "B", Super: "A", Traits: []opcode.TraitDef{method("run", true)}},
		}},
		{"override of nothing", []*opcode.ClassDef{{Name: "A", Traits: []opcode.TraitDef{method("run", true)}}}},
		{"duplicate member", []*opcode.ClassDef{{Name: "A", Traits: []opcode.TraitDef{
			{Name: "x", Kind: opcode.TraitSlot},
			method("x", false),
		}}}},
		{"unknown slot type", []*opcode.ClassDef{{Name: "A", Traits: []opcode.TraitDef{{Name: "x", Kind: opcode.TraitSlot, Type: "Nowhere"}}}}},
		{"method without body", []*opcode.ClassDef{{Name: "A", Traits: []opcode.TraitDef{{Name: "run", Kind: opcode.TraitMethod}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hr := newHarness(t)
			_, err := LinkClasses(hr.m, tt.defs)
			var le *value.LinkError
			if !errors.As(err, &le) {
				t.Fatalf("expected a LinkError, got %v", err)
			}
			if hr.count(vm.DiagLink) == 0 {
				t.Error("expected a link diagnostic")
			}
		})
	}
}

func TestLinkFailureIsContained(t *testing.T) {
	hr := newHarness(t)
	linked, err := LinkClasses(hr.m, []*opcode.ClassDef{
		{Name: "Broken", Super: "Missing"},
		{Name: "Fine", Traits: []opcode.TraitDef{{Name: "x", Kind: opcode.TraitSlot, Type: "int"}}},
	})
	if err == nil {
		t.Fatal("expected an error for Broken")
	}
	if len(linked) != 1 || linked[0].Name.Local != "Fine" {
		t.Fatalf("expected only Fine to link, got %v", linked)
	}
	if _, ok := hr.m.Heap().Class("Broken"); ok {
		t.Error("Broken must not be registered")
	}
	hr.construct(t, "Fine")

	// A method referring to the failed class is rejected before it runs.
	user := &opcode.Method{
		Name: "user", Dialect: opcode.DialectClass, FrameSize: 2, Script: true,
		Members: []opcode.MemberRef{{Class: "Broken", Name: "x"}},
		Code:    []opcode.Instruction{k(opcode.GetSlot, 1, 0, 0), k(opcode.CReturn, 1)},
	}
	if _, u := hr.run(user); u == nil {
		t.Error("expected the call to fail")
	}
	if hr.count(vm.DiagLink) != 2 {
		t.Errorf("expected link diagnostics for the class and the method, got %v", hr.diags)
	}
}

func TestHandlerLoopIsStopped(t *testing.T) {
	hr := newHarness(t, vm.WithBudget(vm.Budget{MaxOps: 1000}))
	m := &opcode.Method{
		Name: "rethrows", Dialect: opcode.DialectClass, FrameSize: 1, MaxStack: 1,
		Code: []opcode.Instruction{
			k(opcode.CJump, 2),
			// handler falls through into the protected throw
			k(opcode.PopTo, 0),
			k(opcode.CThrow, 0),
		},
		Exceptions: []opcode.ExceptionRange{{From: 2, To: 3, Target: 1}},
	}
	if err := Verify(m); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	done := make(chan *vm.UncaughtError, 1)
	go func() {
		_, u := hr.run(m)
		done <- u
	}()
	select {
	case u := <-done:
		if u == nil || !u.Aborted {
			t.Fatalf("expected the budget to abort the method, got %v", u)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler loop was never stopped")
	}
	if hr.count(vm.DiagBudget) != 1 {
		t.Errorf("expected one budget diagnostic, got %v", hr.diags)
	}
}

func TestConstructBindsClassAtPrepare(t *testing.T) {
	hr := newHarness(t)
	hr.link(t, shapeClasses()...)

	main := &opcode.Method{
		Name: "main", Dialect: opcode.DialectClass, FrameSize: 3, Script: true,
		Constants: []opcode.Constant{opcode.String("Shape"), opcode.String("Missing")},
		Code: []opcode.Instruction{
			k(opcode.Construct, 1, 0, 0, 0),
			k(opcode.Construct, 2, 1, 0, 0),
			k(opcode.CReturn, 1),
		},
	}
	in := New()
	if err := in.Prepare(hr.m, main); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	bound := in.classes[main]
	if c := bound[0]; c != hr.class(t, "Shape") {
		t.Errorf("expected Shape to be bound at prepare time, got %v", c)
	}
	if _, ok := bound[1]; ok {
		t.Error("expected an unknown name to be left for the scope chain")
	}
}
