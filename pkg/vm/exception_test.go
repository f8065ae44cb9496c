package vm

import (
	"errors"
	"testing"

	"github.com/zurustar/kagami/pkg/opcode"
	"github.com/zurustar/kagami/pkg/value"
)

// newUnwindActivation builds an activation over a method of n no-op
// instructions protected by ranges.
func newUnwindActivation(n int, ranges ...opcode.ExceptionRange) *Activation {
	method := &opcode.Method{
		Name:       "guarded",
		Dialect:    opcode.DialectLegacy,
		Code:       make([]opcode.Instruction, n),
		Exceptions: ranges,
	}
	return NewActivation(method, value.Undefined, value.Undefined, nil, nil)
}

func errorType(t *testing.T, h *value.Heap, v value.Value) value.ErrorType {
	t.Helper()
	o, ok := h.Object(v)
	if !ok {
		t.Fatalf("expected an error object, got %v", v)
	}
	data, ok := o.Native().(*value.ErrorData)
	if !ok {
		t.Fatalf("expected error data, got %T", o.Native())
	}
	return data.Type
}

func TestUnwindCatch(t *testing.T) {
	t.Run("restores the recorded stack depth and pushes the error", func(t *testing.T) {
		m := newTestMachine(t)
		act := newUnwindActivation(10, opcode.ExceptionRange{From: 2, To: 5, Target: 7, StackDepth: 1})
		for i := range 4 {
			act.Push(value.Int(i))
		}
		act.PC = 3

		handled, err := m.Unwind(act, value.Errorf(value.TypeError, "bad operand"))
		if !handled || err != nil {
			t.Fatalf("expected the error to be handled, got %v", err)
		}
		if act.PC != 7 {
			t.Errorf("expected pc 7, got %d", act.PC)
		}
		if len(act.Stack) != 2 {
			t.Fatalf("expected depth 1 plus the caught value, got %d", len(act.Stack))
		}
		if act.Stack[0].AsNumber() != 0 {
			t.Errorf("expected the bottom value to survive, got %v", act.Stack[0])
		}
		if typ := errorType(t, m.Heap(), act.Peek(0)); typ != value.TypeError {
			t.Errorf("expected a TypeError object, got %s", typ)
		}
	})

	t.Run("propagates outside every range", func(t *testing.T) {
		m := newTestMachine(t)
		act := newUnwindActivation(10, opcode.ExceptionRange{From: 2, To: 5, Target: 7})
		act.PC = 5
		handled, err := m.Unwind(act, value.Errorf(value.TypeError, "bad"))
		if handled {
			t.Fatal("expected no handler at pc 5")
		}
		var th *Throw
		if !errors.As(err, &th) {
			t.Fatalf("expected the error as a Throw, got %T", err)
		}
	})

	t.Run("skips handlers of other types", func(t *testing.T) {
		m := newTestMachine(t)
		act := newUnwindActivation(10,
			opcode.ExceptionRange{From: 0, To: 5, Target: 6, CatchType: "RangeError"},
			opcode.ExceptionRange{From: 0, To: 5, Target: 8, CatchType: "TypeError"},
		)
		act.PC = 1
		handled, _ := m.Unwind(act, value.Errorf(value.TypeError, "bad"))
		if !handled || act.PC != 8 {
			t.Errorf("expected the TypeError handler, got handled=%v pc=%d", handled, act.PC)
		}
	})

	t.Run("Error catches every error type", func(t *testing.T) {
		m := newTestMachine(t)
		act := newUnwindActivation(10, opcode.ExceptionRange{From: 0, To: 5, Target: 6, CatchType: "Error"})
		act.PC = 1
		handled, _ := m.Unwind(act, value.Errorf(value.RangeError, "big"))
		if !handled {
			t.Error("expected Error to catch a RangeError")
		}
	})

	t.Run("aborts and budget exhaustion are not catchable", func(t *testing.T) {
		m := newTestMachine(t)
		act := newUnwindActivation(10, opcode.ExceptionRange{From: 0, To: 10, Target: 9})
		act.PC = 1
		for _, err := range []error{&Abort{Reason: "bad"}, ErrBudgetExceeded} {
			handled, got := m.Unwind(act, err)
			if handled || got != err {
				t.Errorf("expected %v to pass through, got handled=%v err=%v", err, handled, got)
			}
		}
	})
}

func TestUnwindFinally(t *testing.T) {
	t.Run("re-raises the parked error exactly once", func(t *testing.T) {
		m := newTestMachine(t)
		act := newUnwindActivation(10, opcode.ExceptionRange{From: 1, To: 4, Target: 5, StackDepth: 0, Finally: true})
		act.Push(value.Int(1))
		act.PC = 2

		handled, err := m.Unwind(act, m.Throwf(value.GenericError, "first"))
		if !handled || err != nil {
			t.Fatalf("expected the finally block to run, got %v", err)
		}
		if act.PC != 5 || len(act.Stack) != 0 {
			t.Errorf("expected pc 5 with an empty stack, got pc=%d depth=%d", act.PC, len(act.Stack))
		}
		var th *Throw
		if err := m.EndFinally(act, 0); !errors.As(err, &th) || th.Message != "Error: first" {
			t.Fatalf("expected the parked throw, got %v", err)
		}
		if err := m.EndFinally(act, 0); err != nil {
			t.Errorf("expected nothing left to re-raise, got %v", err)
		}
	})

	t.Run("normal entry continues", func(t *testing.T) {
		m := newTestMachine(t)
		act := newUnwindActivation(10, opcode.ExceptionRange{From: 1, To: 4, Target: 5, Finally: true})
		if err := m.EndFinally(act, 0); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("a throw out of the finally body abandons the parked error", func(t *testing.T) {
		m := newTestMachine(t)
		act := newUnwindActivation(12,
			opcode.ExceptionRange{From: 2, To: 4, Target: 5, Finally: true},
			opcode.ExceptionRange{From: 0, To: 9, Target: 10},
		)
		act.PC = 3
		if handled, _ := m.Unwind(act, m.Throwf(value.GenericError, "inner")); !handled || act.PC != 5 {
			t.Fatalf("expected the finally block, got pc %d", act.PC)
		}
		act.PC = 6
		if handled, _ := m.Unwind(act, m.Throwf(value.TypeError, "from finally")); !handled || act.PC != 10 {
			t.Fatalf("expected the outer catch, got pc %d", act.PC)
		}
		if err := m.EndFinally(act, 0); err != nil {
			t.Errorf("expected the inner error to be dropped, got %v", err)
		}
	})
}

func TestThrowValueRootsPending(t *testing.T) {
	m := newTestMachine(t)
	h := m.Heap()
	obj := h.NewObject()
	th := m.ThrowValue(obj)
	h.Safepoint()
	h.Arena().Collect()
	if _, ok := h.Object(th.Value); !ok {
		t.Error("thrown object was collected while the throw was in flight")
	}
}
