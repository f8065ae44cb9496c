package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zurustar/kagami/pkg/opcode"
	"github.com/zurustar/kagami/pkg/value"
)

// Throw is a script-visible thrown value travelling up the Go call stack.
type Throw struct {
	Value   value.Value
	Message string
	Stack   []string
}

func (t *Throw) Error() string {
	return t.Message
}

// Abort is a fail-soft failure caused by malformed input: the offending call
// is abandoned and its caller continues with undefined.
type Abort struct {
	Method string
	PC     int
	Reason string
}

func (a *Abort) Error() string {
	return fmt.Sprintf("aborted %s at %d: %s", a.Method, a.PC, a.Reason)
}

// ErrBudgetExceeded is returned when a script exhausts its execution budget
// under the abort policy. It unwinds every frame of the entry point.
var ErrBudgetExceeded = errors.New("execution budget exceeded")

// UncaughtError is a script error that escaped the outermost activation.
type UncaughtError struct {
	Message string
	Stack   []string
	Value   value.Value
	// Aborted is set when the entry point was stopped by the budget or by
	// an internal failure rather than by a script throw.
	Aborted bool
}

func (e *UncaughtError) Error() string {
	if len(e.Stack) == 0 {
		return e.Message
	}
	return e.Message + "\n\tat " + strings.Join(e.Stack, "\n\tat ")
}

// Throwf builds a Throw of a fresh error object.
func (m *Machine) Throwf(t value.ErrorType, format string, args ...any) *Throw {
	return m.toThrow(value.Errorf(t, format, args...))
}

// ThrowValue builds a Throw of an arbitrary value.
func (m *Machine) ThrowValue(v value.Value) *Throw {
	msg, err := m.heap.ToString(v)
	if err != nil {
		msg = v.String()
	}
	m.pending = v
	return &Throw{Value: v, Message: msg, Stack: m.StackTrace()}
}

// toThrow converts a catchable error into a Throw. It reports nil for errors
// scripts cannot catch.
func (m *Machine) toThrow(err error) *Throw {
	var t *Throw
	if errors.As(err, &t) {
		return t
	}
	var se *value.ScriptError
	if !errors.As(err, &se) {
		return nil
	}
	stack := m.StackTrace()
	ev := m.heap.NewError(se.Type, se.Message)
	if o, ok := m.heap.Object(ev); ok {
		if data, ok := o.Native().(*value.ErrorData); ok {
			data.Stack = stack
		}
	}
	m.pending = ev
	return &Throw{Value: ev, Message: se.Error(), Stack: stack}
}

// Catchable reports whether err can be intercepted by an exception handler.
func Catchable(err error) bool {
	var t *Throw
	var se *value.ScriptError
	return errors.As(err, &t) || errors.As(err, &se)
}

// Unwind looks for a handler of err in act at act.PC. On success the
// operand stack is reset to the handler's depth, the thrown value is pushed
// for a catch handler, the pending error is parked for a finally handler,
// and act.PC is the handler target. Otherwise err is returned, converted to
// a Throw when catchable, for the caller's activation to try.
func (m *Machine) Unwind(act *Activation, err error) (bool, error) {
	t := m.toThrow(err)
	if t == nil {
		return false, err
	}
	for i, r := range act.Method.Exceptions {
		if !r.Contains(act.PC) {
			continue
		}
		if !r.Finally && r.CatchType != "" && !m.catchMatches(t.Value, r.CatchType) {
			continue
		}
		act.abandonFinally(r)
		act.Truncate(r.StackDepth)
		if r.Finally {
			act.finally = append(act.finally, finallyEntry{rangeIndex: i, target: r.Target, err: t})
		} else {
			act.Push(t.Value)
		}
		act.PC = r.Target
		return true, nil
	}
	return false, t
}

// abandonFinally drops parked errors of finally blocks that lie inside the
// protected region control is leaving.
func (a *Activation) abandonFinally(r opcode.ExceptionRange) {
	kept := a.finally[:0]
	for _, f := range a.finally {
		if f.target >= r.From && f.target < r.To {
			continue
		}
		kept = append(kept, f)
	}
	a.finally = kept
}

// EndFinally finishes the finally block of exception range index. It
// returns the parked error to re-raise, or nil when the block was entered
// normally.
func (m *Machine) EndFinally(act *Activation, index int) error {
	for i := len(act.finally) - 1; i >= 0; i-- {
		if act.finally[i].rangeIndex == index {
			err := act.finally[i].err
			act.finally = act.finally[:i]
			return err
		}
	}
	return nil
}

func (m *Machine) catchMatches(v value.Value, typeName string) bool {
	if typeName == value.AnyName {
		return true
	}
	if c, ok := m.heap.Class(typeName); ok {
		o, ok := m.heap.Object(v)
		return ok && o.Class() != nil && o.Class().IsSubclassOf(c)
	}
	if o, ok := m.heap.Object(v); ok {
		if data, ok := o.Native().(*value.ErrorData); ok {
			return string(data.Type) == typeName || typeName == string(value.GenericError)
		}
	}
	ctor, err := m.heap.GetProperty(m.heap.Global(), typeName)
	if err != nil || !ctor.IsObject() {
		return false
	}
	ok, _ := m.heap.InstanceOf(v, ctor)
	return ok
}

// uncaught converts an error escaping an entry point.
func (m *Machine) uncaught(err error) *UncaughtError {
	if t := m.toThrow(err); t != nil {
		return &UncaughtError{Message: t.Message, Stack: t.Stack, Value: t.Value}
	}
	return &UncaughtError{Message: err.Error(), Aborted: true}
}
