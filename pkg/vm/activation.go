package vm

import (
	"fmt"

	"github.com/zurustar/kagami/pkg/gc"
	"github.com/zurustar/kagami/pkg/opcode"
	"github.com/zurustar/kagami/pkg/value"
)

// finallyEntry is an error parked while a finally block runs.
type finallyEntry struct {
	rangeIndex int
	target     int
	err        error
}

// Activation is the record of one call: registers, operand stack, scope
// chain, receiver and program counter. Every value it holds is a root while
// the activation is on the machine's stack.
type Activation struct {
	Method    *opcode.Method
	Callee    value.Value
	This      value.Value
	Args      []value.Value
	Registers []value.Value
	Stack     []value.Value
	Scope     *Scope

	// Class is the class owning the running method, for super calls.
	Class *value.Class

	// PC is the index of the instruction being executed.
	PC int

	finally []finallyEntry
	native  string
}

// NewActivation creates the record for a call of m.
func NewActivation(m *opcode.Method, callee, this value.Value, args []value.Value, scope *Scope) *Activation {
	return &Activation{
		Method:    m,
		Callee:    callee,
		This:      this,
		Args:      args,
		Registers: make([]value.Value, m.FrameSize),
		Stack:     make([]value.Value, 0, max(m.MaxStack, 8)),
		Scope:     scope,
	}
}

// Name returns a printable name for stack traces.
func (a *Activation) Name() string {
	if a.Method == nil {
		return a.native
	}
	if a.Method.Name == "" {
		return "<anonymous>"
	}
	return a.Method.Name
}

// Push pushes v onto the operand stack.
func (a *Activation) Push(v value.Value) {
	a.Stack = append(a.Stack, v)
}

// Pop removes the top of the operand stack. An empty stack yields
// undefined.
func (a *Activation) Pop() value.Value {
	n := len(a.Stack)
	if n == 0 {
		return value.Undefined
	}
	v := a.Stack[n-1]
	a.Stack[n-1] = value.Undefined
	a.Stack = a.Stack[:n-1]
	return v
}

// Peek returns the value i positions below the top without removing it.
func (a *Activation) Peek(i int) value.Value {
	n := len(a.Stack)
	if i < 0 || i >= n {
		return value.Undefined
	}
	return a.Stack[n-1-i]
}

// Drop discards the top n values.
func (a *Activation) Drop(n int) {
	n = min(n, len(a.Stack))
	clear(a.Stack[len(a.Stack)-n:])
	a.Stack = a.Stack[:len(a.Stack)-n]
}

// Top returns the top n values in push order without removing them.
func (a *Activation) Top(n int) []value.Value {
	n = min(max(n, 0), len(a.Stack))
	return a.Stack[len(a.Stack)-n:]
}

// Truncate resets the operand stack to depth.
func (a *Activation) Truncate(depth int) {
	if depth < 0 {
		depth = 0
	}
	if depth < len(a.Stack) {
		clear(a.Stack[depth:])
		a.Stack = a.Stack[:depth]
		return
	}
	for len(a.Stack) < depth {
		a.Stack = append(a.Stack, value.Undefined)
	}
}

// Register returns register i, or undefined when out of range.
func (a *Activation) Register(i int32) value.Value {
	if i < 0 || int(i) >= len(a.Registers) {
		return value.Undefined
	}
	return a.Registers[i]
}

// SetRegister stores v in register i. It reports false when i is out of
// range.
func (a *Activation) SetRegister(i int32, v value.Value) bool {
	if i < 0 || int(i) >= len(a.Registers) {
		return false
	}
	a.Registers[i] = v
	return true
}

// Constant returns constant i of the running method as a value.
func (a *Activation) Constant(i int32) (value.Value, bool) {
	c, ok := a.Method.Constant(i)
	if !ok {
		return value.Undefined, false
	}
	return ConstValue(c), true
}

// ConstValue converts a constant pool entry to a value.
func ConstValue(c opcode.Constant) value.Value {
	switch c.Kind {
	case opcode.ConstNull:
		return value.Null
	case opcode.ConstBool:
		return value.Bool(c.Bool)
	case opcode.ConstNumber:
		return value.Number(c.Num)
	case opcode.ConstString:
		return value.String(c.Str)
	default:
		return value.Undefined
	}
}

// Arg returns argument i, or undefined.
func (a *Activation) Arg(i int) value.Value {
	if i < 0 || i >= len(a.Args) {
		return value.Undefined
	}
	return a.Args[i]
}

// Trace reports every value held by the activation.
func (a *Activation) Trace(m gc.Marker) {
	a.Callee.Mark(m)
	a.This.Mark(m)
	for _, v := range a.Args {
		v.Mark(m)
	}
	for _, v := range a.Registers {
		v.Mark(m)
	}
	for _, v := range a.Stack {
		v.Mark(m)
	}
	a.Scope.Mark(m)
	for _, f := range a.finally {
		if t, ok := f.err.(*Throw); ok {
			t.Value.Mark(m)
		}
	}
}

func (a *Activation) String() string {
	return fmt.Sprintf("%s@%d", a.Name(), a.PC)
}
