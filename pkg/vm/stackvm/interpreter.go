// Package stackvm interprets the legacy dialect: an untyped stack machine
// running against prototype objects and a dynamic scope chain.
//
// Operands stay on the operand stack until the instruction consuming them
// has finished, so every value an instruction is working on remains rooted
// while nested calls run and the collector steps.
package stackvm

import (
	"fmt"
	"slices"

	"github.com/zurustar/kagami/pkg/opcode"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// DefaultRegisters is the register count of methods declaring no frame.
const DefaultRegisters = 4

// Interpreter executes legacy dialect methods.
type Interpreter struct{}

// New creates a legacy interpreter.
func New() *Interpreter {
	return &Interpreter{}
}

// ID implements vm.Dialect.
func (*Interpreter) ID() opcode.Dialect {
	return opcode.DialectLegacy
}

// Prepare implements vm.Dialect. Legacy code is not verified; a malformed
// instruction aborts the call that reaches it. Only the declared frame and
// the exception table are checked.
func (*Interpreter) Prepare(m *vm.Machine, method *opcode.Method) error {
	if method.Dialect != opcode.DialectLegacy {
		return fmt.Errorf("method %s is not a legacy method", method)
	}
	return method.CheckFrame()
}

// Execute implements vm.Dialect.
func (in *Interpreter) Execute(m *vm.Machine, act *vm.Activation) (value.Value, error) {
	f := &frame{m: m, h: m.Heap(), act: act, code: act.Method.Code}
	f.enter()
	for {
		f.leaveWith()
		if act.PC < 0 || act.PC >= len(f.code) {
			return value.Undefined, nil
		}
		next, ret, done, err := f.step(f.code[act.PC])
		if err != nil {
			if err := f.recover(err); err != nil {
				return value.Undefined, err
			}
			continue
		}
		if done {
			return ret, nil
		}
		act.PC = next
	}
}

// withBlock is a scope object pushed by With for the instructions
// [from, to).
type withBlock struct {
	from, to int
	outer    *vm.Scope
}

// frame is the interpreter state of one activation.
type frame struct {
	m     *vm.Machine
	h     *value.Heap
	act   *vm.Activation
	code  []opcode.Instruction
	withs []withBlock
}

// enter binds parameters. Functions get a fresh activation object on the
// scope chain; scripts run directly in their target's scope.
func (f *frame) enter() {
	act := f.act
	if len(act.Registers) == 0 {
		act.Registers = make([]value.Value, DefaultRegisters)
	}
	if act.Method.Script {
		return
	}
	local := f.h.New(value.Null, nil)
	act.Scope = act.Scope.Push(local, vm.ScopeLocal)
	for i, p := range act.Method.Params {
		arg := act.Arg(i)
		if p.InRegister {
			act.SetRegister(int32(p.Register), arg)
			continue
		}
		f.h.DefineProperty(local, p.Name, arg, 0)
	}
	f.h.DefineProperty(local, "arguments", f.h.NewArray(slices.Clone(act.Args)), value.DontEnum)
}

// leaveWith pops with-blocks whose range no longer holds the pc.
func (f *frame) leaveWith() {
	for n := len(f.withs); n > 0; n = len(f.withs) {
		w := f.withs[n-1]
		if f.act.PC >= w.from && f.act.PC < w.to {
			return
		}
		f.act.Scope = w.outer
		f.withs = f.withs[:n-1]
	}
}

// recover moves control to a handler of err. A handler transfer is a
// budget checkpoint like a backward jump.
func (f *frame) recover(err error) error {
	for {
		handled, uerr := f.m.Unwind(f.act, err)
		if !handled {
			return uerr
		}
		if err = f.m.Poll(); err == nil {
			return nil
		}
	}
}

func (f *frame) malformed(format string, args ...any) error {
	return f.m.Abortf(vm.DiagMalformed, f.act, format, args...)
}

// step executes one instruction. It returns the next pc, or the return
// value with done set. The pc is left untouched when err is non-nil so
// unwinding sees the faulting instruction.
func (f *frame) step(in opcode.Instruction) (next int, ret value.Value, done bool, err error) {
	act, h := f.act, f.h
	next = act.PC + 1

	switch op := opcode.LegacyOp(in.Op); op {
	case opcode.Nop:

	case opcode.PushConst:
		v, ok := act.Constant(in.A)
		if !ok {
			return next, ret, false, f.malformed("constant index %d out of range", in.A)
		}
		act.Push(v)
	case opcode.PushUndefined:
		act.Push(value.Undefined)
	case opcode.PushNull:
		act.Push(value.Null)
	case opcode.PushTrue:
		act.Push(value.True)
	case opcode.PushFalse:
		act.Push(value.False)
	case opcode.PushRegister:
		if in.A < 0 || int(in.A) >= len(act.Registers) {
			return next, ret, false, f.malformed("register %d out of range", in.A)
		}
		act.Push(act.Register(in.A))
	case opcode.StoreRegister:
		if !act.SetRegister(in.A, act.Peek(0)) {
			return next, ret, false, f.malformed("register %d out of range", in.A)
		}
	case opcode.PushThis:
		act.Push(act.This)

	case opcode.Pop:
		act.Drop(1)
	case opcode.Dup:
		act.Push(act.Peek(0))
	case opcode.Swap:
		a, b := act.Peek(1), act.Peek(0)
		act.Drop(2)
		act.Push(b)
		act.Push(a)

	case opcode.Add:
		err = f.binary(vm.OpAdd)
	case opcode.Subtract:
		err = f.binary(vm.OpSub)
	case opcode.Multiply:
		err = f.binary(vm.OpMul)
	case opcode.Divide:
		err = f.binary(vm.OpDiv)
	case opcode.Modulo:
		err = f.binary(vm.OpMod)
	case opcode.Equals:
		err = f.binary(vm.OpEq)
	case opcode.StrictEquals:
		err = f.binary(vm.OpStrictEq)
	case opcode.Less:
		err = f.binary(vm.OpLt)
	case opcode.Greater:
		err = f.binary(vm.OpGt)
	case opcode.BitAnd:
		err = f.binary(vm.OpBitAnd)
	case opcode.BitOr:
		err = f.binary(vm.OpBitOr)
	case opcode.BitXor:
		err = f.binary(vm.OpBitXor)
	case opcode.ShiftLeft:
		err = f.binary(vm.OpShl)
	case opcode.ShiftRight:
		err = f.binary(vm.OpShr)
	case opcode.ShiftRightUnsigned:
		err = f.binary(vm.OpUShr)

	case opcode.Negate:
		err = f.unary(func(v value.Value) (value.Value, error) { return vm.Negate(h, v) })
	case opcode.Increment:
		err = f.unary(func(v value.Value) (value.Value, error) { return vm.Step(h, v, 1) })
	case opcode.Decrement:
		err = f.unary(func(v value.Value) (value.Value, error) { return vm.Step(h, v, -1) })
	case opcode.Not:
		err = f.unary(func(v value.Value) (value.Value, error) { return value.Bool(!h.ToBoolean(v)), nil })
	case opcode.ToNumber:
		err = f.unary(func(v value.Value) (value.Value, error) {
			n, err := h.ToNumber(v)
			return value.Number(n), err
		})
	case opcode.ToString:
		err = f.unary(func(v value.Value) (value.Value, error) {
			s, err := h.ToString(v)
			return value.String(s), err
		})
	case opcode.StringLength:
		err = f.unary(func(v value.Value) (value.Value, error) {
			s, err := h.ToString(v)
			return value.Int(len([]rune(s))), err
		})
	case opcode.TypeOf:
		err = f.unary(func(v value.Value) (value.Value, error) { return value.String(h.TypeOf(v)), nil })
	case opcode.StringAdd:
		a, b := act.Peek(1), act.Peek(0)
		var sa, sb string
		if sa, err = h.ToString(a); err == nil {
			if sb, err = h.ToString(b); err == nil {
				act.Drop(2)
				act.Push(value.String(sa + sb))
			}
		}
	case opcode.InstanceOf:
		obj, ctor := act.Peek(1), act.Peek(0)
		var ok bool
		if ok, err = h.InstanceOf(obj, ctor); err == nil {
			act.Drop(2)
			act.Push(value.Bool(ok))
		}

	case opcode.GetVariable:
		err = f.getVariable()
	case opcode.SetVariable:
		err = f.setVariable()
	case opcode.DefineLocal:
		var name string
		if name, err = h.ToString(act.Peek(1)); err == nil {
			h.DefineProperty(act.Scope.Local(h), name, act.Peek(0), 0)
			act.Drop(2)
		}
	case opcode.DeleteVariable:
		var name string
		if name, err = h.ToString(act.Peek(0)); err == nil {
			ok := act.Scope.Delete(h, name)
			act.Drop(1)
			act.Push(value.Bool(ok))
		}

	case opcode.GetMember:
		err = f.getMember()
	case opcode.SetMember:
		err = f.setMember()
	case opcode.DeleteMember:
		obj := act.Peek(1)
		var name string
		if name, err = h.ToString(act.Peek(0)); err == nil {
			ok := h.DeleteProperty(obj, name)
			act.Drop(2)
			act.Push(value.Bool(ok))
		}

	case opcode.InitObject:
		err = f.initObject()
	case opcode.InitArray:
		err = f.initArray()
	case opcode.DefineFunction:
		err = f.defineFunction(in.A)

	case opcode.CallFunction:
		err = f.callFunction()
	case opcode.CallMethod:
		err = f.callMethod()
	case opcode.NewObject:
		err = f.newObject()
	case opcode.NewMethod:
		err = f.newMethod()
	case opcode.Return:
		return next, act.Peek(0), true, nil

	case opcode.Jump:
		next, err = f.jump(in.A)
	case opcode.If:
		cond := h.ToBoolean(act.Peek(0))
		act.Drop(1)
		if cond {
			next, err = f.jump(in.A)
		}

	case opcode.Throw:
		err = f.m.ThrowValue(act.Peek(0))
	case opcode.EndFinally:
		err = f.m.EndFinally(act, int(in.A))

	case opcode.Enumerate:
		names := h.Enumerate(act.Peek(0))
		act.Drop(1)
		act.Push(value.Null)
		for _, n := range names {
			act.Push(value.String(n))
		}
	case opcode.With:
		err = f.with(in.A)
	case opcode.Trace:
		var s string
		if s, err = h.ToString(act.Peek(0)); err == nil {
			f.m.Trace(s)
			act.Drop(1)
		}

	default:
		err = f.m.Abortf(vm.DiagUnsupportedOpcode, act, "unsupported opcode %s", op)
	}
	return next, ret, false, err
}

// binary applies op to the top two values.
func (f *frame) binary(op vm.BinaryOp) error {
	a, b := f.act.Peek(1), f.act.Peek(0)
	r, err := vm.Binary(f.h, op, a, b)
	if err != nil {
		return err
	}
	f.act.Drop(2)
	f.act.Push(r)
	return nil
}

// unary replaces the top value with fn of it.
func (f *frame) unary(fn func(value.Value) (value.Value, error)) error {
	r, err := fn(f.act.Peek(0))
	if err != nil {
		return err
	}
	f.act.Drop(1)
	f.act.Push(r)
	return nil
}

// jump validates a branch target and polls the budget on backward
// branches.
func (f *frame) jump(target int32) (int, error) {
	if target < 0 || int(target) > len(f.code) {
		return 0, f.malformed("jump target %d out of range", target)
	}
	if int(target) <= f.act.PC {
		if err := f.m.Poll(); err != nil {
			return 0, err
		}
	}
	return int(target), nil
}

func (f *frame) with(end int32) error {
	if int(end) <= f.act.PC || int(end) > len(f.code) {
		return f.malformed("with block end %d out of range", end)
	}
	obj := f.act.Peek(0)
	f.withs = append(f.withs, withBlock{from: f.act.PC + 1, to: int(end), outer: f.act.Scope})
	f.act.Scope = f.act.Scope.Push(obj, vm.ScopeWith)
	f.act.Drop(1)
	return nil
}

func (f *frame) defineFunction(index int32) error {
	fns := f.act.Method.Functions
	if index < 0 || int(index) >= len(fns) || fns[index] == nil {
		return f.malformed("function index %d out of range", index)
	}
	sub := fns[index]
	fn := f.m.NewFunction(sub, f.act.Scope)
	if sub.Name == "" {
		f.act.Push(fn)
		return nil
	}
	f.h.DefineProperty(f.act.Scope.Local(f.h), sub.Name, fn, 0)
	return nil
}
