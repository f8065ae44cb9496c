// Package regvm interprets the class dialect: a register machine over
// classes with fixed layouts. Every method is verified and its member
// references are resolved to slot and vtable indices before it first runs,
// so the dispatch loop never looks members up by name.
package regvm

import (
	"fmt"
	"slices"

	"github.com/zurustar/kagami/pkg/opcode"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// Interpreter executes class dialect methods.
type Interpreter struct {
	members map[*opcode.Method][]binding
	// classes maps the name constant of each Construct operand that named
	// a linked class at prepare time to that class.
	classes map[*opcode.Method]map[int32]*value.Class
}

// New creates a class dialect interpreter.
func New() *Interpreter {
	return &Interpreter{
		members: make(map[*opcode.Method][]binding),
		classes: make(map[*opcode.Method]map[int32]*value.Class),
	}
}

// ID implements vm.Dialect.
func (*Interpreter) ID() opcode.Dialect {
	return opcode.DialectClass
}

// Prepare implements vm.Dialect: it verifies method and resolves its member
// references and the classes it constructs.
func (in *Interpreter) Prepare(m *vm.Machine, method *opcode.Method) error {
	if err := Verify(method); err != nil {
		return err
	}
	members := make([]binding, len(method.Members))
	for i, ref := range method.Members {
		b, err := resolveMember(m.Heap(), ref)
		if err != nil {
			return fmt.Errorf("method %s: %w", method, err)
		}
		members[i] = b
	}
	in.members[method] = members
	in.classes[method] = constructed(m.Heap(), method)
	return nil
}

// constructed binds the Construct operands of method that name a linked
// class. Other names are resolved through the scope chain when they run.
func constructed(h *value.Heap, method *opcode.Method) map[int32]*value.Class {
	var classes map[int32]*value.Class
	for _, in := range method.Code {
		if opcode.ClassOp(in.Op) != opcode.Construct {
			continue
		}
		name, ok := method.StringConstant(in.B)
		if !ok {
			continue
		}
		if c, ok := h.Class(name); ok && c.Linked() {
			if classes == nil {
				classes = make(map[int32]*value.Class)
			}
			classes[in.B] = c
		}
	}
	return classes
}

type frame struct {
	m       *vm.Machine
	h       *value.Heap
	act     *vm.Activation
	members []binding
	classes map[int32]*value.Class
	base    *vm.Scope
	scopes  int
}

// Execute implements vm.Dialect.
func (in *Interpreter) Execute(m *vm.Machine, act *vm.Activation) (value.Value, error) {
	f := &frame{m: m, h: m.Heap(), act: act, members: in.members[act.Method], classes: in.classes[act.Method]}
	if err := f.enter(); err != nil {
		return value.Undefined, err
	}
	code := act.Method.Code
	for act.PC >= 0 && act.PC < len(code) {
		next, ret, done, err := f.step(code[act.PC])
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
	return value.Undefined, nil
}

// recover moves control to a handler of err. A handler transfer is a
// budget checkpoint like a backward jump.
func (f *frame) recover(err error) error {
	for {
		handled, uerr := f.m.Unwind(f.act, err)
		if !handled {
			return uerr
		}
		f.act.Scope, f.scopes = f.base, 0
		if err = f.m.Poll(); err == nil {
			return nil
		}
	}
}

// enter places the receiver and the declared-type-checked arguments in
// their registers. Instance methods see the receiver on the scope chain.
func (f *frame) enter() error {
	act := f.act
	act.SetRegister(0, act.This)
	for i, p := range act.Method.Params {
		v, err := coerce(f.m, act.Arg(i), p.Type)
		if err != nil {
			return err
		}
		act.SetRegister(int32(i+1), v)
	}
	if act.Class != nil && act.This.IsObject() {
		act.Scope = act.Scope.Push(act.This, vm.ScopeClass)
	}
	f.base = act.Scope
	return nil
}

func (f *frame) str(i int32) string {
	s, _ := f.act.Method.StringConstant(i)
	return s
}

var binaryOps = map[opcode.ClassOp]vm.BinaryOp{
	opcode.CAdd:      vm.OpAdd,
	opcode.CSub:      vm.OpSub,
	opcode.CMul:      vm.OpMul,
	opcode.CDiv:      vm.OpDiv,
	opcode.CMod:      vm.OpMod,
	opcode.CBitAnd:   vm.OpBitAnd,
	opcode.CBitOr:    vm.OpBitOr,
	opcode.CBitXor:   vm.OpBitXor,
	opcode.CShl:      vm.OpShl,
	opcode.CShr:      vm.OpShr,
	opcode.CUShr:     vm.OpUShr,
	opcode.CEq:       vm.OpEq,
	opcode.CStrictEq: vm.OpStrictEq,
	opcode.CLt:       vm.OpLt,
	opcode.CLe:       vm.OpLe,
	opcode.CGt:       vm.OpGt,
	opcode.CGe:       vm.OpGe,
}

func (f *frame) step(in opcode.Instruction) (next int, ret value.Value, done bool, err error) {
	act, h, m := f.act, f.h, f.m
	next = act.PC + 1
	r := act.Register
	set := func(v value.Value) { act.SetRegister(in.A, v) }

	switch op := opcode.ClassOp(in.Op); op {
	case opcode.CNop:
	case opcode.LoadConst:
		v, _ := act.Constant(in.B)
		set(v)
	case opcode.Move:
		set(r(in.B))

	case opcode.CAdd, opcode.CSub, opcode.CMul, opcode.CDiv, opcode.CMod,
		opcode.CBitAnd, opcode.CBitOr, opcode.CBitXor, opcode.CShl, opcode.CShr, opcode.CUShr,
		opcode.CEq, opcode.CStrictEq, opcode.CLt, opcode.CLe, opcode.CGt, opcode.CGe:
		var v value.Value
		if v, err = vm.Binary(h, binaryOps[op], r(in.B), r(in.C)); err == nil {
			set(v)
		}
	case opcode.CNeg:
		var v value.Value
		if v, err = vm.Negate(h, r(in.B)); err == nil {
			set(v)
		}
	case opcode.CInc, opcode.CDec:
		delta := 1.0
		if op == opcode.CDec {
			delta = -1
		}
		var v value.Value
		if v, err = vm.Step(h, r(in.B), delta); err == nil {
			set(v)
		}
	case opcode.CNot:
		set(value.Bool(!h.ToBoolean(r(in.B))))

	case opcode.CJump:
		next, err = f.jump(in.A)
	case opcode.JumpIf, opcode.JumpIfNot:
		if h.ToBoolean(r(in.A)) == (op == opcode.JumpIf) {
			next, err = f.jump(in.B)
		}

	case opcode.Push:
		act.Push(r(in.A))
	case opcode.PopTo:
		set(act.Pop())

	case opcode.GetLex:
		name := f.str(in.B)
		v, found, lerr := act.Scope.Resolve(h, name)
		switch {
		case lerr != nil:
			err = lerr
		case !found:
			err = value.Errorf(value.ReferenceError, "%s is not defined", name)
		default:
			set(v)
		}
	case opcode.SetLex:
		err = act.Scope.Assign(h, f.str(in.A), r(in.B))

	case opcode.GetProp:
		var v value.Value
		if v, err = f.get(r(in.B), f.str(in.C)); err == nil {
			set(v)
		}
	case opcode.SetProp:
		err = f.put(r(in.A), f.str(in.B), r(in.C))
	case opcode.GetIndex:
		var key string
		if key, err = h.ToString(r(in.C)); err == nil {
			var v value.Value
			if v, err = f.get(r(in.B), key); err == nil {
				set(v)
			}
		}
	case opcode.SetIndex:
		var key string
		if key, err = h.ToString(r(in.B)); err == nil {
			err = f.put(r(in.A), key, r(in.C))
		}

	case opcode.GetSlot:
		var v value.Value
		if v, err = f.getSlot(r(in.B), f.members[in.C]); err == nil {
			set(v)
		}
	case opcode.SetSlot:
		err = f.setSlot(r(in.A), f.members[in.B], r(in.C))

	case opcode.CCallMethod:
		err = f.call(in, func(args []value.Value) (value.Value, error) {
			return f.callMethod(r(in.B), f.members[in.C], args)
		})
	case opcode.CallSuper:
		err = f.call(in, func(args []value.Value) (value.Value, error) {
			return f.callSuper(f.members[in.C], args)
		})
	case opcode.CallValue:
		err = f.call(in, func(args []value.Value) (value.Value, error) {
			return m.Call(r(in.B), r(in.C), args)
		})
	case opcode.CallProp:
		err = f.call(in, func(args []value.Value) (value.Value, error) {
			recv := r(in.B)
			fn, err := f.get(recv, f.str(in.C))
			if err != nil {
				return value.Undefined, err
			}
			return m.Call(fn, recv, args)
		})
	case opcode.Construct:
		err = f.call(in, func(args []value.Value) (value.Value, error) {
			return f.construct(in.B, args)
		})

	case opcode.CNewObject:
		err = f.newObject(in)
	case opcode.NewArray:
		n := int(in.D)
		set(h.NewArray(slices.Clone(act.Top(n))))
		act.Drop(n)
	case opcode.NewFunction:
		set(m.NewFunction(act.Method.Functions[in.B], act.Scope))

	case opcode.Coerce:
		var v value.Value
		if v, err = coerce(m, r(in.B), f.str(in.C)); err == nil {
			set(v)
		}
	case opcode.AsType:
		var v value.Value
		if v, err = asType(m, r(in.B), f.str(in.C)); err == nil {
			set(v)
		}
	case opcode.IsType:
		var ok bool
		if ok, err = isType(m, r(in.B), f.str(in.C)); err == nil {
			set(value.Bool(ok))
		}
	case opcode.CTypeOf:
		set(value.String(h.TypeOf(r(in.B))))
	case opcode.CInstanceOf:
		var ok bool
		if ok, err = h.InstanceOf(r(in.B), r(in.C)); err == nil {
			set(value.Bool(ok))
		}

	case opcode.PushScope:
		act.Scope = act.Scope.Push(r(in.A), vm.ScopeWith)
		f.scopes++
	case opcode.PopScope:
		if f.scopes > 0 {
			act.Scope = act.Scope.Parent()
			f.scopes--
		}

	case opcode.CThrow:
		err = m.ThrowValue(r(in.A))
	case opcode.CReturn:
		ret, err = f.result(r(in.A))
		return next, ret, err == nil, err
	case opcode.ReturnVoid:
		return next, value.Undefined, true, nil
	case opcode.CEndFinally:
		err = m.EndFinally(act, int(in.A))

	default:
		// Unreachable for verified methods.
		err = m.Abortf(vm.DiagUnsupportedOpcode, act, "unsupported opcode %s", op)
	}
	return next, ret, false, err
}

func (f *frame) jump(target int32) (int, error) {
	if int(target) <= f.act.PC {
		if err := f.m.Poll(); err != nil {
			return 0, err
		}
	}
	return int(target), nil
}

// call runs fn with the D topmost stack values as arguments and stores the
// result in register A. The arguments stay on the stack until fn returns.
func (f *frame) call(in opcode.Instruction, fn func(args []value.Value) (value.Value, error)) error {
	n := int(in.D)
	v, err := fn(slices.Clone(f.act.Top(n)))
	if err != nil {
		return err
	}
	f.act.Drop(n)
	f.act.SetRegister(in.A, v)
	return nil
}

// result applies the declared return type.
func (f *frame) result(v value.Value) (value.Value, error) {
	return coerce(f.m, v, f.act.Method.ReturnType)
}

func (f *frame) get(recv value.Value, name string) (value.Value, error) {
	if recv.IsNullish() {
		return value.Undefined, value.Errorf(value.TypeError, "cannot read property %s of %s", name, recv)
	}
	return f.h.GetProperty(recv, name)
}

func (f *frame) put(recv value.Value, name string, v value.Value) error {
	if recv.IsNullish() {
		return value.Errorf(value.TypeError, "cannot set property %s of %s", name, recv)
	}
	return f.h.SetProperty(recv, name, v)
}

// instance checks that recv is an instance of the class b was resolved
// against and returns its class.
func (f *frame) instance(recv value.Value, b binding) (*value.Class, error) {
	o, ok := f.h.Object(recv)
	if !ok {
		return nil, value.Errorf(value.TypeError, "cannot access %s of %s", b.ref.Name, recv)
	}
	c := o.Class()
	if c == nil || !c.IsSubclassOf(b.class) {
		return nil, value.Errorf(value.TypeError, "%s is not an instance of %s", f.h.TypeOf(recv), b.class.Name)
	}
	return c, nil
}

func (f *frame) getSlot(recv value.Value, b binding) (value.Value, error) {
	c, err := f.instance(recv, b)
	if err != nil {
		return value.Undefined, err
	}
	switch b.kind {
	case memberSlot, memberConst:
		return f.h.GetSlot(recv, b.index)
	case memberGetter:
		return f.m.Call(c.Binding(b.index).Method, recv, nil)
	case memberMethod:
		return c.Binding(b.index).Method, nil
	default:
		return value.Undefined, value.Errorf(value.ReferenceError, "property %s is write-only", b.ref.Name)
	}
}

func (f *frame) setSlot(recv value.Value, b binding, v value.Value) error {
	c, err := f.instance(recv, b)
	if err != nil {
		return err
	}
	switch b.kind {
	case memberConst:
		if !f.inConstructor() {
			return value.Errorf(value.ReferenceError, "cannot assign to const %s", b.ref.Name)
		}
		fallthrough
	case memberSlot:
		if v, err = coerce(f.m, v, b.class.SlotTrait(b.index).Type); err != nil {
			return err
		}
		return f.h.SetSlot(recv, b.index, v)
	case memberGetter, memberSetter:
		if b.setter < 0 {
			return value.Errorf(value.ReferenceError, "property %s is read-only", b.ref.Name)
		}
		_, err := f.m.Call(c.Binding(b.setter).Method, recv, []value.Value{v})
		return err
	default:
		return value.Errorf(value.ReferenceError, "cannot assign to method %s", b.ref.Name)
	}
}

// inConstructor reports whether the running method is its class's
// constructor, the only place consts may be assigned.
func (f *frame) inConstructor() bool {
	c := f.act.Class
	if c == nil {
		return false
	}
	fn, ok := f.m.AsFunction(c.Constructor)
	return ok && fn.Method == f.act.Method
}

// callMethod dispatches through the receiver's vtable.
func (f *frame) callMethod(recv value.Value, b binding, args []value.Value) (value.Value, error) {
	c, err := f.instance(recv, b)
	if err != nil {
		return value.Undefined, err
	}
	if b.kind != memberMethod {
		return value.Undefined, value.Errorf(value.TypeError, "%s is not a method", b.ref.Name)
	}
	return f.m.Call(c.Binding(b.index).Method, recv, args)
}

// callSuper calls the superclass implementation on the receiver, or the
// superclass constructor for a constructor reference.
func (f *frame) callSuper(b binding, args []value.Value) (value.Value, error) {
	this := f.act.This
	switch b.kind {
	case memberConstructor:
		return value.Undefined, initialize(f.m, b.class, this, args)
	case memberMethod:
		return f.m.Call(b.class.Binding(b.index).Method, this, args)
	default:
		return value.Undefined, value.Errorf(value.TypeError, "%s is not a method", b.ref.Name)
	}
}

// construct instantiates the class bound at prepare time, or any
// constructor visible in scope under the name constant i.
func (f *frame) construct(i int32, args []value.Value) (value.Value, error) {
	if c, ok := f.classes[i]; ok {
		return f.m.Construct(value.FromRef(c.Object), args)
	}
	name := f.str(i)
	if c, ok := f.h.Class(name); ok {
		return f.m.Construct(value.FromRef(c.Object), args)
	}
	ctor, found, err := f.act.Scope.Resolve(f.h, name)
	if err != nil {
		return value.Undefined, err
	}
	if !found {
		return value.Undefined, value.Errorf(value.ReferenceError, "%s is not defined", name)
	}
	return f.m.Construct(ctor, args)
}

// newObject builds an object from D (name, value) pairs. The object is
// stored in register A first so it stays rooted while names convert.
func (f *frame) newObject(in opcode.Instruction) error {
	n := int(in.D)
	obj := f.h.NewObject()
	f.act.SetRegister(in.A, obj)
	pairs := f.act.Top(2 * n)
	for i := range n {
		name, err := f.h.ToString(pairs[2*i])
		if err != nil {
			return err
		}
		if err := f.h.SetProperty(obj, name, pairs[2*i+1]); err != nil {
			return err
		}
	}
	f.act.Drop(2 * n)
	return nil
}
