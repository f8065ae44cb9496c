package regvm

import (
	"fmt"

	"github.com/zurustar/kagami/pkg/opcode"
)

// VerifyError reports a method rejected before its first execution.
type VerifyError struct {
	Method string
	PC     int
	Reason string
}

func (e *VerifyError) Error() string {
	if e.PC < 0 {
		return fmt.Sprintf("verify %s: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("verify %s at %d: %s", e.Method, e.PC, e.Reason)
}

// operand is the role of an instruction operand.
type operand uint8

const (
	none operand = iota
	reg
	konst
	name
	member
	target
	count
	function
	finallyRange
)

// flow is how control leaves an instruction.
type flow uint8

const (
	fallThrough flow = iota
	jump             // unconditional branch to A
	branch           // branch to B or fall through
	stop             // return or throw
)

// shape describes the operands and stack effect of an op. popN operands
// are removed per unit of the count operand D.
type shape struct {
	a, b, c, d operand
	pop, push  int
	popN       int
	flow       flow
}

var shapes = [...]shape{
	opcode.CNop:      {},
	opcode.LoadConst: {a: reg, b: konst},
	opcode.Move:      {a: reg, b: reg},

	opcode.CAdd:      {a: reg, b: reg, c: reg},
	opcode.CSub:      {a: reg, b: reg, c: reg},
	opcode.CMul:      {a: reg, b: reg, c: reg},
	opcode.CDiv:      {a: reg, b: reg, c: reg},
	opcode.CMod:      {a: reg, b: reg, c: reg},
	opcode.CBitAnd:   {a: reg, b: reg, c: reg},
	opcode.CBitOr:    {a: reg, b: reg, c: reg},
	opcode.CBitXor:   {a: reg, b: reg, c: reg},
	opcode.CShl:      {a: reg, b: reg, c: reg},
	opcode.CShr:      {a: reg, b: reg, c: reg},
	opcode.CUShr:     {a: reg, b: reg, c: reg},
	opcode.CNeg:      {a: reg, b: reg},
	opcode.CNot:      {a: reg, b: reg},
	opcode.CInc:      {a: reg, b: reg},
	opcode.CDec:      {a: reg, b: reg},
	opcode.CEq:       {a: reg, b: reg, c: reg},
	opcode.CStrictEq: {a: reg, b: reg, c: reg},
	opcode.CLt:       {a: reg, b: reg, c: reg},
	opcode.CLe:       {a: reg, b: reg, c: reg},
	opcode.CGt:       {a: reg, b: reg, c: reg},
	opcode.CGe:       {a: reg, b: reg, c: reg},

	opcode.CJump:     {a: target, flow: jump},
	opcode.JumpIf:    {a: reg, b: target, flow: branch},
	opcode.JumpIfNot: {a: reg, b: target, flow: branch},

	opcode.Push:  {a: reg, push: 1},
	opcode.PopTo: {a: reg, pop: 1},

	opcode.GetLex:   {a: reg, b: name},
	opcode.SetLex:   {a: name, b: reg},
	opcode.GetProp:  {a: reg, b: reg, c: name},
	opcode.SetProp:  {a: reg, b: name, c: reg},
	opcode.GetIndex: {a: reg, b: reg, c: reg},
	opcode.SetIndex: {a: reg, b: reg, c: reg},
	opcode.GetSlot:  {a: reg, b: reg, c: member},
	opcode.SetSlot:  {a: reg, b: member, c: reg},

	opcode.CCallMethod: {a: reg, b: reg, c: member, d: count, popN: 1},
	opcode.CallSuper:   {a: reg, c: member, d: count, popN: 1},
	opcode.CallValue:   {a: reg, b: reg, c: reg, d: count, popN: 1},
	opcode.CallProp:    {a: reg, b: reg, c: name, d: count, popN: 1},
	opcode.Construct:   {a: reg, b: name, d: count, popN: 1},

	opcode.CNewObject:  {a: reg, d: count, popN: 2},
	opcode.NewArray:    {a: reg, d: count, popN: 1},
	opcode.NewFunction: {a: reg, b: function},

	opcode.Coerce:      {a: reg, b: reg, c: name},
	opcode.AsType:      {a: reg, b: reg, c: name},
	opcode.IsType:      {a: reg, b: reg, c: name},
	opcode.CTypeOf:     {a: reg, b: reg},
	opcode.CInstanceOf: {a: reg, b: reg, c: reg},

	opcode.PushScope: {a: reg},
	opcode.PopScope:  {},

	opcode.CThrow:      {a: reg, flow: stop},
	opcode.CReturn:     {a: reg, flow: stop},
	opcode.ReturnVoid:  {flow: stop},
	opcode.CEndFinally: {a: finallyRange},
}

type verifier struct {
	m     *opcode.Method
	depth []int
	work  []int
}

// Verify checks a class dialect method: operands, branch targets, exception
// ranges and the operand stack depth along every path.
func Verify(m *opcode.Method) error {
	v := &verifier{m: m}
	return v.run()
}

func (v *verifier) fail(pc int, format string, args ...any) error {
	return &VerifyError{Method: v.m.String(), PC: pc, Reason: fmt.Sprintf(format, args...)}
}

func (v *verifier) run() error {
	m := v.m
	if m.Dialect != opcode.DialectClass {
		return v.fail(-1, "dialect %s is not the class dialect", m.Dialect)
	}
	if len(m.Code) == 0 {
		return v.fail(-1, "empty method")
	}
	if m.FrameSize < len(m.Params)+1 {
		return v.fail(-1, "frame size %d cannot hold the receiver and %d parameters", m.FrameSize, len(m.Params))
	}
	if m.MaxStack < 0 {
		return v.fail(-1, "negative max stack %d", m.MaxStack)
	}
	if m.FrameSize > opcode.MaxFrameSize || m.MaxStack > opcode.MaxStackSize {
		return v.fail(-1, "frame of %d registers and %d stack slots exceeds the limit", m.FrameSize, m.MaxStack)
	}
	for pc, in := range m.Code {
		if err := v.operands(pc, in); err != nil {
			return err
		}
	}
	if err := v.ranges(); err != nil {
		return err
	}
	return v.dataflow()
}

func (v *verifier) operands(pc int, in opcode.Instruction) error {
	op := opcode.ClassOp(in.Op)
	if !op.Valid() {
		return v.fail(pc, "unknown opcode 0x%02x", in.Op)
	}
	sh := shapes[op]
	for i, x := range [...]struct {
		kind operand
		val  int32
	}{{sh.a, in.A}, {sh.b, in.B}, {sh.c, in.C}, {sh.d, in.D}} {
		if err := v.operand(pc, op, "ABCD"[i], x.kind, x.val); err != nil {
			return err
		}
	}
	return nil
}

func (v *verifier) operand(pc int, op opcode.ClassOp, slot byte, kind operand, x int32) error {
	m := v.m
	switch kind {
	case reg:
		if x < 0 || int(x) >= m.FrameSize {
			return v.fail(pc, "%s: register %c=%d outside frame of %d", op, slot, x, m.FrameSize)
		}
	case konst:
		if _, ok := m.Constant(x); !ok {
			return v.fail(pc, "%s: constant %d out of range", op, x)
		}
	case name:
		if _, ok := m.StringConstant(x); !ok {
			return v.fail(pc, "%s: constant %d is not a string", op, x)
		}
	case member:
		if x < 0 || int(x) >= len(m.Members) {
			return v.fail(pc, "%s: member %d out of range", op, x)
		}
	case target:
		if x < 0 || int(x) >= len(m.Code) {
			return v.fail(pc, "%s: jump target %d out of range", op, x)
		}
	case count:
		if x < 0 {
			return v.fail(pc, "%s: negative count %d", op, x)
		}
	case function:
		if x < 0 || int(x) >= len(m.Functions) || m.Functions[x] == nil {
			return v.fail(pc, "%s: function %d out of range", op, x)
		}
	case finallyRange:
		if x < 0 || int(x) >= len(m.Exceptions) || !m.Exceptions[x].Finally {
			return v.fail(pc, "%s: exception range %d is not a finally block", op, x)
		}
	}
	return nil
}

func (v *verifier) ranges() error {
	n := len(v.m.Code)
	for i, r := range v.m.Exceptions {
		switch {
		case r.From < 0 || r.From >= r.To || r.To > n:
			return v.fail(-1, "exception range %d [%d, %d) is invalid", i, r.From, r.To)
		case r.Target < 0 || r.Target >= n:
			return v.fail(-1, "exception range %d handler %d out of range", i, r.Target)
		case r.Contains(r.Target):
			return v.fail(-1, "exception range %d handler %d lies inside its own range", i, r.Target)
		case r.StackDepth < 0:
			return v.fail(-1, "exception range %d has negative stack depth", i)
		case r.Finally && r.CatchType != "":
			return v.fail(-1, "exception range %d is a finally block with a catch type", i)
		}
	}
	return nil
}

// dataflow propagates operand stack depths forward from the entry and
// every handler, requiring agreement wherever paths merge.
func (v *verifier) dataflow() error {
	m := v.m
	v.depth = make([]int, len(m.Code))
	for i := range v.depth {
		v.depth[i] = -1
	}
	if err := v.reach(-1, 0, 0); err != nil {
		return err
	}
	for _, r := range m.Exceptions {
		d := r.StackDepth
		if !r.Finally {
			d++
		}
		if err := v.reach(-1, r.Target, d); err != nil {
			return err
		}
	}
	for len(v.work) > 0 {
		pc := v.work[len(v.work)-1]
		v.work = v.work[:len(v.work)-1]
		in := m.Code[pc]
		sh := shapes[in.Op]

		d := v.depth[pc] - sh.pop - sh.popN*int(in.D)
		if d < 0 {
			return v.fail(pc, "%s: operand stack underflow", opcode.ClassOp(in.Op))
		}
		d += sh.push
		if d > m.MaxStack {
			return v.fail(pc, "%s: operand stack depth %d exceeds max %d", opcode.ClassOp(in.Op), d, m.MaxStack)
		}

		var err error
		switch sh.flow {
		case fallThrough:
			err = v.reach(pc, pc+1, d)
		case jump:
			err = v.reach(pc, int(in.A), d)
		case branch:
			if err = v.reach(pc, int(in.B), d); err == nil {
				err = v.reach(pc, pc+1, d)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (v *verifier) reach(from, pc, d int) error {
	if pc >= len(v.m.Code) {
		return v.fail(from, "control falls off the end of the method")
	}
	if d > v.m.MaxStack {
		return v.fail(from, "handler stack depth %d exceeds max %d", d, v.m.MaxStack)
	}
	switch v.depth[pc] {
	case -1:
		v.depth[pc] = d
		v.work = append(v.work, pc)
	case d:
	default:
		return v.fail(from, "stack depth %d at %d disagrees with %d on another path", d, pc, v.depth[pc])
	}
	return nil
}
