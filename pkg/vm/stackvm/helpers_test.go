package stackvm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/zurustar/kagami/pkg/opcode"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// asm assembles legacy code with symbolic jump targets.
type asm struct {
	code   []opcode.Instruction
	consts []opcode.Constant
	labels map[string]int
	fixups map[int]string
	funcs  []*opcode.Method
}

func newAsm() *asm {
	return &asm{labels: make(map[string]int), fixups: make(map[int]string)}
}

func (a *asm) op(op opcode.LegacyOp, operands ...int32) *asm {
	a.code = append(a.code, opcode.L(op, operands...))
	return a
}

// push emits PushConst for a Go number or string.
func (a *asm) push(v any) *asm {
	var c opcode.Constant
	switch x := v.(type) {
	case int:
		c = opcode.Number(float64(x))
	case float64:
		c = opcode.Number(x)
	case string:
		c = opcode.String(x)
	default:
		panic(fmt.Sprintf("unsupported constant %T", v))
	}
	idx := len(a.consts)
	for i, k := range a.consts {
		if k == c {
			idx = i
		}
	}
	if idx == len(a.consts) {
		a.consts = append(a.consts, c)
	}
	return a.op(opcode.PushConst, int32(idx))
}

// to emits a branch to label.
func (a *asm) to(op opcode.LegacyOp, label string) *asm {
	a.fixups[len(a.code)] = label
	return a.op(op, 0)
}

func (a *asm) label(name string) *asm {
	a.labels[name] = len(a.code)
	return a
}

func (a *asm) pc(label string) int {
	pc, ok := a.labels[label]
	if !ok {
		panic("undefined label " + label)
	}
	return pc
}

func (a *asm) fn(m *opcode.Method) int32 {
	a.funcs = append(a.funcs, m)
	return int32(len(a.funcs) - 1)
}

func (a *asm) method(name string, params ...string) *opcode.Method {
	for pc, label := range a.fixups {
		a.code[pc].A = int32(a.pc(label))
	}
	m := &opcode.Method{
		Name:      name,
		Dialect:   opcode.DialectLegacy,
		Code:      a.code,
		Constants: a.consts,
		Functions: a.funcs,
	}
	for _, p := range params {
		m.Params = append(m.Params, opcode.Param{Name: p})
	}
	return m
}

func (a *asm) script(name string) *opcode.Method {
	m := a.method(name)
	m.Script = true
	return m
}

type harness struct {
	m      *vm.Machine
	diags  []vm.Diagnostic
	traces []string
}

func newHarness(t *testing.T, opts ...vm.Option) *harness {
	t.Helper()
	hr := &harness{}
	base := []vm.Option{
		vm.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		vm.WithDialect(New()),
		vm.WithDiagnostics(func(d vm.Diagnostic) { hr.diags = append(hr.diags, d) }),
		vm.WithTrace(func(s string) { hr.traces = append(hr.traces, s) }),
	}
	hr.m = vm.New(append(base, opts...)...)
	return hr
}

func (hr *harness) run(method *opcode.Method) (value.Value, *vm.UncaughtError) {
	return hr.m.RunScript(context.Background(), method, value.Undefined, nil)
}

func (hr *harness) native(name string, fn vm.NativeFunc) {
	h := hr.m.Heap()
	h.DefineProperty(h.Global(), name, hr.m.NewNative(name, 0, fn), value.DontEnum)
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
