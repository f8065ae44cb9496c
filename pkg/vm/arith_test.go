package vm

import (
	"math"
	"testing"

	"github.com/zurustar/kagami/pkg/value"
)

func TestBinary(t *testing.T) {
	h := newTestMachine(t).Heap()
	tests := []struct {
		name string
		op   BinaryOp
		a, b value.Value
		want value.Value
	}{
		{"add numbers", OpAdd, value.Int(2), value.Int(3), value.Int(5)},
		{"add concatenates", OpAdd, value.String("a"), value.Int(1), value.String("a1")},
		{"sub coerces strings", OpSub, value.String("10"), value.Int(4), value.Int(6)},
		{"mul", OpMul, value.Number(1.5), value.Int(2), value.Int(3)},
		{"div by zero", OpDiv, value.Int(1), value.Int(0), value.Number(math.Inf(1))},
		{"mod keeps sign of dividend", OpMod, value.Int(-7), value.Int(3), value.Int(-1)},
		{"bit and", OpBitAnd, value.Int(6), value.Int(3), value.Int(2)},
		{"bit or", OpBitOr, value.Int(4), value.Int(1), value.Int(5)},
		{"bit xor", OpBitXor, value.Int(7), value.Int(2), value.Int(5)},
		{"shl masks count", OpShl, value.Int(1), value.Int(33), value.Int(2)},
		{"shr is signed", OpShr, value.Int(-8), value.Int(1), value.Int(-4)},
		{"ushr is unsigned", OpUShr, value.Int(-1), value.Int(28), value.Int(15)},
		{"loose equality", OpEq, value.String("1"), value.Int(1), value.True},
		{"strict equality", OpStrictEq, value.String("1"), value.Int(1), value.False},
		{"less", OpLt, value.Int(1), value.Int(2), value.True},
		{"less with NaN", OpLt, value.Number(math.NaN()), value.Int(2), value.False},
		{"less or equal", OpLe, value.Int(2), value.Int(2), value.True},
		{"greater compares strings", OpGt, value.String("b"), value.String("a"), value.True},
		{"greater or equal with NaN", OpGe, value.Int(1), value.Number(math.NaN()), value.False},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Binary(h, tt.op, tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !value.StrictEquals(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnary(t *testing.T) {
	h := newTestMachine(t).Heap()
	if v, _ := Negate(h, value.String("3")); v.AsNumber() != -3 {
		t.Errorf("expected -3, got %v", v)
	}
	if v, _ := Step(h, value.True, 1); v.AsNumber() != 2 {
		t.Errorf("expected 2, got %v", v)
	}
}
