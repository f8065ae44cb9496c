package vm

import (
	"math"

	"github.com/zurustar/kagami/pkg/value"
)

// BinaryOp is an operator shared by both dialects.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr
	OpUShr
	OpEq
	OpStrictEq
	OpLt
	OpLe
	OpGt
	OpGe
)

// Binary applies op to a and b with the platform's coercion rules.
func Binary(h *value.Heap, op BinaryOp, a, b value.Value) (value.Value, error) {
	switch op {
	case OpAdd:
		return h.Add(a, b)
	case OpEq:
		eq, err := h.LooseEquals(a, b)
		return value.Bool(eq), err
	case OpStrictEq:
		return value.Bool(value.StrictEquals(a, b)), nil
	case OpLt, OpLe, OpGt, OpGe:
		o, err := h.Compare(a, b)
		if err != nil {
			return value.Undefined, err
		}
		var r bool
		switch op {
		case OpLt:
			r = o == value.Less
		case OpLe:
			r = o == value.Less || o == value.Equal
		case OpGt:
			r = o == value.Greater
		case OpGe:
			r = o == value.Greater || o == value.Equal
		}
		return value.Bool(r), nil
	}

	x, err := h.ToNumber(a)
	if err != nil {
		return value.Undefined, err
	}
	y, err := h.ToNumber(b)
	if err != nil {
		return value.Undefined, err
	}
	switch op {
	case OpSub:
		return value.Number(x - y), nil
	case OpMul:
		return value.Number(x * y), nil
	case OpDiv:
		return value.Number(x / y), nil
	case OpMod:
		return value.Number(math.Mod(x, y)), nil
	case OpBitAnd:
		return value.Int(int(value.ToInt32(x) & value.ToInt32(y))), nil
	case OpBitOr:
		return value.Int(int(value.ToInt32(x) | value.ToInt32(y))), nil
	case OpBitXor:
		return value.Int(int(value.ToInt32(x) ^ value.ToInt32(y))), nil
	case OpShl:
		return value.Int(int(value.ToInt32(x) << (value.ToUint32(y) & 31))), nil
	case OpShr:
		return value.Int(int(value.ToInt32(x) >> (value.ToUint32(y) & 31))), nil
	case OpUShr:
		return value.Number(float64(value.ToUint32(x) >> (value.ToUint32(y) & 31))), nil
	}
	return value.Undefined, value.Errorf(value.TypeError, "unknown operator %d", op)
}

// Negate is unary minus.
func Negate(h *value.Heap, a value.Value) (value.Value, error) {
	x, err := h.ToNumber(a)
	return value.Number(-x), err
}

// Step adds delta to the numeric value of a.
func Step(h *value.Heap, a value.Value, delta float64) (value.Value, error) {
	x, err := h.ToNumber(a)
	return value.Number(x + delta), err
}
