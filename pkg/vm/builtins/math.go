package builtins

import (
	"math"
	"math/rand/v2"

	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// registerMathBuiltins defines the Math object.
func (r *realm) registerMathBuiltins() {
	h := r.h
	obj := h.NewObject()
	h.DefineProperty(r.global, "Math", obj, value.DontEnum)

	for name, c := range map[string]float64{
		"PI":      math.Pi,
		"E":       math.E,
		"LN2":     math.Ln2,
		"LN10":    math.Ln10,
		"LOG2E":   math.Log2E,
		"LOG10E":  math.Log10E,
		"SQRT2":   math.Sqrt2,
		"SQRT1_2": math.Sqrt2 / 2,
	} {
		r.constant(obj, name, value.Number(c))
	}

	// Unary functions coerce their argument with ToNumber
	for name, fn := range map[string]func(float64) float64{
		"abs":   math.Abs,
		"floor": math.Floor,
		"ceil":  math.Ceil,
		"round": roundHalfUp,
		"sqrt":  math.Sqrt,
		"sin":   math.Sin,
		"cos":   math.Cos,
		"tan":   math.Tan,
		"asin":  math.Asin,
		"acos":  math.Acos,
		"atan":  math.Atan,
		"exp":   math.Exp,
		"log":   math.Log,
	} {
		r.method(obj, name, 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
			x, err := r.number(args, 0)
			if err != nil {
				return value.Undefined, err
			}
			return value.Number(fn(x)), nil
		})
	}

	r.method(obj, "atan2", 2, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		y, err := r.number(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		x, err := r.number(args, 1)
		if err != nil {
			return value.Undefined, err
		}
		return value.Number(math.Atan2(y, x)), nil
	})

	r.method(obj, "pow", 2, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		x, err := r.number(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		y, err := r.number(args, 1)
		if err != nil {
			return value.Undefined, err
		}
		return value.Number(math.Pow(x, y)), nil
	})

	// min and max: no arguments yields the identity, any NaN yields NaN
	r.method(obj, "min", 2, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return r.fold(args, math.Inf(1), math.Min)
	})
	r.method(obj, "max", 2, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return r.fold(args, math.Inf(-1), math.Max)
	})

	r.method(obj, "random", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return value.Number(rand.Float64()), nil
	})

	// random(n) is the legacy global returning an integer in [0, n)
	r.method(r.global, "random", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		n, err := r.integer(args, 0, 0)
		if err != nil {
			return value.Undefined, err
		}
		if n <= 0 {
			return value.Int(0), nil
		}
		return value.Int(rand.IntN(n)), nil
	})
}

func (r *realm) fold(args []value.Value, acc float64, op func(a, b float64) float64) (value.Value, error) {
	for i := range args {
		x, err := r.number(args, i)
		if err != nil {
			return value.Undefined, err
		}
		acc = op(acc, x)
	}
	return value.Number(acc), nil
}

// roundHalfUp rounds .5 towards positive infinity.
func roundHalfUp(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Floor(x + 0.5)
}
