package builtins

import (
	"math"
	"strconv"
	"strings"

	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// registerNumberBuiltins defines Number and Number.prototype.
func (r *realm) registerNumberBuiltins() {
	h := r.h
	proto := r.prototype(value.NumberPrototype, h.Intrinsic(value.ObjectPrototype), &Primitive{Value: value.Int(0)})

	ctor := r.constructor("Number", 1, proto, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		n := 0.0
		if len(args) > 0 {
			var err error
			if n, err = h.ToNumber(args[0]); err != nil {
				return value.Undefined, err
			}
		}
		if r.constructing(this, proto) {
			return h.New(proto, &Primitive{Value: value.Number(n)}), nil
		}
		return value.Number(n), nil
	})
	r.constant(ctor, "MAX_VALUE", value.Number(math.MaxFloat64))
	r.constant(ctor, "MIN_VALUE", value.Number(math.SmallestNonzeroFloat64))
	r.constant(ctor, "NaN", value.Number(math.NaN()))
	r.constant(ctor, "POSITIVE_INFINITY", value.Number(math.Inf(1)))
	r.constant(ctor, "NEGATIVE_INFINITY", value.Number(math.Inf(-1)))

	// toString(radix) formats integers in bases 2 to 36
	r.method(proto, "toString", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		n, err := r.thisNumber(this)
		if err != nil {
			return value.Undefined, err
		}
		radix, err := r.integer(args, 0, 10)
		if err != nil {
			return value.Undefined, err
		}
		if radix < 2 || radix > 36 {
			return value.Undefined, value.Errorf(value.RangeError, "radix %d out of range", radix)
		}
		return value.String(formatRadix(n, radix)), nil
	})

	r.method(proto, "valueOf", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		n, err := r.thisNumber(this)
		return value.Number(n), err
	})

	r.method(proto, "toFixed", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		n, err := r.thisNumber(this)
		if err != nil {
			return value.Undefined, err
		}
		digits, err := r.integer(args, 0, 0)
		if err != nil {
			return value.Undefined, err
		}
		if digits < 0 || digits > 20 {
			return value.Undefined, value.Errorf(value.RangeError, "toFixed digits %d out of range", digits)
		}
		if math.IsNaN(n) || math.IsInf(n, 0) || math.Abs(n) >= 1e21 {
			return value.String(value.FormatNumber(n)), nil
		}
		return value.String(strconv.FormatFloat(n, 'f', digits, 64)), nil
	})
}

func (r *realm) thisNumber(this value.Value) (float64, error) {
	v := r.thisPrimitive(this)
	if !v.IsNumber() {
		return 0, value.Errorf(value.TypeError, "Number.prototype method called on %s", r.h.TypeOf(this))
	}
	return v.AsNumber(), nil
}

func formatRadix(n float64, radix int) string {
	if radix == 10 || math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) || math.Abs(n) > 1<<53 {
		return value.FormatNumber(n)
	}
	return strings.ToLower(strconv.FormatInt(int64(n), radix))
}

// registerBooleanBuiltins defines Boolean and Boolean.prototype.
func (r *realm) registerBooleanBuiltins() {
	h := r.h
	proto := r.prototype(value.BooleanPrototype, h.Intrinsic(value.ObjectPrototype), &Primitive{Value: value.False})

	r.constructor("Boolean", 1, proto, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		b := h.ToBoolean(arg(args, 0))
		if r.constructing(this, proto) {
			return h.New(proto, &Primitive{Value: value.Bool(b)}), nil
		}
		return value.Bool(b), nil
	})

	r.method(proto, "toString", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		b, err := r.thisBool(this)
		if err != nil {
			return value.Undefined, err
		}
		return value.String(strconv.FormatBool(b)), nil
	})

	r.method(proto, "valueOf", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		b, err := r.thisBool(this)
		return value.Bool(b), err
	})
}

func (r *realm) thisBool(this value.Value) (bool, error) {
	v := r.thisPrimitive(this)
	if !v.IsBool() {
		return false, value.Errorf(value.TypeError, "Boolean.prototype method called on %s", r.h.TypeOf(this))
	}
	return v.AsBool(), nil
}
