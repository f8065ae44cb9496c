package builtins

import (
	"cmp"
	"slices"
	"strings"

	"github.com/zurustar/kagami/pkg/gc"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// Sort option bits of Array.prototype.sort and sortOn.
const (
	SortCaseInsensitive = 1
	SortDescending      = 2
	SortUnique          = 4
	SortReturnIndexed   = 8
	SortNumeric         = 16
)

// registerArrayBuiltins defines Array and Array.prototype.
func (r *realm) registerArrayBuiltins() {
	h := r.h
	proto := h.Intrinsic(value.ArrayPrototype)

	// Array(n) preallocates n undefined elements, Array(a, b, ...) lists them
	ctor := r.constructor("Array", 1, proto, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		if len(args) == 1 && args[0].IsNumber() {
			n := args[0].AsNumber()
			if n < 0 || n != float64(int(n)) || n > value.MaxArrayLength {
				return value.Undefined, value.Errorf(value.RangeError, "invalid array length %s", value.FormatNumber(n))
			}
			return h.NewArrayLength(int(n)), nil
		}
		return h.NewArray(slices.Clone(args)), nil
	})
	for name, bits := range map[string]int{
		"CASEINSENSITIVE":    SortCaseInsensitive,
		"DESCENDING":         SortDescending,
		"UNIQUESORT":         SortUnique,
		"RETURNINDEXEDARRAY": SortReturnIndexed,
		"NUMERIC":            SortNumeric,
	} {
		r.constant(ctor, name, value.Int(bits))
	}

	r.arrayMethod(proto, "push", 1, func(a *value.Array, this value.Value, args []value.Value) (value.Value, error) {
		if err := a.Push(h, this, args...); err != nil {
			return value.Undefined, err
		}
		return value.Int(a.Len()), nil
	})

	r.arrayMethod(proto, "pop", 0, func(a *value.Array, this value.Value, args []value.Value) (value.Value, error) {
		return a.Pop(), nil
	})

	r.arrayMethod(proto, "shift", 0, func(a *value.Array, this value.Value, args []value.Value) (value.Value, error) {
		vals, err := a.Values()
		if err != nil || len(vals) == 0 {
			return value.Undefined, err
		}
		a.Replace(h, this, vals[1:])
		return vals[0], nil
	})

	r.arrayMethod(proto, "unshift", 1, func(a *value.Array, this value.Value, args []value.Value) (value.Value, error) {
		if a.Len()+len(args) > value.MaxArrayLength {
			return value.Undefined, value.Errorf(value.RangeError, "array too long")
		}
		vals, err := a.Values()
		if err != nil {
			return value.Undefined, err
		}
		a.Replace(h, this, append(slices.Clone(args), vals...))
		return value.Int(a.Len()), nil
	})

	r.arrayMethod(proto, "join", 1, func(a *value.Array, this value.Value, args []value.Value) (value.Value, error) {
		sep := ","
		if v := arg(args, 0); !v.IsUndefined() {
			s, err := h.ToString(v)
			if err != nil {
				return value.Undefined, err
			}
			sep = s
		}
		s, err := r.join(this, a, sep)
		return value.String(s), err
	})

	r.arrayMethod(proto, "toString", 0, func(a *value.Array, this value.Value, args []value.Value) (value.Value, error) {
		s, err := r.join(this, a, ",")
		return value.String(s), err
	})

	r.arrayMethod(proto, "slice", 2, func(a *value.Array, this value.Value, args []value.Value) (value.Value, error) {
		n := a.Len()
		start, err := r.integer(args, 0, 0)
		if err != nil {
			return value.Undefined, err
		}
		end, err := r.integer(args, 1, n)
		if err != nil {
			return value.Undefined, err
		}
		start, end = clampIndex(start, n), clampIndex(end, n)
		if start >= end {
			return h.NewArray(nil), nil
		}
		vals, err := a.Values()
		if err != nil {
			return value.Undefined, err
		}
		return h.NewArray(vals[start:end]), nil
	})

	r.arrayMethod(proto, "splice", 2, func(a *value.Array, this value.Value, args []value.Value) (value.Value, error) {
		vals, err := a.Values()
		if err != nil {
			return value.Undefined, err
		}
		n := len(vals)
		start, err := r.integer(args, 0, 0)
		if err != nil {
			return value.Undefined, err
		}
		start = clampIndex(start, n)
		count, err := r.integer(args, 1, n-start)
		if err != nil {
			return value.Undefined, err
		}
		count = max(0, min(count, n-start))
		var insert []value.Value
		if len(args) > 2 {
			insert = args[2:]
		}
		if n-count+len(insert) > value.MaxArrayLength {
			return value.Undefined, value.Errorf(value.RangeError, "array too long")
		}
		removed := slices.Clone(vals[start : start+count])
		out := make([]value.Value, 0, n-count+len(insert))
		out = append(out, vals[:start]...)
		out = append(out, insert...)
		out = append(out, vals[start+count:]...)
		a.Replace(h, this, out)
		return h.NewArray(removed), nil
	})

	r.arrayMethod(proto, "reverse", 0, func(a *value.Array, this value.Value, args []value.Value) (value.Value, error) {
		vals, err := a.Values()
		if err != nil {
			return value.Undefined, err
		}
		slices.Reverse(vals)
		a.Replace(h, this, vals)
		return this, nil
	})

	r.arrayMethod(proto, "concat", 1, func(a *value.Array, this value.Value, args []value.Value) (value.Value, error) {
		out, err := a.Values()
		if err != nil {
			return value.Undefined, err
		}
		for _, v := range args {
			if other, ok := h.AsArray(v); ok {
				vals, err := other.Values()
				if err != nil {
					return value.Undefined, err
				}
				out = append(out, vals...)
			} else {
				out = append(out, v)
			}
		}
		if len(out) > value.MaxArrayLength {
			return value.Undefined, value.Errorf(value.RangeError, "array too long")
		}
		return h.NewArray(out), nil
	})

	r.arrayMethod(proto, "indexOf", 1, func(a *value.Array, this value.Value, args []value.Value) (value.Value, error) {
		from, err := r.integer(args, 1, 0)
		if err != nil {
			return value.Undefined, err
		}
		vals, err := a.Values()
		if err != nil {
			return value.Undefined, err
		}
		for i := clampIndex(from, len(vals)); i < len(vals); i++ {
			if value.StrictEquals(vals[i], arg(args, 0)) {
				return value.Int(i), nil
			}
		}
		return value.Int(-1), nil
	})

	r.arrayMethod(proto, "lastIndexOf", 1, func(a *value.Array, this value.Value, args []value.Value) (value.Value, error) {
		vals, err := a.Values()
		if err != nil {
			return value.Undefined, err
		}
		from, err := r.integer(args, 1, len(vals)-1)
		if err != nil {
			return value.Undefined, err
		}
		if from < 0 {
			from += len(vals)
		}
		for i := min(from, len(vals)-1); i >= 0; i-- {
			if value.StrictEquals(vals[i], arg(args, 0)) {
				return value.Int(i), nil
			}
		}
		return value.Int(-1), nil
	})

	// sort(compareFn?, options?) or sort(options)
	r.arrayMethod(proto, "sort", 2, func(a *value.Array, this value.Value, args []value.Value) (value.Value, error) {
		compare, opts := arg(args, 0), arg(args, 1)
		if compare.IsNumber() {
			compare, opts = value.Undefined, compare
		}
		bits, err := h.ToInt32(opts)
		if err != nil {
			return value.Undefined, err
		}
		keys, err := a.Values()
		if err != nil {
			return value.Undefined, err
		}
		return r.sortArray(a, this, keys, keys, compare, int(bits))
	})

	// sortOn(field, options?) orders by a property of each element
	r.arrayMethod(proto, "sortOn", 2, func(a *value.Array, this value.Value, args []value.Value) (value.Value, error) {
		field, err := r.string(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		bits, err := h.ToInt32(arg(args, 1))
		if err != nil {
			return value.Undefined, err
		}
		vals, err := a.Values()
		if err != nil {
			return value.Undefined, err
		}
		keys := make([]value.Value, len(vals))
		for i, v := range vals {
			if keys[i], err = h.GetProperty(v, field); err != nil {
				return value.Undefined, err
			}
		}
		return r.sortArray(a, this, vals, keys, value.Undefined, int(bits))
	})
}

// arrayMethod defines a method whose receiver must be an array.
func (r *realm) arrayMethod(proto value.Value, name string, arity int, fn func(a *value.Array, this value.Value, args []value.Value) (value.Value, error)) {
	r.method(proto, name, arity, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		a, ok := r.h.AsArray(this)
		if !ok {
			return value.Undefined, value.Errorf(value.TypeError, "Array.prototype.%s called on a non-array", name)
		}
		return fn(a, this, args)
	})
}

// join converts each element with ToString; undefined and null become the
// empty string and arrays already being joined are skipped.
func (r *realm) join(self value.Value, a *value.Array, sep string) (string, error) {
	if r.joining == nil {
		r.joining = make(map[gc.Ref]bool)
	}
	if r.joining[self.Ref()] {
		return "", nil
	}
	r.joining[self.Ref()] = true
	defer delete(r.joining, self.Ref())

	vals, err := a.Values()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, v := range vals {
		if i > 0 {
			sb.WriteString(sep)
		}
		if v.IsNullish() {
			continue
		}
		s, err := r.h.ToString(v)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

// sortArray stably orders vals by keys. A script comparator may run
// arbitrary code, so the originals are parked in a fresh array for the
// duration of the sort.
func (r *realm) sortArray(a *value.Array, self value.Value, vals, keys []value.Value, compare value.Value, bits int) (value.Value, error) {
	h := r.h
	hold := h.NewArray(slices.Concat(vals, keys))
	r.m.Retain(hold)
	defer r.m.Release(hold)

	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	var failed error
	dup := false
	slices.SortStableFunc(idx, func(i, j int) int {
		if failed != nil {
			return 0
		}
		c, err := r.compareKeys(keys[i], keys[j], compare, bits)
		if err != nil {
			failed = err
			return 0
		}
		if bits&SortDescending != 0 {
			c = -c
		}
		if c == 0 {
			dup = true
		}
		return c
	})
	if failed != nil {
		return value.Undefined, failed
	}
	if bits&SortUnique != 0 && dup {
		return value.Int(0), nil
	}
	if bits&SortReturnIndexed != 0 {
		out := make([]value.Value, len(idx))
		for i, j := range idx {
			out[i] = value.Int(j)
		}
		return h.NewArray(out), nil
	}
	out := make([]value.Value, len(idx))
	for i, j := range idx {
		out[i] = vals[j]
	}
	a.Replace(h, self, out)
	return self, nil
}

func (r *realm) compareKeys(x, y, compare value.Value, bits int) (int, error) {
	h := r.h
	if h.IsCallable(compare) {
		res, err := r.m.Call(compare, value.Undefined, []value.Value{x, y})
		if err != nil {
			return 0, err
		}
		n, err := h.ToNumber(res)
		if err != nil || n != n {
			return 0, err
		}
		return cmp.Compare(n, 0), nil
	}
	// undefined sorts last
	switch {
	case x.IsUndefined() && y.IsUndefined():
		return 0, nil
	case x.IsUndefined():
		return 1, nil
	case y.IsUndefined():
		return -1, nil
	}
	if bits&SortNumeric != 0 {
		nx, err := h.ToNumber(x)
		if err != nil {
			return 0, err
		}
		ny, err := h.ToNumber(y)
		if err != nil {
			return 0, err
		}
		return cmp.Compare(nx, ny), nil
	}
	sx, err := h.ToString(x)
	if err != nil {
		return 0, err
	}
	sy, err := h.ToString(y)
	if err != nil {
		return 0, err
	}
	if bits&SortCaseInsensitive != 0 {
		sx, sy = strings.ToLower(sx), strings.ToLower(sy)
	}
	return value.CompareStrings(sx, sy), nil
}
