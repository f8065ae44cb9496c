package value

import (
	"maps"
	"slices"
	"strconv"

	"github.com/zurustar/kagami/pkg/gc"
)

// MaxArrayLength bounds the length of an array.
const MaxArrayLength = 1 << 24

// MaxDenseLength bounds the arrays natives may copy out as a slice.
const MaxDenseLength = 1 << 20

// denseGap is how far past the dense prefix a store may land and still
// grow it. Stores further out go to the sparse map.
const denseGap = 1 << 10

// Array is the native payload of array objects: a dense element prefix, a
// sparse tail, and a virtual length property. Elements present in neither
// read as undefined.
type Array struct {
	elems  []Value
	sparse map[int]Value
	length int
}

// AsArray returns the array payload of v.
func (h *Heap) AsArray(v Value) (*Array, bool) {
	o, ok := h.Object(v)
	if !ok {
		return nil, false
	}
	a, ok := o.native.(*Array)
	return a, ok
}

// Len returns the array length.
func (a *Array) Len() int {
	return a.length
}

// At returns element i, or undefined when absent.
func (a *Array) At(i int) Value {
	v, _ := a.get(i)
	return v
}

func (a *Array) get(i int) (Value, bool) {
	if i >= 0 && i < len(a.elems) {
		return a.elems[i], true
	}
	v, ok := a.sparse[i]
	return v, ok
}

// Values returns a copy of the elements up to the length. Arrays longer
// than MaxDenseLength are refused with a RangeError.
func (a *Array) Values() ([]Value, error) {
	if a.length > MaxDenseLength {
		return nil, Errorf(RangeError, "array of length %d is too long", a.length)
	}
	out := make([]Value, a.length)
	copy(out, a.elems)
	for i, v := range a.sparse {
		out[i] = v
	}
	return out, nil
}

// Set stores v at index i of the array object self. Stores near the end
// grow the dense prefix; distant ones are kept sparse.
func (a *Array) Set(h *Heap, self Value, i int, v Value) error {
	if i < 0 || i >= MaxArrayLength {
		return Errorf(RangeError, "array index %d out of range", i)
	}
	switch n := len(a.elems); {
	case i < n:
		a.elems[i] = v
	case i-n <= denseGap:
		a.elems = append(a.elems, make([]Value, i+1-n)...)
		a.elems[i] = v
		a.absorb()
	default:
		if a.sparse == nil {
			a.sparse = make(map[int]Value)
		}
		a.sparse[i] = v
	}
	a.length = max(a.length, i+1)
	h.Barrier(self, v)
	return nil
}

// absorb moves sparse elements adjoining the dense prefix into it.
func (a *Array) absorb() {
	for len(a.sparse) > 0 {
		v, ok := a.sparse[len(a.elems)]
		if !ok {
			break
		}
		delete(a.sparse, len(a.elems))
		a.elems = append(a.elems, v)
	}
	for i, v := range a.sparse {
		if i < len(a.elems) {
			a.elems[i] = v
			delete(a.sparse, i)
		}
	}
}

// Push appends vals to the array object self.
func (a *Array) Push(h *Heap, self Value, vals ...Value) error {
	if a.length+len(vals) > MaxArrayLength {
		return Errorf(RangeError, "array too long")
	}
	for _, v := range vals {
		if err := a.Set(h, self, a.length, v); err != nil {
			return err
		}
	}
	return nil
}

// Pop removes and returns the last element.
func (a *Array) Pop() Value {
	if a.length == 0 {
		return Undefined
	}
	i := a.length - 1
	v := a.At(i)
	a.truncate(i)
	return v
}

// SetLength truncates or extends the array. Extension allocates nothing.
func (a *Array) SetLength(n int) error {
	if n < 0 || n > MaxArrayLength {
		return Errorf(RangeError, "invalid array length %d", n)
	}
	if n < a.length {
		a.truncate(n)
	}
	a.length = n
	return nil
}

func (a *Array) truncate(n int) {
	if n < len(a.elems) {
		clear(a.elems[n:])
		a.elems = a.elems[:n]
	}
	for i := range a.sparse {
		if i >= n {
			delete(a.sparse, i)
		}
	}
	a.length = n
}

// Replace swaps the whole element store, for natives that build a new
// ordering (sort, reverse, splice).
func (a *Array) Replace(h *Heap, self Value, vals []Value) {
	a.elems, a.sparse, a.length = vals, nil, len(vals)
	for _, v := range vals {
		h.Barrier(self, v)
	}
}

func (a *Array) GetHook(h *Heap, self Value, name string) (Value, bool, error) {
	if name == "length" {
		return Int(a.length), true, nil
	}
	if i, ok := ArrayIndex(name); ok {
		if v, ok := a.get(i); ok {
			return v, true, nil
		}
	}
	return Undefined, false, nil
}

func (a *Array) SetHook(h *Heap, self Value, name string, v Value) (bool, error) {
	if name == "length" {
		n, err := h.ToNumber(v)
		if err != nil {
			return true, err
		}
		return true, a.SetLength(int(ToUint32(n)))
	}
	if i, ok := ArrayIndex(name); ok {
		return true, a.Set(h, self, i, v)
	}
	return false, nil
}

func (a *Array) HookKeys() []string {
	keys := make([]string, len(a.elems), len(a.elems)+len(a.sparse))
	for i := range a.elems {
		keys[i] = strconv.Itoa(i)
	}
	for _, i := range slices.Sorted(maps.Keys(a.sparse)) {
		keys = append(keys, strconv.Itoa(i))
	}
	return keys
}

func (a *Array) Trace(m gc.Marker) {
	for _, v := range a.elems {
		v.Mark(m)
	}
	for _, v := range a.sparse {
		v.Mark(m)
	}
}
