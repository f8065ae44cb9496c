package builtins

import (
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

func newTestMachine(t *testing.T, opts ...vm.Option) *vm.Machine {
	t.Helper()
	quiet := vm.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	m := vm.New(append([]vm.Option{quiet}, opts...)...)
	Install(m)
	return m
}

func global(t *testing.T, m *vm.Machine, name string) value.Value {
	t.Helper()
	v, err := m.Heap().GetProperty(m.Heap().Global(), name)
	if err != nil || v.IsUndefined() {
		t.Fatalf("global %s is not defined (%v)", name, err)
	}
	return v
}

// invoke calls target[name](args...).
func invoke(m *vm.Machine, target value.Value, name string, args ...value.Value) (value.Value, error) {
	fn, err := m.Heap().GetProperty(target, name)
	if err != nil {
		return value.Undefined, err
	}
	return m.Call(fn, target, args)
}

func call(t *testing.T, m *vm.Machine, target value.Value, name string, args ...value.Value) value.Value {
	t.Helper()
	v, err := invoke(m, target, name, args...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return v
}

func construct(t *testing.T, m *vm.Machine, ctor string, args ...value.Value) value.Value {
	t.Helper()
	v, err := m.Construct(global(t, m, ctor), args)
	if err != nil {
		t.Fatalf("new %s: %v", ctor, err)
	}
	return v
}

func str(t *testing.T, m *vm.Machine, v value.Value) string {
	t.Helper()
	s, err := m.Heap().ToString(v)
	if err != nil {
		t.Fatalf("ToString: %v", err)
	}
	return s
}

func strs(ss ...string) []value.Value {
	vals := make([]value.Value, len(ss))
	for i, s := range ss {
		vals[i] = value.String(s)
	}
	return vals
}

func ints(ns ...int) []value.Value {
	vals := make([]value.Value, len(ns))
	for i, n := range ns {
		vals[i] = value.Int(n)
	}
	return vals
}

func TestArrayMethods(t *testing.T) {
	tests := []struct {
		name   string
		elems  []value.Value
		method string
		args   []value.Value
		want   string
		after  string
	}{
		{"push returns length", ints(1, 2), "push", ints(3, 4), "4", "1,2,3,4"},
		{"pop", ints(1, 2, 3), "pop", nil, "3", "1,2"},
		{"pop on empty", nil, "pop", nil, "undefined", ""},
		{"shift", ints(1, 2, 3), "shift", nil, "1", "2,3"},
		{"unshift", ints(3), "unshift", ints(1, 2), "3", "1,2,3"},
		{"join with separator", strs("a", "b", "c"), "join", strs("-"), "a-b-c", "a,b,c"},
		{"join skips nullish", []value.Value{value.Int(1), value.Undefined, value.Null, value.Int(2)}, "join", nil, "1,,,2", "1,,,2"},
		{"slice", ints(0, 1, 2, 3, 4), "slice", ints(1, 3), "1,2", "0,1,2,3,4"},
		{"slice negative", ints(0, 1, 2, 3, 4), "slice", ints(-2), "3,4", "0,1,2,3,4"},
		{"splice removes", ints(0, 1, 2, 3, 4), "splice", ints(1, 2), "1,2", "0,3,4"},
		{"splice inserts", ints(0, 3), "splice", ints(1, 0, 1, 2), "", "0,1,2,3"},
		{"splice to end", ints(0, 1, 2), "splice", ints(1), "1,2", "0"},
		{"reverse", ints(1, 2, 3), "reverse", nil, "3,2,1", "3,2,1"},
		{"concat flattens one level", ints(1), "concat", []value.Value{value.Int(2)}, "1,2", "1"},
		{"indexOf is strict", strs("1", "2"), "indexOf", ints(2), "-1", "1,2"},
		{"indexOf", ints(5, 6, 7), "indexOf", ints(7), "2", "5,6,7"},
		{"lastIndexOf", ints(1, 2, 1), "lastIndexOf", ints(1), "2", "1,2,1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(t)
			arr := m.Heap().NewArray(tt.elems)
			got := call(t, m, arr, tt.method, tt.args...)
			if s := str(t, m, got); s != tt.want {
				t.Errorf("result: expected %q, got %q", tt.want, s)
			}
			if s := str(t, m, arr); s != tt.after {
				t.Errorf("array after: expected %q, got %q", tt.after, s)
			}
		})
	}
}

func TestArrayConstructor(t *testing.T) {
	m := newTestMachine(t)
	h := m.Heap()

	sized := construct(t, m, "Array", value.Int(3))
	if n, _ := h.GetProperty(sized, "length"); n.AsNumber() != 3 {
		t.Errorf("Array(3) length: expected 3, got %v", n)
	}
	listed := construct(t, m, "Array", value.Int(3), value.Int(4))
	if s := str(t, m, listed); s != "3,4" {
		t.Errorf("Array(3, 4): expected 3,4, got %q", s)
	}
	if _, err := m.Construct(global(t, m, "Array"), ints(-1)); err == nil {
		t.Error("expected a RangeError for a negative length")
	}

	ok, err := h.InstanceOf(listed, global(t, m, "Array"))
	if err != nil || !ok {
		t.Errorf("expected an Array instance, got %v (%v)", ok, err)
	}
}

func TestArrayJoinCycle(t *testing.T) {
	m := newTestMachine(t)
	arr := m.Heap().NewArray(ints(1))
	call(t, m, arr, "push", arr)
	if s := str(t, m, arr); s != "1," {
		t.Errorf("expected the cycle to join as empty, got %q", s)
	}
}

func TestArraySort(t *testing.T) {
	m := newTestMachine(t)
	h := m.Heap()
	descending := m.NewNative("desc", 2, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return value.Number(args[1].AsNumber() - args[0].AsNumber()), nil
	})

	tests := []struct {
		name  string
		elems []value.Value
		args  []value.Value
		want  string
	}{
		{"lexical by default", ints(10, 9, 1), nil, "1,10,9"},
		{"numeric option", ints(10, 9, 1), ints(SortNumeric), "1,9,10"},
		{"descending numeric", ints(1, 10, 9), ints(SortNumeric | SortDescending), "10,9,1"},
		{"case insensitive", strs("b", "A", "c"), ints(SortCaseInsensitive), "A,b,c"},
		{"undefined sorts last", []value.Value{value.Undefined, value.String("b"), value.String("a")}, nil, "a,b,"},
		{"comparator", ints(3, 1, 2), []value.Value{descending}, "3,2,1"},
		{"indexed", ints(30, 10, 20), ints(SortNumeric | SortReturnIndexed), "1,2,0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arr := h.NewArray(tt.elems)
			got := call(t, m, arr, "sort", tt.args...)
			if s := str(t, m, got); s != tt.want {
				t.Errorf("expected %q, got %q", tt.want, s)
			}
		})
	}

	t.Run("unique fails on duplicates", func(t *testing.T) {
		arr := h.NewArray(ints(2, 1, 2))
		got := call(t, m, arr, "sort", value.Int(SortUnique|SortNumeric))
		if got.AsNumber() != 0 {
			t.Errorf("expected 0, got %v", got)
		}
		if s := str(t, m, arr); s != "2,1,2" {
			t.Errorf("array must be unchanged, got %q", s)
		}
	})

	t.Run("sortOn", func(t *testing.T) {
		var elems []value.Value
		for _, n := range []int{3, 1, 2} {
			o := h.NewObject()
			h.SetProperty(o, "rank", value.Int(n))
			elems = append(elems, o)
		}
		arr := h.NewArray(elems)
		call(t, m, arr, "sortOn", value.String("rank"), value.Int(SortNumeric))
		a, _ := h.AsArray(arr)
		for i, want := range []float64{1, 2, 3} {
			v, _ := h.GetProperty(a.At(i), "rank")
			if v.AsNumber() != want {
				t.Errorf("element %d: expected rank %v, got %v", i, want, v)
			}
		}
	})

	t.Run("comparator errors propagate", func(t *testing.T) {
		boom := m.NewNative("boom", 2, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
			return value.Undefined, value.Errorf(value.TypeError, "boom")
		})
		arr := h.NewArray(ints(2, 1))
		if _, err := invoke(m, arr, "sort", boom); err == nil {
			t.Error("expected the comparator error")
		}
	})
}

func TestStringMethods(t *testing.T) {
	tests := []struct {
		name   string
		s      string
		method string
		args   []value.Value
		want   string
	}{
		{"charAt", "hello", "charAt", ints(1), "e"},
		{"charAt out of range", "hello", "charAt", ints(9), ""},
		{"charAt counts characters", "日本語", "charAt", ints(1), "本"},
		{"charCodeAt", "hello", "charCodeAt", ints(0), "104"},
		{"charCodeAt out of range", "", "charCodeAt", ints(0), "NaN"},
		{"indexOf", "hello", "indexOf", strs("l"), "2"},
		{"indexOf from", "hello", "indexOf", []value.Value{value.String("l"), value.Int(3)}, "3"},
		{"indexOf empty", "abc", "indexOf", strs(""), "0"},
		{"indexOf missing", "abc", "indexOf", strs("z"), "-1"},
		{"lastIndexOf", "hello", "lastIndexOf", strs("l"), "3"},
		{"substr", "hello", "substr", ints(1, 3), "ell"},
		{"substr negative start", "hello", "substr", ints(-3), "llo"},
		{"substring swaps bounds", "hello", "substring", ints(3, 1), "el"},
		{"substring clamps negatives", "hello", "substring", ints(-2, 2), "he"},
		{"slice negative", "hello", "slice", ints(-3, -1), "ll"},
		{"toUpperCase", "abc", "toUpperCase", nil, "ABC"},
		{"toLowerCase", "ÀBC", "toLowerCase", nil, "àbc"},
		{"concat", "a", "concat", []value.Value{value.String("b"), value.Int(1)}, "ab1"},
		{"split", "a,b,c", "split", strs(","), "a,b,c"},
		{"split limit", "a,b,,c", "split", []value.Value{value.String(","), value.Int(2)}, "a,b"},
		{"split characters", "abc", "split", strs(""), "a,b,c"},
		{"split without separator", "a,b", "split", nil, "a,b"},
		{"replace string pattern is literal", "x.y.z", "replace", strs(".", "!"), "x!y.z"},
		{"replace string pattern expands $&", "cat", "replace", strs("a", "[$&]"), "c[a]t"},
		{"toString", "12", "toString", nil, "12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(t)
			got := call(t, m, value.String(tt.s), tt.method, tt.args...)
			if s := str(t, m, got); s != tt.want {
				t.Errorf("expected %q, got %q", tt.want, s)
			}
		})
	}
}

func TestStringFromCharCode(t *testing.T) {
	m := newTestMachine(t)
	got := call(t, m, global(t, m, "String"), "fromCharCode", ints(72, 105, 0x65E5)...)
	if s := str(t, m, got); s != "Hi日" {
		t.Errorf("expected Hi日, got %q", s)
	}
}

func TestWrapperObjects(t *testing.T) {
	m := newTestMachine(t)
	h := m.Heap()

	t.Run("String", func(t *testing.T) {
		w := construct(t, m, "String", value.String("héllo"))
		if !w.IsObject() {
			t.Fatalf("new String must be an object, got %v", w)
		}
		if n, _ := h.GetProperty(w, "length"); n.AsNumber() != 5 {
			t.Errorf("length: expected 5, got %v", n)
		}
		if s := str(t, m, call(t, m, w, "toUpperCase")); s != "HÉLLO" {
			t.Errorf("expected HÉLLO, got %q", s)
		}
		if h.TypeOf(w) != "object" {
			t.Errorf("typeof: expected object, got %s", h.TypeOf(w))
		}
	})

	t.Run("Number", func(t *testing.T) {
		w := construct(t, m, "Number", value.String("5"))
		sum, err := h.Add(w, value.Int(1))
		if err != nil || sum.AsNumber() != 6 {
			t.Errorf("expected 6, got %v (%v)", sum, err)
		}
		plain, err := m.Call(global(t, m, "Number"), value.Undefined, strs("12"))
		if err != nil || !plain.IsNumber() || plain.AsNumber() != 12 {
			t.Errorf("Number(\"12\"): expected 12, got %v (%v)", plain, err)
		}
	})

	t.Run("Boolean", func(t *testing.T) {
		w := construct(t, m, "Boolean", value.Int(0))
		if s := str(t, m, w); s != "false" {
			t.Errorf("expected false, got %q", s)
		}
		if !h.ToBoolean(w) {
			t.Error("wrapper objects are truthy")
		}
	})

	t.Run("primitive methods", func(t *testing.T) {
		if s := str(t, m, call(t, m, value.Int(255), "toString", value.Int(16))); s != "ff" {
			t.Errorf("expected ff, got %q", s)
		}
		if s := str(t, m, call(t, m, value.Number(1.005), "toFixed", value.Int(1))); s != "1.0" {
			t.Errorf("expected 1.0, got %q", s)
		}
		if s := str(t, m, call(t, m, value.True, "toString")); s != "true" {
			t.Errorf("expected true, got %q", s)
		}
		if _, err := invoke(m, value.Int(1), "toString", value.Int(1)); err == nil {
			t.Error("expected a RangeError for radix 1")
		}
	})
}

func TestRegExp(t *testing.T) {
	m := newTestMachine(t)
	h := m.Heap()
	re := func(pattern, flags string) value.Value {
		return construct(t, m, "RegExp", value.String(pattern), value.String(flags))
	}

	t.Run("exec captures groups", func(t *testing.T) {
		res := call(t, m, re(`(\d+)-(\d+)`, ""), "exec", value.String("tel 12-34"))
		if s := str(t, m, res); s != "12-34,12,34" {
			t.Errorf("expected 12-34,12,34, got %q", s)
		}
		if idx, _ := h.GetProperty(res, "index"); idx.AsNumber() != 4 {
			t.Errorf("index: expected 4, got %v", idx)
		}
	})

	t.Run("global exec advances lastIndex", func(t *testing.T) {
		g := re(`\d`, "g")
		var got []string
		for range 3 {
			res := call(t, m, g, "exec", value.String("a1b2"))
			if res.IsNull() {
				got = append(got, "null")
				continue
			}
			got = append(got, str(t, m, res))
		}
		if s := strings.Join(got, " "); s != "1 2 null" {
			t.Errorf("expected 1 2 null, got %q", s)
		}
		if li, _ := h.GetProperty(g, "lastIndex"); li.AsNumber() != 0 {
			t.Errorf("lastIndex must reset after a miss, got %v", li)
		}
	})

	t.Run("test ignores case", func(t *testing.T) {
		if !call(t, m, re("ab", "i"), "test", value.String("xAB")).AsBool() {
			t.Error("expected a match")
		}
	})

	t.Run("properties", func(t *testing.T) {
		r := re("a.c", "gm")
		for name, want := range map[string]string{"source": "a.c", "global": "true", "multiline": "true", "ignoreCase": "false"} {
			v, _ := h.GetProperty(r, name)
			if s := str(t, m, v); s != want {
				t.Errorf("%s: expected %s, got %s", name, want, s)
			}
		}
		if s := str(t, m, r); s != "/a.c/gm" {
			t.Errorf("toString: expected /a.c/gm, got %q", s)
		}
	})

	upper := m.NewNative("upper", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return value.String(strings.ToUpper(args[0].AsString())), nil
	})
	tests := []struct {
		name   string
		s      string
		method string
		args   []value.Value
		want   string
	}{
		{"replace with groups", "2024-01-05", "replace", []value.Value{re(`(\d+)-(\d+)-(\d+)`, ""), value.String("$3/$2/$1")}, "05/01/2024"},
		{"replace first only", "aaa", "replace", []value.Value{re("a", ""), value.String("b")}, "baa"},
		{"replace global with function", "a-b-c", "replace", []value.Value{re("[a-z]", "g"), upper}, "A-B-C"},
		{"replace $$ and context", "xay", "replace", []value.Value{re("a", ""), value.String("$$[$`|$']")}, "x$[x|y]y"},
		{"unknown group stays literal", "ab", "replace", []value.Value{re("(a)", ""), value.String("$2")}, "$2b"},
		{"split by expression", "a1b22c", "split", []value.Value{re(`\d+`, "")}, "a,b,c"},
		{"search", "Hello", "search", []value.Value{re("l+", "")}, "2"},
		{"search miss", "Hello", "search", []value.Value{re("z", "")}, "-1"},
		{"match global", "a1b2", "match", []value.Value{re(`\d`, "g")}, "1,2"},
		{"match none", "ab", "match", []value.Value{re(`\d`, "g")}, "null"},
		{"match counts characters", "日本2", "match", []value.Value{re(`\d`, "")}, "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := call(t, m, value.String(tt.s), tt.method, tt.args...)
			if s := str(t, m, got); s != tt.want {
				t.Errorf("expected %q, got %q", tt.want, s)
			}
		})
	}

	t.Run("match index counts characters", func(t *testing.T) {
		res := call(t, m, value.String("日本2"), "match", re(`\d`, ""))
		if idx, _ := h.GetProperty(res, "index"); idx.AsNumber() != 2 {
			t.Errorf("expected index 2, got %v", idx)
		}
	})

	t.Run("bad pattern is an error", func(t *testing.T) {
		for _, args := range [][]value.Value{strs("(", ""), strs("a", "q")} {
			if _, err := m.Construct(global(t, m, "RegExp"), args); err == nil {
				t.Errorf("expected an error for %v", args)
			}
		}
	})
}

func TestErrorFamily(t *testing.T) {
	m := newTestMachine(t)
	h := m.Heap()

	tests := []struct {
		ctor string
		msg  []value.Value
		want string
	}{
		{"Error", strs("plain"), "Error: plain"},
		{"TypeError", strs("bad"), "TypeError: bad"},
		{"RangeError", nil, "RangeError"},
		{"ReferenceError", strs("x"), "ReferenceError: x"},
		{"ArgumentError", strs("y"), "ArgumentError: y"},
		{"VerifyError", strs("z"), "VerifyError: z"},
	}
	for _, tt := range tests {
		t.Run(tt.ctor, func(t *testing.T) {
			e := construct(t, m, tt.ctor, tt.msg...)
			if s := str(t, m, e); s != tt.want {
				t.Errorf("expected %q, got %q", tt.want, s)
			}
			for _, ctor := range []string{tt.ctor, "Error"} {
				ok, err := h.InstanceOf(e, global(t, m, ctor))
				if err != nil || !ok {
					t.Errorf("expected an instance of %s", ctor)
				}
			}
			called, err := m.Call(global(t, m, tt.ctor), value.Undefined, tt.msg)
			if err != nil || str(t, m, called) != tt.want {
				t.Errorf("calling without new: got %v (%v)", called, err)
			}
		})
	}

	t.Run("runtime errors share the prototypes", func(t *testing.T) {
		th := m.Throwf(value.RangeError, "too deep")
		ok, err := h.InstanceOf(th.Value, global(t, m, "RangeError"))
		if err != nil || !ok {
			t.Error("a thrown RangeError must be a RangeError instance")
		}
		if s := str(t, m, th.Value); s != "RangeError: too deep" {
			t.Errorf("expected RangeError: too deep, got %q", s)
		}
		if name, _ := h.GetProperty(th.Value, "name"); !h.HasOwnProperty(h.Proto(th.Value), "name") || name.AsString() != "RangeError" {
			t.Errorf("name must be inherited, got %v", name)
		}
	})
}

func TestObjectMethods(t *testing.T) {
	m := newTestMachine(t)
	h := m.Heap()
	obj := h.NewObject()
	h.SetProperty(obj, "a", value.Int(1))
	h.DefineProperty(obj, "hidden", value.Int(2), value.DontEnum)

	if !call(t, m, obj, "hasOwnProperty", value.String("a")).AsBool() {
		t.Error("hasOwnProperty(a) should be true")
	}
	if call(t, m, obj, "hasOwnProperty", value.String("toString")).AsBool() {
		t.Error("inherited names are not own")
	}
	if call(t, m, obj, "propertyIsEnumerable", value.String("hidden")).AsBool() {
		t.Error("hidden is DontEnum")
	}
	if !call(t, m, h.Intrinsic(value.ObjectPrototype), "isPrototypeOf", obj).AsBool() {
		t.Error("Object.prototype is a prototype of obj")
	}
	if s := str(t, m, obj); s != "[object Object]" {
		t.Errorf("expected [object Object], got %q", s)
	}

	t.Run("addProperty", func(t *testing.T) {
		store := value.Int(0)
		get := m.NewNative("get", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
			return store, nil
		})
		set := m.NewNative("set", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
			store = value.Number(args[0].AsNumber() * 2)
			return value.Undefined, nil
		})
		if !call(t, m, obj, "addProperty", value.String("twice"), get, set).AsBool() {
			t.Fatal("addProperty failed")
		}
		if err := h.SetProperty(obj, "twice", value.Int(4)); err != nil {
			t.Fatal(err)
		}
		if v, _ := h.GetProperty(obj, "twice"); v.AsNumber() != 8 {
			t.Errorf("expected 8, got %v", v)
		}
		if call(t, m, obj, "addProperty", value.String("bad"), value.Int(1), value.Null).AsBool() {
			t.Error("a non-function getter must be rejected")
		}
	})

	t.Run("ASSetPropFlags", func(t *testing.T) {
		call(t, m, h.Global(), "ASSetPropFlags", obj, value.String("a"), value.Int(1|4), value.Int(0))
		if slicesContains(h.Enumerate(obj), "a") {
			t.Error("a should be hidden")
		}
		h.SetProperty(obj, "a", value.Int(9))
		if v, _ := h.GetProperty(obj, "a"); v.AsNumber() != 1 {
			t.Errorf("a should be read-only, got %v", v)
		}
		call(t, m, h.Global(), "ASSetPropFlags", obj, value.Null, value.Int(0), value.Int(1))
		if !slicesContains(h.Enumerate(obj), "hidden") {
			t.Error("clearing DontEnum on every name should expose hidden")
		}
	})
}

func slicesContains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func TestFunctionCallAndApply(t *testing.T) {
	m := newTestMachine(t)
	h := m.Heap()
	var gotThis value.Value
	sum := m.NewNative("sum", 2, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		gotThis = this
		total := 0.0
		for _, a := range args {
			total += a.AsNumber()
		}
		return value.Number(total), nil
	})
	receiver := h.NewObject()

	if v := call(t, m, sum, "call", append([]value.Value{receiver}, ints(1, 2)...)...); v.AsNumber() != 3 {
		t.Errorf("call: expected 3, got %v", v)
	}
	if gotThis.Ref() != receiver.Ref() {
		t.Error("call must pass the receiver")
	}
	if v := call(t, m, sum, "apply", value.Null, h.NewArray(ints(4, 5, 6))); v.AsNumber() != 15 {
		t.Errorf("apply: expected 15, got %v", v)
	}
	if _, err := invoke(m, sum, "apply", value.Null, value.Int(3)); err == nil {
		t.Error("apply with a non-array must fail")
	}
}

func TestMath(t *testing.T) {
	m := newTestMachine(t)
	mathObj := global(t, m, "Math")
	tests := []struct {
		fn   string
		args []value.Value
		want float64
	}{
		{"abs", ints(-3), 3},
		{"floor", []value.Value{value.Number(1.7)}, 1},
		{"ceil", []value.Value{value.Number(1.2)}, 2},
		{"round", []value.Value{value.Number(2.5)}, 3},
		{"round", []value.Value{value.Number(-2.5)}, -2},
		{"sqrt", ints(16), 4},
		{"pow", ints(2, 10), 1024},
		{"max", ints(1, 5, 3), 5},
		{"min", ints(4, 2, 8), 2},
		{"max", nil, math.Inf(-1)},
		{"min", nil, math.Inf(1)},
		{"atan2", ints(0, 1), 0},
		{"abs", strs("-7"), 7},
	}
	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			got := call(t, m, mathObj, tt.fn, tt.args...)
			if got.AsNumber() != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if v := call(t, m, mathObj, "min", value.Int(1), value.Number(math.NaN())); !math.IsNaN(v.AsNumber()) {
		t.Errorf("min with NaN: expected NaN, got %v", v)
	}
	for range 100 {
		r := call(t, m, mathObj, "random").AsNumber()
		if r < 0 || r >= 1 {
			t.Fatalf("random out of range: %v", r)
		}
		n := call(t, m, m.Heap().Global(), "random", value.Int(6)).AsNumber()
		if n < 0 || n >= 6 || n != math.Trunc(n) {
			t.Fatalf("random(6) out of range: %v", n)
		}
	}
	if pi, _ := m.Heap().GetProperty(mathObj, "PI"); pi.AsNumber() != math.Pi {
		t.Errorf("PI: got %v", pi)
	}
}

func TestGlobalFunctions(t *testing.T) {
	t.Run("parseInt", func(t *testing.T) {
		tests := []struct {
			s     string
			radix int
			want  float64
		}{
			{"42", 0, 42},
			{"  42px", 0, 42},
			{"-7", 0, -7},
			{"0x1F", 0, 31},
			{"ff", 16, 255},
			{"0x10", 16, 16},
			{"101", 2, 5},
			{"z", 0, math.NaN()},
			{"", 0, math.NaN()},
			{"12", 1, math.NaN()},
		}
		for _, tt := range tests {
			got := ParseInt(tt.s, tt.radix)
			if got != tt.want && !(math.IsNaN(got) && math.IsNaN(tt.want)) {
				t.Errorf("ParseInt(%q, %d): expected %v, got %v", tt.s, tt.radix, tt.want, got)
			}
		}
	})

	t.Run("parseFloat", func(t *testing.T) {
		tests := []struct {
			s    string
			want float64
		}{
			{"3.5", 3.5},
			{"3.5e2abc", 350},
			{"-.5", -0.5},
			{"1e", 1},
			{"  7.", 7},
			{"Infinityx", math.Inf(1)},
			{".", math.NaN()},
			{"abc", math.NaN()},
		}
		for _, tt := range tests {
			got := ParseFloat(tt.s)
			if got != tt.want && !(math.IsNaN(got) && math.IsNaN(tt.want)) {
				t.Errorf("ParseFloat(%q): expected %v, got %v", tt.s, tt.want, got)
			}
		}
	})

	t.Run("escape", func(t *testing.T) {
		if got := Escape("a b&c=d/é"); got != "a%20b%26c%3Dd/%C3%A9" {
			t.Errorf("unexpected escape: %q", got)
		}
		if got := Unescape("a%20b%2"); got != "a b%2" {
			t.Errorf("unexpected unescape: %q", got)
		}
	})

	t.Run("trace", func(t *testing.T) {
		var lines []string
		m := newTestMachine(t, vm.WithTrace(func(s string) { lines = append(lines, s) }))
		call(t, m, m.Heap().Global(), "trace", value.String("x"), value.Int(1), value.Undefined)
		if len(lines) != 1 || lines[0] != "x 1 undefined" {
			t.Errorf("unexpected trace output %q", lines)
		}
	})

	t.Run("isNaN and isFinite", func(t *testing.T) {
		m := newTestMachine(t)
		g := m.Heap().Global()
		if !call(t, m, g, "isNaN", value.String("abc")).AsBool() {
			t.Error(`isNaN("abc") should be true`)
		}
		if call(t, m, g, "isFinite", global(t, m, "Infinity")).AsBool() {
			t.Error("isFinite(Infinity) should be false")
		}
	})
}

func TestQName(t *testing.T) {
	m := newTestMachine(t)
	h := m.Heap()
	tests := []struct {
		args      []value.Value
		uri       string
		localName string
		str       string
	}{
		{strs("ns", "name"), "ns", "name", "ns::name"},
		{strs("plain"), "", "plain", "plain"},
		{strs("a::b"), "a", "b", "a::b"},
		{[]value.Value{value.Null, value.String("x")}, "*", "x", "*::x"},
	}
	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			q := construct(t, m, "QName", tt.args...)
			uri, _ := h.GetProperty(q, "uri")
			local, _ := h.GetProperty(q, "localName")
			if uri.AsString() != tt.uri || local.AsString() != tt.localName {
				t.Errorf("expected %s/%s, got %v/%v", tt.uri, tt.localName, uri, local)
			}
			if s := str(t, m, q); s != tt.str {
				t.Errorf("expected %q, got %q", tt.str, s)
			}
			copied := construct(t, m, "QName", q)
			if s := str(t, m, copied); s != tt.str {
				t.Errorf("copy: expected %q, got %q", tt.str, s)
			}
		})
	}
}
