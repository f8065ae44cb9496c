package value

import (
	"errors"
	"slices"
	"strconv"
	"testing"
)

func TestPrototypeChain(t *testing.T) {
	h := newTestHeap()

	t.Run("inherits from prototype", func(t *testing.T) {
		base := h.NewObject()
		h.DefineProperty(base, "greeting", String("hello"), 0)
		child := h.New(base, nil)

		v, err := h.GetProperty(child, "greeting")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !StrictEquals(v, String("hello")) {
			t.Errorf("got %v, want hello", v)
		}
		if h.HasOwnProperty(child, "greeting") {
			t.Error("inherited property reported as own")
		}
		if !h.HasProperty(child, "greeting") {
			t.Error("inherited property not found")
		}
	})

	t.Run("miss is undefined", func(t *testing.T) {
		v, err := h.GetProperty(h.NewObject(), "missing")
		if err != nil || !v.IsUndefined() {
			t.Errorf("got %v, %v; want undefined, nil", v, err)
		}
	})

	t.Run("cyclic chain terminates", func(t *testing.T) {
		a := h.NewObject()
		b := h.New(a, nil)
		h.SetProto(a, b)
		v, err := h.GetProperty(a, "nowhere")
		if err != nil || !v.IsUndefined() {
			t.Errorf("got %v, %v; want undefined, nil", v, err)
		}
	})

	t.Run("assignment shadows", func(t *testing.T) {
		base := h.NewObject()
		h.DefineProperty(base, "x", Int(1), 0)
		child := h.New(base, nil)
		if err := h.SetProperty(child, "x", Int(2)); err != nil {
			t.Fatal(err)
		}
		bv, _ := h.GetProperty(base, "x")
		cv, _ := h.GetProperty(child, "x")
		if !StrictEquals(bv, Int(1)) || !StrictEquals(cv, Int(2)) {
			t.Errorf("base=%v child=%v", bv, cv)
		}
	})
}

func TestPropertyAttributes(t *testing.T) {
	h := newTestHeap()
	obj := h.NewObject()
	h.DefineProperty(obj, "fixed", Int(1), ReadOnly|DontDelete)
	h.DefineProperty(obj, "hidden", Int(2), DontEnum)
	h.DefineProperty(obj, "plain", Int(3), 0)

	if err := h.SetProperty(obj, "fixed", Int(9)); err != nil {
		t.Fatal(err)
	}
	if v, _ := h.GetProperty(obj, "fixed"); !StrictEquals(v, Int(1)) {
		t.Errorf("ReadOnly property changed to %v", v)
	}
	if h.DeleteProperty(obj, "fixed") {
		t.Error("DontDelete property deleted")
	}
	if !h.DeleteProperty(obj, "plain") {
		t.Error("plain property not deleted")
	}
	if !h.DeleteProperty(obj, "never-existed") {
		t.Error("deleting a missing property should succeed")
	}

	keys := h.Enumerate(obj)
	if !slices.Equal(keys, []string{"fixed"}) {
		t.Errorf("Enumerate = %v, want [fixed]", keys)
	}
}

func TestEnumerateOrderAndShadowing(t *testing.T) {
	h := newTestHeap()
	base := h.NewObject()
	h.DefineProperty(base, "a", Int(1), 0)
	h.DefineProperty(base, "b", Int(2), 0)
	child := h.New(base, nil)
	h.DefineProperty(child, "c", Int(3), 0)
	h.DefineProperty(child, "a", Int(4), DontEnum)

	got := h.Enumerate(child)
	if !slices.Equal(got, []string{"c", "b"}) {
		t.Errorf("Enumerate = %v, want [c b]", got)
	}
}

func TestAccessors(t *testing.T) {
	h := newTestHeap()
	obj := h.NewObject()
	stored := Int(0)
	getter := h.testFunc("get", func(this Value, _ []Value) (Value, error) {
		if !StrictEquals(this, obj) && !h.HasInChain(this, obj.Ref()) {
			return Undefined, Errorf(TypeError, "wrong this")
		}
		return stored, nil
	})
	setter := h.testFunc("set", func(_ Value, args []Value) (Value, error) {
		stored = args[0]
		return Undefined, nil
	})
	h.DefineAccessor(obj, "x", getter, setter, 0)

	if err := h.SetProperty(obj, "x", Int(5)); err != nil {
		t.Fatal(err)
	}
	if v, _ := h.GetProperty(obj, "x"); !StrictEquals(v, Int(5)) {
		t.Errorf("got %v, want 5", v)
	}

	child := h.New(obj, nil)
	if err := h.SetProperty(child, "x", Int(7)); err != nil {
		t.Fatal(err)
	}
	if h.HasOwnProperty(child, "x") {
		t.Error("inherited setter should not create an own property")
	}
	if v, _ := h.GetProperty(child, "x"); !StrictEquals(v, Int(7)) {
		t.Errorf("got %v, want 7", v)
	}
}

func TestArrayPayload(t *testing.T) {
	h := newTestHeap()
	arr := h.NewArray([]Value{Int(1), Int(2)})

	if v, _ := h.GetProperty(arr, "length"); !StrictEquals(v, Int(2)) {
		t.Errorf("length = %v", v)
	}
	if err := h.SetProperty(arr, "4", String("x")); err != nil {
		t.Fatal(err)
	}
	if v, _ := h.GetProperty(arr, "length"); !StrictEquals(v, Int(5)) {
		t.Errorf("length after sparse store = %v", v)
	}
	if v, _ := h.GetProperty(arr, "3"); !v.IsUndefined() {
		t.Errorf("hole = %v, want undefined", v)
	}
	if err := h.SetProperty(arr, "length", Int(1)); err != nil {
		t.Fatal(err)
	}
	if got := h.Enumerate(arr); !slices.Equal(got, []string{"0"}) {
		t.Errorf("Enumerate = %v", got)
	}
	if err := h.SetProperty(arr, "label", String("named")); err != nil {
		t.Fatal(err)
	}
	if v, _ := h.GetProperty(arr, "label"); !StrictEquals(v, String("named")) {
		t.Errorf("named property = %v", v)
	}
}

func TestSparseArray(t *testing.T) {
	h := newTestHeap()
	arr := h.NewArray(nil)
	a, _ := h.AsArray(arr)

	last := MaxArrayLength - 1
	if err := h.SetProperty(arr, strconv.Itoa(last), Int(1)); err != nil {
		t.Fatal(err)
	}
	if a.Len() != MaxArrayLength || len(a.elems) != 0 {
		t.Fatalf("distant store grew the dense prefix to %d (length %d)", len(a.elems), a.Len())
	}
	if v, _ := h.GetProperty(arr, strconv.Itoa(last)); !StrictEquals(v, Int(1)) {
		t.Errorf("sparse element = %v", v)
	}
	var se *ScriptError
	if _, err := a.Values(); !errors.As(err, &se) || se.Type != RangeError {
		t.Errorf("expected copying a huge array to raise RangeError, got %v", err)
	}
	if err := h.SetProperty(arr, strconv.Itoa(MaxArrayLength), Int(1)); err == nil {
		t.Error("expected a store at MaxArrayLength to fail")
	}

	if err := a.SetLength(3 * denseGap); err != nil {
		t.Fatal(err)
	}
	if len(a.sparse) != 0 || len(a.elems) != 0 {
		t.Errorf("truncation kept %d sparse and %d dense elements", len(a.sparse), len(a.elems))
	}

	// a sparse element joins the dense prefix once the prefix reaches it
	far := 2 * denseGap
	a.Set(h, arr, far, String("far"))
	for i := 0; i < far; i += denseGap / 2 {
		a.Set(h, arr, i, Int(i))
	}
	a.Set(h, arr, far-1, Int(far-1))
	if len(a.sparse) != 0 || len(a.elems) != far+1 {
		t.Errorf("expected the sparse element to be absorbed, got %d dense and %d sparse", len(a.elems), len(a.sparse))
	}
	if a.At(far).AsString() != "far" || a.Len() != 3*denseGap {
		t.Errorf("unexpected array state: at=%v len=%d", a.At(far), a.Len())
	}
	if got := a.Pop(); !got.IsUndefined() || a.Len() != 3*denseGap-1 {
		t.Errorf("Pop = %v, length %d", got, a.Len())
	}
}

func TestArrayLengthAllocatesNothing(t *testing.T) {
	h := newTestHeap()
	arr := h.NewArrayLength(MaxArrayLength)
	a, _ := h.AsArray(arr)
	if a.Len() != MaxArrayLength || cap(a.elems) != 0 {
		t.Errorf("length %d, capacity %d", a.Len(), cap(a.elems))
	}
	if err := a.Push(h, arr, Int(1)); err == nil {
		t.Error("expected push past MaxArrayLength to fail")
	}
}

func TestPrimitiveProperties(t *testing.T) {
	h := newTestHeap()
	if v, _ := h.GetProperty(String("héllo"), "length"); !StrictEquals(v, Int(5)) {
		t.Errorf("string length = %v", v)
	}
	if v, err := h.GetProperty(Undefined, "x"); err != nil || !v.IsUndefined() {
		t.Errorf("property of undefined = %v, %v", v, err)
	}
	if err := h.SetProperty(Int(1), "x", Int(2)); err != nil {
		t.Errorf("store on primitive returned %v", err)
	}
}

func TestInstanceOf(t *testing.T) {
	h := newTestHeap()
	ctor := h.testFunc("Point", func(Value, []Value) (Value, error) { return Undefined, nil })
	proto := h.NewObject()
	h.DefineProperty(ctor, "prototype", proto, DontEnum)
	inst := h.New(proto, nil)

	if ok, _ := h.InstanceOf(inst, ctor); !ok {
		t.Error("instance not recognised")
	}
	if ok, _ := h.InstanceOf(h.NewObject(), ctor); ok {
		t.Error("unrelated object recognised")
	}
	if ok, _ := h.InstanceOf(Int(1), ctor); ok {
		t.Error("primitive recognised")
	}
}

func TestHeapCollectKeepsReachable(t *testing.T) {
	h := newTestHeap()
	kept := h.NewObject()
	h.DefineProperty(h.Global(), "kept", kept, 0)
	h.DefineProperty(kept, "self", kept, 0)
	lost := h.NewObject()
	h.DefineProperty(lost, "self", lost, 0)

	h.Safepoint()
	h.Arena().Collect()

	if _, ok := h.Object(kept); !ok {
		t.Error("reachable object collected")
	}
	if _, ok := h.Object(lost); ok {
		t.Error("unreachable cycle survived")
	}
	if _, ok := h.Object(h.Intrinsic(ArrayPrototype)); !ok {
		t.Error("intrinsic collected")
	}
}

func TestNewError(t *testing.T) {
	h := newTestHeap()
	e := h.NewError(RangeError, "too deep")
	o, ok := h.Object(e)
	if !ok {
		t.Fatal("error object missing")
	}
	data, ok := o.Native().(*ErrorData)
	if !ok || data.Type != RangeError {
		t.Fatalf("payload = %#v", o.Native())
	}
	if v, _ := h.GetProperty(e, "message"); !StrictEquals(v, String("too deep")) {
		t.Errorf("message = %v", v)
	}
	if v, _ := h.GetProperty(e, "name"); !StrictEquals(v, String("RangeError")) {
		t.Errorf("name = %v", v)
	}
}
