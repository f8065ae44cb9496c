package host

import (
	"slices"

	"github.com/zurustar/kagami/pkg/gc"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// Event handler names dispatched by the player.
const (
	EventEnterFrame     = "onEnterFrame"
	EventMouseMove      = "onMouseMove"
	EventMouseDown      = "onMouseDown"
	EventMouseUp        = "onMouseUp"
	EventPress          = "onPress"
	EventRelease        = "onRelease"
	EventReleaseOutside = "onReleaseOutside"
	EventKeyDown        = "onKeyDown"
	EventKeyUp          = "onKeyUp"
)

// Key codes exposed as Key constants.
var keyCodes = map[string]int{
	"BACKSPACE": 8,
	"TAB":       9,
	"ENTER":     13,
	"SHIFT":     16,
	"CONTROL":   17,
	"ESCAPE":    27,
	"SPACE":     32,
	"PGUP":      33,
	"PGDN":      34,
	"END":       35,
	"HOME":      36,
	"LEFT":      37,
	"UP":        38,
	"RIGHT":     39,
	"DOWN":      40,
	"INSERT":    45,
	"DELETEKEY": 46,
}

// input is the keyboard and pointer state scripts can query.
type input struct {
	keys   map[int]bool
	code   int
	ascii  int
	mouseX float64
	mouseY float64
	// pressed is the clip that received onPress, until the button is
	// released.
	pressed value.Value

	keyListeners   []value.Value
	mouseListeners []value.Value
}

func newInput() *input {
	return &input{keys: make(map[int]bool)}
}

func (in *input) mark(m gc.Marker) {
	in.pressed.Mark(m)
	for _, v := range in.keyListeners {
		v.Mark(m)
	}
	for _, v := range in.mouseListeners {
		v.Mark(m)
	}
}

// Dispatch calls the handler named event on target. An undefined target
// broadcasts to every clip and to the listeners registered for the event.
// It returns how many handlers ran.
func (p *Player) Dispatch(event string, target value.Value, args ...value.Value) int {
	if p.m == nil {
		return 0
	}
	if target.IsObject() {
		if p.callHandler(target, event, args...) {
			return 1
		}
		return 0
	}
	n := p.broadcast(event, args...)
	for _, l := range p.listeners(event) {
		if p.callHandler(l, event, args...) {
			n++
		}
	}
	return n
}

func (p *Player) listeners(event string) []value.Value {
	switch event {
	case EventKeyDown, EventKeyUp:
		return slices.Clone(p.input.keyListeners)
	case EventMouseMove, EventMouseDown, EventMouseUp:
		return slices.Clone(p.input.mouseListeners)
	}
	return nil
}

// PostEvent schedules fn to run on the tick goroutine at the start of the
// next Tick. It is safe to call from any goroutine after Load.
func (p *Player) PostEvent(source string, fn func(*Player)) {
	p.m.Queue().Post(source, func(*vm.Machine) { fn(p) })
}

// MouseMove records the pointer position and broadcasts onMouseMove.
func (p *Player) MouseMove(x, y float64) {
	if p.input.mouseX == x && p.input.mouseY == y {
		return
	}
	p.input.mouseX, p.input.mouseY = x, y
	p.Dispatch(EventMouseMove, value.Undefined)
}

// MouseDown broadcasts onMouseDown and sends onPress to the topmost clip
// under the pointer that handles it.
func (p *Player) MouseDown(x, y float64) {
	p.input.mouseX, p.input.mouseY = x, y
	p.Dispatch(EventMouseDown, value.Undefined)
	if c, ok := p.hit(x, y, EventPress); ok {
		p.input.pressed = c
		p.callHandler(c, EventPress)
	}
}

// MouseUp broadcasts onMouseUp and releases the pressed clip.
func (p *Player) MouseUp(x, y float64) {
	p.input.mouseX, p.input.mouseY = x, y
	p.Dispatch(EventMouseUp, value.Undefined)
	c := p.input.pressed
	p.input.pressed = value.Undefined
	d, ok := asDisplay(p.m.Heap(), c)
	if !ok || d.removed {
		return
	}
	if p.contains(d, x, y) {
		p.callHandler(c, EventRelease)
	} else {
		p.callHandler(c, EventReleaseOutside)
	}
}

// KeyDown records a pressed key and broadcasts onKeyDown.
func (p *Player) KeyDown(code, ascii int) {
	p.input.keys[code] = true
	p.input.code, p.input.ascii = code, ascii
	p.Dispatch(EventKeyDown, value.Undefined)
}

// KeyUp records a released key and broadcasts onKeyUp.
func (p *Player) KeyUp(code, ascii int) {
	delete(p.input.keys, code)
	p.input.code, p.input.ascii = code, ascii
	p.Dispatch(EventKeyUp, value.Undefined)
}

// hit returns the topmost visible clip containing (x, y) that defines
// handler.
func (p *Player) hit(x, y float64, handler string) (value.Value, bool) {
	h := p.m.Heap()
	var order []value.Value
	var visit func(v value.Value)
	visit = func(v value.Value) {
		d, ok := asDisplay(h, v)
		if !ok || !d.visible {
			return
		}
		order = append(order, v)
		for _, c := range d.children {
			visit(c)
		}
	}
	visit(p.root)
	for _, v := range slices.Backward(order) {
		d, _ := asDisplay(h, v)
		if !p.contains(d, x, y) {
			continue
		}
		if fn, err := h.GetProperty(v, handler); err == nil && h.IsCallable(fn) {
			return v, true
		}
	}
	return value.Undefined, false
}

// inputObjects defines the Key and Mouse globals.
func (p *Player) inputObjects() {
	h := p.m.Heap()
	method := func(obj value.Value, name string, arity int, fn vm.NativeFunc) {
		h.DefineProperty(obj, name, p.m.NewNative(name, arity, fn), value.DontEnum)
	}
	listeners := func(obj value.Value, list *[]value.Value) {
		method(obj, "addListener", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
			if len(args) == 0 || !args[0].IsObject() {
				return value.False, nil
			}
			if !slices.ContainsFunc(*list, func(v value.Value) bool { return value.StrictEquals(v, args[0]) }) {
				*list = append(*list, args[0])
			}
			return value.True, nil
		})
		method(obj, "removeListener", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
			if len(args) == 0 {
				return value.False, nil
			}
			i := slices.IndexFunc(*list, func(v value.Value) bool { return value.StrictEquals(v, args[0]) })
			if i < 0 {
				return value.False, nil
			}
			*list = slices.Delete(*list, i, i+1)
			return value.True, nil
		})
	}

	key := h.NewObject()
	for name, code := range keyCodes {
		h.DefineProperty(key, name, value.Int(code), value.DontDelete|value.ReadOnly)
	}
	method(key, "isDown", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		code, err := p.argNumber(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		return value.Bool(p.input.keys[int(code)]), nil
	})
	method(key, "getCode", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return value.Int(p.input.code), nil
	})
	method(key, "getAscii", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return value.Int(p.input.ascii), nil
	})
	listeners(key, &p.input.keyListeners)
	h.DefineProperty(h.Global(), "Key", key, value.DontEnum)

	mouse := h.NewObject()
	noop := func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return value.Undefined, nil
	}
	method(mouse, "show", 0, noop)
	method(mouse, "hide", 0, noop)
	listeners(mouse, &p.input.mouseListeners)
	h.DefineProperty(h.Global(), "Mouse", mouse, value.DontEnum)
}
