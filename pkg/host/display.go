package host

import (
	"image"
	"math"
	"slices"

	"github.com/zurustar/kagami/pkg/gc"
	"github.com/zurustar/kagami/pkg/value"
)

// DisplayObject is the native payload of movie clips. Its underscore
// properties are backed by host state and its children are reachable by
// name.
type DisplayObject struct {
	name    string
	depth   int
	x, y    float64
	width   float64
	height  float64
	sized   bool
	visible bool
	alpha   float64

	parent   value.Value
	children []value.Value

	// frame is 1-based. Only the root clip has more than one frame.
	frame       int
	totalFrames int
	playing     bool

	// entered is false until the scripts of the current frame have run.
	entered bool
	// jumped suppresses the next advance after a goto.
	jumped  bool
	removed bool

	image image.Image
	asset string
	// in is the player's pointer state for _xmouse and _ymouse.
	in *input
}

func newDisplayObject(name string) *DisplayObject {
	return &DisplayObject{
		name:        name,
		visible:     true,
		alpha:       100,
		frame:       1,
		totalFrames: 1,
		playing:     true,
	}
}

// Name returns the instance name.
func (d *DisplayObject) Name() string { return d.name }

// Position returns the position relative to the parent.
func (d *DisplayObject) Position() (x, y float64) { return d.x, d.y }

// Size returns the display size: the explicit size when one was set,
// otherwise the bounds of the attached bitmap.
func (d *DisplayObject) Size() (w, h float64) {
	if d.sized || d.image == nil {
		return d.width, d.height
	}
	b := d.image.Bounds()
	return float64(b.Dx()), float64(b.Dy())
}

// Visible reports the _visible flag.
func (d *DisplayObject) Visible() bool { return d.visible }

// Alpha returns _alpha in percent.
func (d *DisplayObject) Alpha() float64 { return d.alpha }

// Image returns the attached bitmap, if any.
func (d *DisplayObject) Image() image.Image { return d.image }

// Asset returns the name of the movie asset the clip was placed with.
func (d *DisplayObject) Asset() string { return d.asset }

// CurrentFrame returns the 1-based frame number.
func (d *DisplayObject) CurrentFrame() int { return d.frame }

// Children returns the child clips in depth order.
func (d *DisplayObject) Children() []value.Value { return d.children }

// TypeName makes typeof report clips the way legacy content expects.
func (d *DisplayObject) TypeName() string { return "movieclip" }

// Trace reports the parent and children.
func (d *DisplayObject) Trace(m gc.Marker) {
	d.parent.Mark(m)
	for _, c := range d.children {
		c.Mark(m)
	}
}

// GetHook serves the virtual properties and child lookup.
func (d *DisplayObject) GetHook(h *value.Heap, self value.Value, name string) (value.Value, bool, error) {
	switch name {
	case "_x":
		return value.Number(d.x), true, nil
	case "_y":
		return value.Number(d.y), true, nil
	case "_width":
		w, _ := d.Size()
		return value.Number(w), true, nil
	case "_height":
		_, ht := d.Size()
		return value.Number(ht), true, nil
	case "_visible":
		return value.Bool(d.visible), true, nil
	case "_alpha":
		return value.Number(d.alpha), true, nil
	case "_name":
		return value.String(d.name), true, nil
	case "_currentframe":
		return value.Int(d.frame), true, nil
	case "_totalframes":
		return value.Int(d.totalFrames), true, nil
	case "_xmouse", "_ymouse":
		if d.in == nil {
			return value.Int(0), true, nil
		}
		ox, oy := d.origin(h)
		if name == "_xmouse" {
			return value.Number(d.in.mouseX - ox), true, nil
		}
		return value.Number(d.in.mouseY - oy), true, nil
	case "_parent":
		if d.parent.IsObject() {
			return d.parent, true, nil
		}
		return value.Undefined, true, nil
	}
	if c, ok := d.child(h, name); ok {
		return c, true, nil
	}
	return value.Undefined, false, nil
}

// SetHook stores the virtual properties. NaN positions and sizes are
// ignored; _currentframe and _totalframes are read-only.
func (d *DisplayObject) SetHook(h *value.Heap, self value.Value, name string, v value.Value) (bool, error) {
	switch name {
	case "_x", "_y", "_width", "_height", "_alpha":
		f, err := h.ToNumber(v)
		if err != nil {
			return true, err
		}
		if math.IsNaN(f) {
			return true, nil
		}
		switch name {
		case "_x":
			d.x = f
		case "_y":
			d.y = f
		case "_width":
			_, d.height = d.Size()
			d.width, d.sized = math.Max(f, 0), true
		case "_height":
			d.width, _ = d.Size()
			d.height, d.sized = math.Max(f, 0), true
		case "_alpha":
			d.alpha = f
		}
		return true, nil
	case "_visible":
		d.visible = h.ToBoolean(v)
		return true, nil
	case "_name":
		s, err := h.ToString(v)
		if err != nil {
			return true, err
		}
		d.name = s
		return true, nil
	case "_currentframe", "_totalframes", "_parent", "_xmouse", "_ymouse":
		return true, nil
	}
	return false, nil
}

// origin returns the absolute position of the clip.
func (d *DisplayObject) origin(h *value.Heap) (x, y float64) {
	for cur := d; cur != nil; {
		x += cur.x
		y += cur.y
		next, ok := asDisplay(h, cur.parent)
		if !ok {
			break
		}
		cur = next
	}
	return x, y
}

func (d *DisplayObject) child(h *value.Heap, name string) (value.Value, bool) {
	for _, c := range d.children {
		if cd, ok := asDisplay(h, c); ok && cd.name == name {
			return c, true
		}
	}
	return value.Undefined, false
}

// addChild inserts c keeping children ordered by depth. A child already at
// that depth is replaced and returned.
func (d *DisplayObject) addChild(h *value.Heap, self, c value.Value, cd *DisplayObject) (value.Value, bool) {
	cd.parent = self
	h.Barrier(c, self)
	h.Barrier(self, c)
	i, found := slices.BinarySearchFunc(d.children, cd.depth, func(v value.Value, depth int) int {
		vd, _ := asDisplay(h, v)
		return vd.depth - depth
	})
	if found {
		old := d.children[i]
		d.children[i] = c
		if od, ok := asDisplay(h, old); ok {
			od.parent = value.Undefined
			od.removed = true
		}
		return old, true
	}
	d.children = slices.Insert(d.children, i, c)
	return value.Undefined, false
}

func (d *DisplayObject) removeChild(c value.Value) bool {
	i := slices.IndexFunc(d.children, func(v value.Value) bool { return value.StrictEquals(v, c) })
	if i < 0 {
		return false
	}
	d.children = slices.Delete(d.children, i, i+1)
	return true
}

// nextDepth is one above the highest depth in use.
func (d *DisplayObject) nextDepth(h *value.Heap) int {
	if len(d.children) == 0 {
		return 0
	}
	last, _ := asDisplay(h, d.children[len(d.children)-1])
	return last.depth + 1
}

func asDisplay(h *value.Heap, v value.Value) (*DisplayObject, bool) {
	o, ok := h.Object(v)
	if !ok {
		return nil, false
	}
	d, ok := o.Native().(*DisplayObject)
	return d, ok
}
