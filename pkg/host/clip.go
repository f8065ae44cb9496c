package host

import (
	"fmt"
	"image"

	"github.com/zurustar/kagami/pkg/loader"
	"github.com/zurustar/kagami/pkg/movie"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// maxGotoChain bounds how many frames a single tick may enter when frame
// scripts keep jumping.
const maxGotoChain = 16

// newClip allocates a display object with the MovieClip prototype.
func (p *Player) newClip(name string, depth int) value.Value {
	d := newDisplayObject(name)
	d.depth = depth
	d.in = p.input
	return p.m.Heap().New(p.clipProto, d)
}

func (p *Player) asClip(v value.Value) (*DisplayObject, error) {
	if d, ok := asDisplay(p.m.Heap(), v); ok {
		return d, nil
	}
	return nil, value.Errorf(value.TypeError, "%s is not a movie clip", p.m.Heap().TypeOf(v))
}

// clipClass builds MovieClip.prototype and the MovieClip global.
func (p *Player) clipClass() {
	h := p.m.Heap()
	proto := h.NewObject()
	p.clipProto = proto
	h.SetIntrinsic("MovieClip.prototype", proto)

	ctor := p.m.NewNative("MovieClip", 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return value.Undefined, value.Errorf(value.TypeError, "movie clips are created with createEmptyMovieClip")
	})
	h.DefineProperty(ctor, "prototype", proto, value.DontEnum|value.DontDelete|value.ReadOnly)
	h.DefineProperty(proto, "constructor", ctor, value.DontEnum)
	h.DefineProperty(h.Global(), "MovieClip", ctor, value.DontEnum)

	method := func(name string, arity int, fn func(d *DisplayObject, this value.Value, args []value.Value) (value.Value, error)) {
		h.DefineProperty(proto, name, p.m.NewNative(name, arity, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
			d, err := p.asClip(this)
			if err != nil {
				return value.Undefined, err
			}
			return fn(d, this, args)
		}), value.DontEnum)
	}

	method("play", 0, func(d *DisplayObject, this value.Value, args []value.Value) (value.Value, error) {
		d.playing = true
		return value.Undefined, nil
	})
	method("stop", 0, func(d *DisplayObject, this value.Value, args []value.Value) (value.Value, error) {
		d.playing = false
		return value.Undefined, nil
	})
	method("gotoAndPlay", 1, func(d *DisplayObject, this value.Value, args []value.Value) (value.Value, error) {
		return value.Undefined, p.gotoFrame(d, args, true)
	})
	method("gotoAndStop", 1, func(d *DisplayObject, this value.Value, args []value.Value) (value.Value, error) {
		return value.Undefined, p.gotoFrame(d, args, false)
	})
	method("nextFrame", 0, func(d *DisplayObject, this value.Value, args []value.Value) (value.Value, error) {
		p.seek(d, d.frame+1, false)
		return value.Undefined, nil
	})
	method("prevFrame", 0, func(d *DisplayObject, this value.Value, args []value.Value) (value.Value, error) {
		p.seek(d, d.frame-1, false)
		return value.Undefined, nil
	})
	method("createEmptyMovieClip", 2, func(d *DisplayObject, this value.Value, args []value.Value) (value.Value, error) {
		name, err := p.argString(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		depth := d.nextDepth(h)
		if len(args) > 1 {
			n, err := p.argNumber(args, 1)
			if err != nil {
				return value.Undefined, err
			}
			depth = int(n)
		}
		return p.addClip(this, d, name, depth), nil
	})
	method("getNextHighestDepth", 0, func(d *DisplayObject, this value.Value, args []value.Value) (value.Value, error) {
		return value.Int(d.nextDepth(h)), nil
	})
	method("removeMovieClip", 0, func(d *DisplayObject, this value.Value, args []value.Value) (value.Value, error) {
		p.removeClip(this, d)
		return value.Undefined, nil
	})
	method("loadMovie", 1, func(d *DisplayObject, this value.Value, args []value.Value) (value.Value, error) {
		url, err := p.argString(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		p.loads.Unload(this)
		if _, err := p.loads.LoadImage(url, this); err != nil {
			return value.Undefined, err
		}
		return value.Undefined, nil
	})
	method("loadVariables", 1, func(d *DisplayObject, this value.Value, args []value.Value) (value.Value, error) {
		url, err := p.argString(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		if _, err := p.loads.LoadVariables(url, this); err != nil {
			return value.Undefined, err
		}
		return value.Undefined, nil
	})
	method("hitTest", 2, func(d *DisplayObject, this value.Value, args []value.Value) (value.Value, error) {
		x, err := p.argNumber(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		y, err := p.argNumber(args, 1)
		if err != nil {
			return value.Undefined, err
		}
		return value.Bool(p.contains(d, x, y)), nil
	})
}

// addClip creates a named child of parent at depth.
func (p *Player) addClip(parent value.Value, pd *DisplayObject, name string, depth int) value.Value {
	h := p.m.Heap()
	c := p.newClip(name, depth)
	cd, _ := asDisplay(h, c)
	if old, replaced := pd.addChild(h, parent, c, cd); replaced {
		p.loads.Unload(old)
	}
	return c
}

// removeClip detaches a clip and abandons its loads. The root cannot be
// removed.
func (p *Player) removeClip(v value.Value, d *DisplayObject) {
	pd, ok := asDisplay(p.m.Heap(), d.parent)
	if !ok || !pd.removeChild(v) {
		return
	}
	d.parent = value.Undefined
	d.removed = true
	p.loads.Unload(v)
}

// gotoFrame accepts a frame number or a frame label.
func (p *Player) gotoFrame(d *DisplayObject, args []value.Value, play bool) error {
	if len(args) == 0 {
		return nil
	}
	frame := 0
	if args[0].IsString() {
		i, ok := p.movie.FrameLabel(args[0].AsString())
		if !ok || d != p.rootDisplay() {
			return nil
		}
		frame = i + 1
	} else {
		n, err := p.m.Heap().ToNumber(args[0])
		if err != nil {
			return err
		}
		frame = int(n)
	}
	p.seek(d, frame, play)
	return nil
}

// seek moves the playhead. Out of range frames clamp to the clip.
func (p *Player) seek(d *DisplayObject, frame int, play bool) {
	frame = min(max(frame, 1), d.totalFrames)
	d.playing = play
	if frame == d.frame {
		return
	}
	d.frame = frame
	d.entered = false
	d.jumped = true
}

func (p *Player) rootDisplay() *DisplayObject {
	d, _ := asDisplay(p.m.Heap(), p.root)
	return d
}

// runFrame runs the scripts of the root's current frame if it has not been
// entered yet. A goto from a frame script enters the target frame in the
// same tick.
func (p *Player) runFrame() {
	d := p.rootDisplay()
	for i := 0; i < maxGotoChain && !d.entered; i++ {
		d.entered = true
		if d.frame-1 >= len(p.movie.Frames) {
			return
		}
		f := p.movie.Frames[d.frame-1]
		p.placeSprites(d.frame, f)
		for _, idx := range f.Scripts {
			method, err := p.movie.Script(idx)
			if err != nil {
				p.log.Warn("frame script missing", "frame", d.frame, "error", err)
				continue
			}
			p.runScript(method)
			if !d.entered {
				break
			}
		}
	}
}

// advance moves playing clips to their next frame, looping at the end.
func (p *Player) advance() {
	p.walk(p.root, func(v value.Value, d *DisplayObject) {
		if d.jumped {
			d.jumped = false
			return
		}
		if !d.playing || d.totalFrames <= 1 {
			return
		}
		d.frame++
		if d.frame > d.totalFrames {
			d.frame = 1
		}
		d.entered = false
	})
}

// placeSprites creates the clips a frame places. Named clips are created
// whenever they are missing; unnamed ones only the first time the frame is
// entered.
func (p *Player) placeSprites(frame int, f movie.Frame) {
	h := p.m.Heap()
	rd := p.rootDisplay()
	first := !p.placed[frame]
	p.placed[frame] = true
	for _, pl := range f.Sprites {
		name := pl.Name
		if name == "" {
			if !first {
				continue
			}
			p.instances++
			name = fmt.Sprintf("instance%d", p.instances)
		} else if _, exists := rd.child(h, name); exists {
			continue
		}
		c := p.addClip(p.root, rd, name, rd.nextDepth(h))
		cd, _ := asDisplay(h, c)
		cd.x, cd.y = pl.X, pl.Y
		if pl.Asset != "" {
			cd.asset = pl.Asset
			cd.image = p.assetImage(pl.Asset)
		}
		for event, idx := range pl.Scripts {
			method, err := p.movie.Script(idx)
			if err != nil {
				continue
			}
			scope := p.scope.Push(c, vm.ScopeTarget)
			h.SetProperty(c, event, p.m.NewFunction(method, scope))
		}
		p.callHandler(c, "onLoad")
	}
}

// assetImage decodes an image asset once.
func (p *Player) assetImage(name string) image.Image {
	if img, ok := p.images[name]; ok {
		return img
	}
	a, ok := p.movie.Asset(name)
	if !ok || a.Kind != movie.AssetImage {
		return nil
	}
	img, _, err := loader.DecodeImage(a.Data)
	if err != nil {
		p.log.Warn("image asset not decodable", "asset", name, "error", err)
		return nil
	}
	p.images[name] = img
	return img
}

// attachImage is the loader's image sink.
func (p *Player) attachImage(m *vm.Machine, target value.Value, img image.Image, ct loader.ContentType) error {
	d, err := p.asClip(target)
	if err != nil {
		return err
	}
	d.image = img
	d.sized = false
	return nil
}

// walk visits the tree in depth order, parents first.
func (p *Player) walk(v value.Value, fn func(value.Value, *DisplayObject)) {
	d, ok := asDisplay(p.m.Heap(), v)
	if !ok {
		return
	}
	fn(v, d)
	for _, c := range append([]value.Value(nil), d.children...) {
		p.walk(c, fn)
	}
}

// broadcast calls name on every clip of the tree that defines it.
func (p *Player) broadcast(name string, args ...value.Value) int {
	n := 0
	p.walk(p.root, func(v value.Value, d *DisplayObject) {
		if d.removed {
			return
		}
		if p.callHandler(v, name, args...) {
			n++
		}
	})
	return n
}

func (p *Player) contains(d *DisplayObject, x, y float64) bool {
	ox, oy := d.origin(p.m.Heap())
	w, ht := d.Size()
	return x >= ox && y >= oy && x < ox+w && y < oy+ht
}

// DrawItem is one visible bitmap of the display list in absolute
// coordinates.
type DrawItem struct {
	Name   string
	Image  image.Image
	X, Y   float64
	Width  float64
	Height float64
	Alpha  float64
}

// DisplayList returns the visible bitmaps back to front.
func (p *Player) DisplayList() []DrawItem {
	if p.m == nil {
		return nil
	}
	var items []DrawItem
	var visit func(v value.Value, alpha float64)
	visit = func(v value.Value, alpha float64) {
		d, ok := asDisplay(p.m.Heap(), v)
		if !ok || !d.visible {
			return
		}
		alpha *= min(max(d.alpha, 0), 100) / 100
		if d.image != nil {
			x, y := d.origin(p.m.Heap())
			w, h := d.Size()
			items = append(items, DrawItem{Name: d.name, Image: d.image, X: x, Y: y, Width: w, Height: h, Alpha: alpha})
		}
		for _, c := range d.children {
			visit(c, alpha)
		}
	}
	visit(p.root, 1)
	return items
}
