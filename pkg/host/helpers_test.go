package host

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/zurustar/kagami/pkg/movie"
	"github.com/zurustar/kagami/pkg/opcode"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// script assembles a legacy frame script.
type script struct {
	code   []opcode.Instruction
	consts []opcode.Constant
}

func (s *script) op(op opcode.LegacyOp, operands ...int32) *script {
	s.code = append(s.code, opcode.L(op, operands...))
	return s
}

func (s *script) push(v any) *script {
	var c opcode.Constant
	switch x := v.(type) {
	case int:
		c = opcode.Number(float64(x))
	case string:
		c = opcode.String(x)
	default:
		panic("unsupported constant")
	}
	s.consts = append(s.consts, c)
	return s.op(opcode.PushConst, int32(len(s.consts)-1))
}

// set emits name = v.
func (s *script) set(name string, v any) *script {
	return s.push(name).push(v).op(opcode.SetVariable)
}

// callRoot emits _root.name(args...) and drops the result.
func (s *script) callRoot(name string, args ...any) *script {
	for i := len(args) - 1; i >= 0; i-- {
		s.push(args[i])
	}
	s.push(len(args)).push("_root").op(opcode.GetVariable).push(name).op(opcode.CallMethod)
	return s.op(opcode.Pop)
}

func (s *script) method(name string) *opcode.Method {
	return &opcode.Method{
		Name:      name,
		Dialect:   opcode.DialectLegacy,
		Code:      s.code,
		Constants: s.consts,
		Script:    true,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPlayer(t *testing.T, mv *movie.Movie, opts ...Option) *Player {
	t.Helper()
	p := NewPlayer(append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err := p.Load(mv); err != nil {
		t.Fatalf("failed to load movie: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

// ticks runs n frames starting at epoch.
func ticks(t *testing.T, p *Player, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := p.Tick(epoch.Add(time.Duration(p.tick) * p.FrameInterval())); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
	}
}

func rootProp(t *testing.T, p *Player, name string) value.Value {
	t.Helper()
	v, err := p.Machine().Heap().GetProperty(p.Root(), name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return v
}

// counter returns a native function that counts its calls.
func counter(p *Player, name string, n *int) value.Value {
	return p.Machine().NewNative(name, 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		*n++
		return value.Undefined, nil
	})
}

func pngAsset(t *testing.T, name string, w, h int) movie.Asset {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return movie.Asset{Name: name, Kind: movie.AssetImage, Data: buf.Bytes()}
}
