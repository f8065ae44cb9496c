// Package host is the bridge between the virtual machine and the rest of the
// player. It owns the display tree, timers, loads and sounds of a running
// movie and drives them from frame ticks, invoking scripts only through the
// machine's entry point.
package host

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/text/encoding"

	"github.com/zurustar/kagami/pkg/audio"
	"github.com/zurustar/kagami/pkg/gc"
	"github.com/zurustar/kagami/pkg/loader"
	"github.com/zurustar/kagami/pkg/logger"
	"github.com/zurustar/kagami/pkg/movie"
	"github.com/zurustar/kagami/pkg/opcode"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
	"github.com/zurustar/kagami/pkg/vm/builtins"
	"github.com/zurustar/kagami/pkg/vm/regvm"
	"github.com/zurustar/kagami/pkg/vm/stackvm"
)

// DefaultMaxScriptFailures is how many uncaught errors a script may raise
// before the player stops running it.
const DefaultMaxScriptFailures = 10

var (
	// ErrNotLoaded is returned by Tick before Load.
	ErrNotLoaded = errors.New("no movie loaded")
	// ErrAlreadyLoaded is returned by a second Load.
	ErrAlreadyLoaded = errors.New("movie already loaded")
)

// Option configures a Player.
type Option func(*Player)

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Player) {
		p.log = log
	}
}

// WithMachineOptions passes options to the machine created by Load.
func WithMachineOptions(opts ...vm.Option) Option {
	return func(p *Player) {
		p.vmOpts = append(p.vmOpts, opts...)
	}
}

// WithMixer sets the audio mixer. The default mixer is silent.
func WithMixer(m *audio.Mixer) Option {
	return func(p *Player) {
		p.mixer = m
	}
}

// WithFetcher sets how loads reach their URLs.
func WithFetcher(f loader.Fetcher) Option {
	return func(p *Player) {
		p.fetcher = f
	}
}

// WithCodepage decodes loaded variables from enc.
func WithCodepage(enc encoding.Encoding) Option {
	return func(p *Player) {
		p.codepage = enc
	}
}

// WithGCPolicy sets the collection policy.
func WithGCPolicy(g GCPolicy) Option {
	return func(p *Player) {
		p.gc = g
	}
}

// WithMaxScriptFailures sets the failure limit per script. Zero never
// halts a script.
func WithMaxScriptFailures(n int) Option {
	return func(p *Player) {
		p.maxFailures = n
	}
}

// WithContext bounds every script run by ctx.
func WithContext(ctx context.Context) Option {
	return func(p *Player) {
		p.ctx = ctx
	}
}

// WithUncaughtHandler forwards uncaught script errors after the player has
// recorded them.
func WithUncaughtHandler(fn func(*vm.UncaughtError)) Option {
	return func(p *Player) {
		p.onUncaught = fn
	}
}

// WithDiagnostics forwards machine diagnostics.
func WithDiagnostics(fn func(vm.Diagnostic)) Option {
	return func(p *Player) {
		p.onDiagnostic = fn
	}
}

// Stats is a snapshot of player counters.
type Stats struct {
	Ticks       int
	Frame       int
	Uncaught    int
	Halted      int
	Diagnostics int
	Timers      int
	Loads       int
	Sounds      int
	GC          gc.Stats
}

// Player runs one movie. All methods must be called from the goroutine that
// calls Tick.
type Player struct {
	m        *vm.Machine
	movie    *movie.Movie
	vmOpts   []vm.Option
	mixer    *audio.Mixer
	fetcher  loader.Fetcher
	codepage encoding.Encoding
	loads    *loader.Manager
	log      *slog.Logger
	ctx      context.Context

	onUncaught   func(*vm.UncaughtError)
	onDiagnostic func(vm.Diagnostic)

	root       value.Value
	document   value.Value
	clipProto  value.Value
	soundProto value.Value
	// scope is the chain legacy frame scripts run in.
	scope *vm.Scope

	timers   *timers
	channels map[int]value.Value
	clips    map[string]*audio.Clip
	images   map[string]image.Image
	input    *input
	// placed records the frames whose sprites were placed once.
	placed    map[int]bool
	instances int

	gc          GCPolicy
	lastCollect int

	maxFailures int
	failures    map[any]int
	current     any

	start time.Time
	now   time.Time
	tick  int

	uncaught    int
	halted      int
	diagnostics int
}

// NewPlayer creates a player.
func NewPlayer(opts ...Option) *Player {
	p := &Player{
		log:         logger.GetLogger(),
		ctx:         context.Background(),
		gc:          DefaultGCPolicy,
		maxFailures: DefaultMaxScriptFailures,
		timers:      newTimers(),
		channels:    make(map[int]value.Value),
		clips:       make(map[string]*audio.Clip),
		images:      make(map[string]image.Image),
		failures:    make(map[any]int),
		placed:      make(map[int]bool),
		input:       newInput(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.mixer == nil {
		p.mixer = audio.NewMixer(audio.WithLogger(p.log))
	}
	return p
}

// Load prepares mv for playback: it creates the machine, links the
// classes, installs the globals and builds the root clip. Classes that fail
// to link are reported as diagnostics and left out; the movie still loads.
func (p *Player) Load(mv *movie.Movie) error {
	if p.m != nil {
		return ErrAlreadyLoaded
	}
	if err := mv.Validate(); err != nil {
		return fmt.Errorf("failed to load movie: %w", err)
	}
	p.movie = mv

	opts := append([]vm.Option{vm.WithLogger(p.log)}, p.vmOpts...)
	opts = append(opts,
		vm.WithDialect(stackvm.New()),
		vm.WithDialect(regvm.New()),
		vm.WithHeapOptions(value.WithVersion(mv.Version)),
		vm.WithUncaughtHandler(p.uncaughtError),
		vm.WithDiagnostics(p.diagnostic),
	)
	p.m = vm.New(opts...)
	h := p.m.Heap()
	h.Arena().AddRootSource(p.markRoots)

	builtins.Install(p.m)
	if len(mv.Classes) > 0 {
		classes, err := regvm.LinkClasses(p.m, mv.Classes)
		if err != nil {
			p.log.Warn("some classes failed to link", "linked", len(classes), "declared", len(mv.Classes), "error", err)
		}
	}

	p.clipClass()
	p.root = p.newClip("", 0)
	rd, _ := asDisplay(h, p.root)
	rd.width, rd.height = float64(mv.Width), float64(mv.Height)
	rd.totalFrames = max(len(mv.Frames), 1)
	p.scope = (*vm.Scope)(nil).Push(p.root, vm.ScopeTarget)

	loadOpts := []loader.Option{
		loader.WithCodepage(p.codepage),
		loader.WithImageSink(p.attachImage),
		loader.WithSoundSink(p.attachLoadedSound),
		loader.WithLogger(p.log),
	}
	if p.fetcher != nil {
		loadOpts = append(loadOpts, loader.WithFetcher(p.fetcher))
	}
	p.loads = loader.NewManager(p.m, loadOpts...)

	p.installGlobals()
	p.soundClass()
	p.timerNatives()

	if mv.Document != "" {
		p.constructDocument(mv.Document)
	}
	p.log.Info("movie loaded",
		"name", mv.Name,
		"version", mv.Version,
		"frames", len(mv.Frames),
		"classes", len(mv.Classes),
		"rate", mv.FrameRate,
	)
	return nil
}

func (p *Player) constructDocument(name string) {
	h := p.m.Heap()
	c, ok := h.Class(name)
	if !ok {
		p.m.Report(vm.Diagnostic{Kind: vm.DiagLink, Message: "document class " + name + " is not available"})
		return
	}
	ctor := value.FromRef(c.Object)
	fn := p.m.NewNative("new "+name, 0, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		return m.Construct(ctor, nil)
	})
	if v, u := p.m.InvokeEntryPoint(p.ctx, fn, value.Undefined, nil); u == nil && v.IsObject() {
		p.document = v
		h.DefineProperty(h.Global(), "document", v, value.DontEnum)
	}
}

// Machine returns the machine, or nil before Load.
func (p *Player) Machine() *vm.Machine { return p.m }

// Movie returns the loaded movie.
func (p *Player) Movie() *movie.Movie { return p.movie }

// Root returns the root clip.
func (p *Player) Root() value.Value { return p.root }

// Loads returns the load manager.
func (p *Player) Loads() *loader.Manager { return p.loads }

// Mixer returns the audio mixer.
func (p *Player) Mixer() *audio.Mixer { return p.mixer }

// Default stage size for movies that do not declare one.
const (
	DefaultWidth  = 550
	DefaultHeight = 400
)

// StageSize returns the movie's stage size in pixels.
func (p *Player) StageSize() (w, h int) {
	w, h = DefaultWidth, DefaultHeight
	if p.movie != nil {
		if p.movie.Width > 0 {
			w = p.movie.Width
		}
		if p.movie.Height > 0 {
			h = p.movie.Height
		}
	}
	return w, h
}

// FrameInterval is the duration of one frame at the movie's rate.
func (p *Player) FrameInterval() time.Duration {
	if p.movie == nil || p.movie.FrameRate <= 0 {
		return time.Second / 12
	}
	return time.Duration(float64(time.Second) / p.movie.FrameRate)
}

// Tick advances the movie by one frame: queued results are applied, due
// timers fire, the current frame's scripts run, onEnterFrame is
// dispatched, the playhead advances and the collector runs per policy.
func (p *Player) Tick(now time.Time) error {
	if p.m == nil {
		return ErrNotLoaded
	}
	if p.start.IsZero() {
		p.start = now
	}
	p.now = now
	p.tick++

	p.m.RunQueue()
	p.fireTimers(now)
	p.runFrame()
	p.broadcast(EventEnterFrame)
	p.advance()
	p.updateSounds()
	p.loads.Prune()
	p.collect()
	return nil
}

// Close stops every sound and abandons pending loads.
func (p *Player) Close() {
	if p.loads != nil {
		p.loads.Close()
	}
	p.mixer.StopAll()
}

// Stats returns the player counters.
func (p *Player) Stats() Stats {
	s := Stats{
		Ticks:       p.tick,
		Uncaught:    p.uncaught,
		Halted:      p.halted,
		Diagnostics: p.diagnostics,
		Timers:      len(p.timers.active),
		Sounds:      len(p.channels),
	}
	if p.m != nil {
		s.GC = p.m.Heap().Arena().Stats()
		s.Loads = p.loads.Pending()
		if d, ok := asDisplay(p.m.Heap(), p.root); ok {
			s.Frame = d.frame
		}
	}
	return s
}

func (p *Player) markRoots(m gc.Marker) {
	p.root.Mark(m)
	p.document.Mark(m)
	p.clipProto.Mark(m)
	p.soundProto.Mark(m)
	p.scope.Mark(m)
	p.timers.mark(m)
	for _, v := range p.channels {
		v.Mark(m)
	}
	p.input.mark(m)
}

// invoke runs fn as an entry point unless its script was halted.
func (p *Player) invoke(fn, this value.Value, args []value.Value) (value.Value, bool) {
	key := p.scriptKey(fn)
	if p.maxFailures > 0 && p.failures[key] >= p.maxFailures {
		return value.Undefined, false
	}
	prev := p.current
	p.current = key
	defer func() { p.current = prev }()
	v, u := p.m.InvokeEntryPoint(p.ctx, fn, this, args)
	return v, u == nil
}

// runScript runs a frame script method.
func (p *Player) runScript(method *opcode.Method) {
	if p.maxFailures > 0 && p.failures[method] >= p.maxFailures {
		return
	}
	prev := p.current
	p.current = method
	defer func() { p.current = prev }()
	this, scope := p.root, p.scope
	if method.Dialect == opcode.DialectClass {
		scope = nil
		if p.document.IsObject() {
			this = p.document
		}
	}
	p.m.RunScript(p.ctx, method, this, scope)
}

// scriptKey identifies the script a function belongs to for failure
// accounting.
func (p *Player) scriptKey(fn value.Value) any {
	if f, ok := p.m.AsFunction(fn); ok {
		if f.Method != nil {
			return f.Method
		}
		return f.FunctionName()
	}
	return fn.Ref()
}

func (p *Player) uncaughtError(u *vm.UncaughtError) {
	p.uncaught++
	if p.current != nil {
		p.failures[p.current]++
		if n := p.failures[p.current]; p.maxFailures > 0 && n == p.maxFailures {
			p.halted++
			p.log.Warn("script halted after repeated failures", "script", describeKey(p.current), "failures", n)
		}
	}
	if p.onUncaught != nil {
		p.onUncaught(u)
	}
}

func (p *Player) diagnostic(d vm.Diagnostic) {
	p.diagnostics++
	if p.onDiagnostic != nil {
		p.onDiagnostic(d)
	}
}

func describeKey(k any) string {
	if m, ok := k.(*opcode.Method); ok {
		return m.String()
	}
	return fmt.Sprint(k)
}

// callHandler calls target[name] when it is a function.
func (p *Player) callHandler(target value.Value, name string, args ...value.Value) bool {
	h := p.m.Heap()
	fn, err := h.GetProperty(target, name)
	if err != nil || !h.IsCallable(fn) {
		return false
	}
	p.invoke(fn, target, args)
	return true
}

// global defines a native function on the global object.
func (p *Player) global(name string, arity int, fn vm.NativeFunc) {
	h := p.m.Heap()
	h.DefineProperty(h.Global(), name, p.m.NewNative(name, arity, fn), value.DontEnum)
}

func (p *Player) argString(args []value.Value, i int) (string, error) {
	if i >= len(args) {
		return "", nil
	}
	return p.m.Heap().ToString(args[i])
}

func (p *Player) argNumber(args []value.Value, i int) (float64, error) {
	if i >= len(args) || args[i].IsUndefined() {
		return 0, nil
	}
	return p.m.Heap().ToNumber(args[i])
}
