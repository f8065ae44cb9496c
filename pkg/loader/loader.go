// Package loader runs the asynchronous loads a movie starts at run time:
// variables documents, raw data, images and sounds. Fetches happen on their
// own goroutines; results come back through the machine's queue and are
// applied on the script thread during the next tick.
//
// Every load is addressed by a Handle. Cancelling or unloading a handle
// frees it, and any result that arrives for a freed handle is discarded.
package loader

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"golang.org/x/text/encoding"

	"github.com/zurustar/kagami/pkg/audio"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// ErrDropped is the failure of a load whose result was discarded from a
// full task queue.
var ErrDropped = errors.New("load result dropped from a full task queue")

// Handle identifies a load. The zero Handle is never issued.
type Handle struct {
	index uint32
	gen   uint32
}

// IsNil reports whether h is the zero handle.
func (h Handle) IsNil() bool {
	return h.index == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("load#%d.%d", h.index, h.gen)
}

// Kind is what a load delivers.
type Kind uint8

const (
	// KindVariables sets name=value pairs on a target object.
	KindVariables Kind = iota
	// KindData hands the body to a data object's onData or onLoad.
	KindData
	// KindImage decodes a bitmap for a display object.
	KindImage
	// KindSound decodes a sound for a Sound object.
	KindSound
)

func (k Kind) String() string {
	switch k {
	case KindVariables:
		return "variables"
	case KindData:
		return "data"
	case KindImage:
		return "image"
	case KindSound:
		return "sound"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Format is how a KindData body is presented to script.
type Format uint8

const (
	FormatText Format = iota
	FormatBinary
	FormatVariables
)

// Status is the completion state of a load.
type Status uint8

const (
	StatusPending Status = iota
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	}
	return "failed"
}

// ImageSink attaches a decoded bitmap to its target.
type ImageSink func(m *vm.Machine, target value.Value, img image.Image, ct ContentType) error

// SoundSink attaches a decoded clip to its target.
type SoundSink func(m *vm.Machine, target value.Value, clip *audio.Clip) error

// Option configures a Manager.
type Option func(*Manager)

// WithFetcher sets the fetcher. The default fails every load.
func WithFetcher(f Fetcher) Option {
	return func(mgr *Manager) {
		mgr.fetcher = f
	}
}

// WithCodepage decodes variables documents from enc instead of UTF-8.
func WithCodepage(enc encoding.Encoding) Option {
	return func(mgr *Manager) {
		mgr.codepage = enc
	}
}

// WithImageSink sets where decoded images go.
func WithImageSink(fn ImageSink) Option {
	return func(mgr *Manager) {
		mgr.onImage = fn
	}
}

// WithSoundSink sets where decoded sounds go.
func WithSoundSink(fn SoundSink) Option {
	return func(mgr *Manager) {
		mgr.onSound = fn
	}
}

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(mgr *Manager) {
		mgr.log = log
	}
}

type entry struct {
	gen    uint32
	live   bool
	kind   Kind
	format Format
	url    string
	target value.Value
	status Status
	cancel context.CancelFunc
}

// result is what a fetch goroutine hands back.
type result struct {
	data []byte
	img  image.Image
	ct   ContentType
	clip *audio.Clip
	err  error
}

// Manager owns the in-flight loads of one machine. Its methods must be
// called on the script thread.
type Manager struct {
	m        *vm.Machine
	fetcher  Fetcher
	codepage encoding.Encoding
	onImage  ImageSink
	onSound  SoundSink
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// slot 0 is reserved so that the zero Handle is nil
	slots []entry
	free  []uint32
}

// NewManager creates a manager delivering results to m.
func NewManager(m *vm.Machine, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		m:       m,
		fetcher: SchemeFetcher{},
		log:     m.Logger(),
		ctx:     ctx,
		cancel:  cancel,
		slots:   make([]entry, 1, 16),
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// LoadVariables fetches a variables document into target.
func (mgr *Manager) LoadVariables(url string, target value.Value) (Handle, error) {
	return mgr.start(KindVariables, FormatVariables, url, target)
}

// LoadData fetches url for a data object.
func (mgr *Manager) LoadData(url string, format Format, target value.Value) (Handle, error) {
	return mgr.start(KindData, format, url, target)
}

// LoadImage fetches and decodes a bitmap for target.
func (mgr *Manager) LoadImage(url string, target value.Value) (Handle, error) {
	return mgr.start(KindImage, FormatBinary, url, target)
}

// LoadSound fetches and decodes a sound for target.
func (mgr *Manager) LoadSound(url string, target value.Value) (Handle, error) {
	return mgr.start(KindSound, FormatBinary, url, target)
}

func (mgr *Manager) start(kind Kind, format Format, url string, target value.Value) (Handle, error) {
	if _, ok := mgr.m.Heap().Object(target); !ok {
		return Handle{}, value.Errorf(value.TypeError, "load target for %s is not an object", url)
	}
	if err := mgr.ctx.Err(); err != nil {
		return Handle{}, fmt.Errorf("loader closed: %w", err)
	}

	ctx, cancel := context.WithCancel(mgr.ctx)
	h := mgr.alloc(entry{
		kind:   kind,
		format: format,
		url:    url,
		target: target,
		cancel: cancel,
	})
	mgr.m.Retain(target)
	mgr.log.Debug("load started", "handle", h.String(), "kind", kind.String(), "url", url)

	q := mgr.m.Queue()
	mgr.wg.Add(1)
	go func() {
		defer mgr.wg.Done()
		res := mgr.fetch(ctx, kind, url)
		if ctx.Err() != nil {
			return
		}
		q.Push(&vm.Task{
			Source: "loader " + url,
			Run:    func(*vm.Machine) { mgr.complete(h, res) },
			Drop:   func(*vm.Machine) { mgr.complete(h, result{err: ErrDropped}) },
		})
	}()
	return h, nil
}

// fetch runs off the script thread. Decoding happens here too so the tick
// only pays for applying the result.
func (mgr *Manager) fetch(ctx context.Context, kind Kind, url string) result {
	data, err := mgr.fetcher.Fetch(ctx, url)
	if err != nil {
		return result{err: err}
	}
	res := result{data: data}
	switch kind {
	case KindImage:
		res.img, res.ct, res.err = DecodeImage(data)
	case KindSound:
		res.clip, res.err = audio.Decode(data)
	}
	return res
}

func (mgr *Manager) alloc(e entry) Handle {
	e.live = true
	e.status = StatusPending
	if n := len(mgr.free); n > 0 {
		i := mgr.free[n-1]
		mgr.free = mgr.free[:n-1]
		e.gen = mgr.slots[i].gen
		mgr.slots[i] = e
		return Handle{index: i, gen: e.gen}
	}
	mgr.slots = append(mgr.slots, e)
	return Handle{index: uint32(len(mgr.slots) - 1), gen: e.gen}
}

func (mgr *Manager) get(h Handle) (*entry, bool) {
	if h.IsNil() || int(h.index) >= len(mgr.slots) {
		return nil, false
	}
	e := &mgr.slots[h.index]
	if !e.live || e.gen != h.gen {
		return nil, false
	}
	return e, true
}

// release drops the hold on the target of a pending entry.
func (mgr *Manager) release(e *entry) {
	if e.status == StatusPending {
		e.cancel()
		mgr.m.Release(e.target)
	}
	e.target = value.Undefined
}

func (mgr *Manager) freeSlot(i uint32) {
	e := &mgr.slots[i]
	gen := e.gen + 1
	*e = entry{gen: gen}
	mgr.free = append(mgr.free, i)
}

// Status returns the state of a load.
func (mgr *Manager) Status(h Handle) (Status, bool) {
	e, ok := mgr.get(h)
	if !ok {
		return StatusFailed, false
	}
	return e.status, true
}

// Cancel abandons a load. Its result, if it still arrives, is discarded.
func (mgr *Manager) Cancel(h Handle) bool {
	e, ok := mgr.get(h)
	if !ok {
		return false
	}
	mgr.release(e)
	mgr.freeSlot(h.index)
	mgr.log.Debug("load cancelled", "handle", h.String(), "url", e.url)
	return true
}

// Unload cancels every load whose target is target, as when a display
// object is removed. It returns the number of loads dropped.
func (mgr *Manager) Unload(target value.Value) int {
	n := 0
	for i := 1; i < len(mgr.slots); i++ {
		e := &mgr.slots[i]
		if e.live && e.status == StatusPending && value.StrictEquals(e.target, target) {
			mgr.release(e)
			mgr.freeSlot(uint32(i))
			n++
		}
	}
	return n
}

// Prune frees the handles of finished loads.
func (mgr *Manager) Prune() int {
	n := 0
	for i := 1; i < len(mgr.slots); i++ {
		if e := &mgr.slots[i]; e.live && e.status != StatusPending {
			mgr.freeSlot(uint32(i))
			n++
		}
	}
	return n
}

// Pending returns the number of loads still in flight.
func (mgr *Manager) Pending() int {
	n := 0
	for i := 1; i < len(mgr.slots); i++ {
		if e := &mgr.slots[i]; e.live && e.status == StatusPending {
			n++
		}
	}
	return n
}

// Wait blocks until every started fetch has finished or been abandoned.
// Results are still applied only by the queue.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()
}

// Close cancels every load and waits for the fetch goroutines.
func (mgr *Manager) Close() {
	mgr.cancel()
	mgr.wg.Wait()
	for i := 1; i < len(mgr.slots); i++ {
		if e := &mgr.slots[i]; e.live {
			mgr.release(e)
			mgr.freeSlot(uint32(i))
		}
	}
}
