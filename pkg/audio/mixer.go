package audio

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/zurustar/kagami/pkg/logger"
)

// MaxLoops caps the repeat count of a single Play.
const MaxLoops = 1000

// PlayOptions configures one playback.
type PlayOptions struct {
	// Offset skips the start of the clip.
	Offset time.Duration
	// Loops is the number of times the clip plays. Values below 1 play once.
	Loops int
	// Volume is 0..1.
	Volume float64
}

// Channel is one playing clip.
type Channel struct {
	ID      int
	Clip    *Clip
	started time.Time
	total   time.Duration
	opts    PlayOptions

	player *audio.Player
	midi   *midiStream
}

// Position returns how far playback has advanced within the current loop.
func (c *Channel) Position(now time.Time) time.Duration {
	elapsed := now.Sub(c.started) + c.opts.Offset
	if c.Clip.Duration <= 0 {
		return 0
	}
	if elapsed >= c.total+c.opts.Offset {
		return c.Clip.Duration
	}
	return elapsed % c.Clip.Duration
}

func (c *Channel) close() {
	if c.midi != nil {
		c.midi.stop()
	}
	if c.player != nil {
		c.player.Close()
	}
}

// Option configures a Mixer.
type Option func(*Mixer)

// WithContext plays through an Ebitengine audio context. Without one the
// mixer is silent.
func WithContext(ctx *audio.Context) Option {
	return func(m *Mixer) {
		m.ctx = ctx
	}
}

// WithSoundFont enables MIDI playback.
func WithSoundFont(sf *meltysynth.SoundFont) Option {
	return func(m *Mixer) {
		m.soundFont = sf
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Mixer) {
		m.now = now
	}
}

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Mixer) {
		m.log = log
	}
}

// WithMuted starts the mixer muted.
func WithMuted(muted bool) Option {
	return func(m *Mixer) {
		m.muted = muted
	}
}

// Mixer owns the playing channels. It is safe for concurrent use.
type Mixer struct {
	ctx       *audio.Context
	soundFont *meltysynth.SoundFont
	channels  map[int]*Channel
	nextID    int
	muted     bool
	now       func() time.Time
	log       *slog.Logger
	mu        sync.Mutex
}

// NewMixer creates a mixer.
func NewMixer(opts ...Option) *Mixer {
	m := &Mixer{
		channels: make(map[int]*Channel),
		now:      time.Now,
		log:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Play starts clip on a new channel.
func (m *Mixer) Play(clip *Clip, opts PlayOptions) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	opts.Loops = min(max(opts.Loops, 1), MaxLoops)
	opts.Offset = min(max(opts.Offset, 0), clip.Duration)
	opts.Volume = min(max(opts.Volume, 0), 1)
	if clip.Format == FormatMIDI && m.soundFont == nil && m.ctx != nil {
		return nil, ErrNoSoundFont
	}

	m.nextID++
	ch := &Channel{
		ID:      m.nextID,
		Clip:    clip,
		started: m.now(),
		total:   clip.Duration*time.Duration(opts.Loops) - opts.Offset,
		opts:    opts,
	}
	if m.ctx != nil {
		if err := m.startPlayer(ch); err != nil {
			return nil, err
		}
	}
	m.channels[ch.ID] = ch
	m.log.Debug("sound started", "channel", ch.ID, "format", clip.Format.String(), "loops", opts.Loops)
	return ch, nil
}

func (m *Mixer) startPlayer(ch *Channel) error {
	var src io.Reader
	switch ch.Clip.Format {
	case FormatMIDI:
		stream, err := newMIDIStream(m.soundFont, ch.Clip.midi, ch.opts.Loops > 1)
		if err != nil {
			return err
		}
		ch.midi = stream
		src = stream
	default:
		skip := int(int64(ch.opts.Offset) * int64(ch.Clip.SampleRate) / int64(time.Second))
		pcm := ch.Clip.PCM[min(skip*bytesPerFrame, len(ch.Clip.PCM)):]
		if ch.opts.Loops > 1 {
			pcm = append(pcm[:len(pcm):len(pcm)], bytes.Repeat(ch.Clip.PCM, ch.opts.Loops-1)...)
		}
		if ch.Clip.SampleRate != SampleRate {
			src = audio.Resample(bytes.NewReader(pcm), int64(len(pcm)), ch.Clip.SampleRate, SampleRate)
		} else {
			src = bytes.NewReader(pcm)
		}
	}
	player, err := m.ctx.NewPlayer(src)
	if err != nil {
		return fmt.Errorf("failed to create audio player: %w", err)
	}
	ch.player = player
	m.applyVolume(ch)
	player.Play()
	return nil
}

func (m *Mixer) applyVolume(ch *Channel) {
	if ch.player == nil {
		return
	}
	if m.muted {
		ch.player.SetVolume(0)
		return
	}
	ch.player.SetVolume(ch.opts.Volume)
}

// SetVolume changes the volume of a playing channel.
func (m *Mixer) SetVolume(id int, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[id]; ok {
		ch.opts.Volume = min(max(v, 0), 1)
		m.applyVolume(ch)
	}
}

// Stop ends a channel. It reports whether the channel was playing.
func (m *Mixer) Stop(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if ok {
		ch.close()
		delete(m.channels, id)
	}
	return ok
}

// StopAll ends every channel.
func (m *Mixer) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.channels {
		ch.close()
		delete(m.channels, id)
	}
}

// SetMuted mutes or unmutes every current and future channel.
func (m *Mixer) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
	for _, ch := range m.channels {
		m.applyVolume(ch)
	}
}

// Muted reports whether output is muted.
func (m *Mixer) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// Channel returns a playing channel.
func (m *Mixer) Channel(id int) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	return ch, ok
}

// Active returns the number of playing channels.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// Now returns the mixer clock.
func (m *Mixer) Now() time.Time {
	return m.now()
}

// Update releases the channels whose playback has finished and returns
// their IDs in ascending order.
func (m *Mixer) Update() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var done []int
	for id, ch := range m.channels {
		if now.Sub(ch.started) >= ch.total {
			ch.close()
			delete(m.channels, id)
			done = append(done, id)
		}
	}
	sort.Ints(done)
	return done
}
