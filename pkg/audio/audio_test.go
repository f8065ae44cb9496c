package audio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// makeWAV encodes frames of a mono or stereo signal with go-audio's encoder.
func makeWAV(t *testing.T, rate, depth, chans int, samples []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, rate, depth, chans, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: chans, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: depth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// smallMIDI is a format 0 file with a single end-of-track event.
var smallMIDI = []byte{
	'M', 'T', 'h', 'd', 0, 0, 0, 6, 0, 0, 0, 1, 0, 96,
	'M', 'T', 'r', 'k', 0, 0, 0, 4, 0, 0xFF, 0x2F, 0,
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"wav", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), FormatWAV},
		{"midi", smallMIDI, FormatMIDI},
		{"mp3 with id3", []byte("ID3\x03\x00"), FormatMP3},
		{"mp3 frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, FormatMP3},
		{"text", []byte("hello"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.data); got != tt.want {
				t.Errorf("Sniff = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeWAV(t *testing.T) {
	t.Run("16-bit mono is duplicated to stereo", func(t *testing.T) {
		data := makeWAV(t, 8000, 16, 1, []int{100, -100, 200, -200})
		clip, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if clip.Format != FormatWAV || clip.SampleRate != 8000 || clip.Frames() != 4 {
			t.Fatalf("unexpected clip %+v", clip)
		}
		if clip.Duration != 500*time.Microsecond {
			t.Errorf("Duration = %v", clip.Duration)
		}
		l := int16(uint16(clip.PCM[4]) | uint16(clip.PCM[5])<<8)
		r := int16(uint16(clip.PCM[6]) | uint16(clip.PCM[7])<<8)
		if l != -100 || r != -100 {
			t.Errorf("frame 1 = %d,%d", l, r)
		}
	})

	t.Run("8-bit samples are recentred", func(t *testing.T) {
		data := makeWAV(t, 11025, 8, 2, []int{128, 255, 0, 128})
		clip, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		first := int16(uint16(clip.PCM[0]) | uint16(clip.PCM[1])<<8)
		if first != 0 {
			t.Errorf("silence decoded as %d", first)
		}
	})
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode([]byte("plain text")); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("text: %v", err)
	}
	if _, err := Decode([]byte("RIFF\x04\x00\x00\x00WAVE")); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("truncated wav: %v", err)
	}
	if _, err := Decode([]byte("MThd\x00\x00")); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("truncated midi: %v", err)
	}
}

func TestDecodeMIDI(t *testing.T) {
	clip, err := Decode(smallMIDI)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if clip.Format != FormatMIDI || clip.midi == nil {
		t.Fatalf("unexpected clip %+v", clip)
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestSilentMixer(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := NewMixer(WithClock(clock.now))
	clip := &Clip{Format: FormatWAV, SampleRate: SampleRate, Duration: time.Second}

	once, err := m.Play(clip, PlayOptions{Volume: 1})
	if err != nil {
		t.Fatal(err)
	}
	looped, err := m.Play(clip, PlayOptions{Loops: 3, Volume: 1})
	if err != nil {
		t.Fatal(err)
	}
	if m.Active() != 2 {
		t.Fatalf("Active = %d", m.Active())
	}

	clock.advance(1500 * time.Millisecond)
	if done := m.Update(); len(done) != 1 || done[0] != once.ID {
		t.Fatalf("Update after 1.5s = %v", done)
	}
	if pos := looped.Position(clock.now()); pos != 500*time.Millisecond {
		t.Errorf("Position = %v", pos)
	}

	clock.advance(2 * time.Second)
	if done := m.Update(); len(done) != 1 || done[0] != looped.ID {
		t.Fatalf("Update after 3.5s = %v", done)
	}
	if m.Active() != 0 {
		t.Errorf("Active = %d", m.Active())
	}
}

func TestMixerStop(t *testing.T) {
	m := NewMixer()
	clip := &Clip{Format: FormatMP3, SampleRate: SampleRate, Duration: time.Minute}
	ch, err := m.Play(clip, PlayOptions{Offset: 2 * time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	if ch.opts.Offset != time.Minute {
		t.Errorf("offset not clamped: %v", ch.opts.Offset)
	}
	if !m.Stop(ch.ID) || m.Stop(ch.ID) {
		t.Error("Stop should succeed exactly once")
	}

	m.Play(clip, PlayOptions{})
	m.Play(clip, PlayOptions{})
	m.StopAll()
	if m.Active() != 0 {
		t.Errorf("Active after StopAll = %d", m.Active())
	}

	m.SetMuted(true)
	if !m.Muted() {
		t.Error("expected muted")
	}
}
