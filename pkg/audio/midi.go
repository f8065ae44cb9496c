package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/zurustar/kagami/pkg/fileutil"
)

// ErrNoSoundFont is returned when a MIDI clip is played without a SoundFont.
var ErrNoSoundFont = errors.New("SoundFont file is required for MIDI playback")

// LoadSoundFont reads and parses a SoundFont (.sf2) file.
func LoadSoundFont(fsys fileutil.FileSystem, path string) (*meltysynth.SoundFont, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read SoundFont %s: %w", path, err)
	}
	sf, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SoundFont: %w", err)
	}
	return sf, nil
}

// midiStream renders a MIDI sequence to 16-bit stereo PCM on demand.
type midiStream struct {
	sequencer *meltysynth.MidiFileSequencer
	left      []float32
	right     []float32
	stopped   bool
	mu        sync.Mutex
}

func newMIDIStream(sf *meltysynth.SoundFont, midi *meltysynth.MidiFile, loop bool) (*midiStream, error) {
	synth, err := meltysynth.NewSynthesizer(sf, meltysynth.NewSynthesizerSettings(SampleRate))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}
	seq := meltysynth.NewMidiFileSequencer(synth)
	seq.Play(midi, loop)
	return &midiStream{sequencer: seq}, nil
}

// Read renders len(p)/4 frames. A stopped stream yields silence.
func (s *midiStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		clear(p)
		return len(p), nil
	}
	frames := len(p) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	if cap(s.left) < frames {
		s.left = make([]float32, frames)
		s.right = make([]float32, frames)
	}
	left, right := s.left[:frames], s.right[:frames]
	s.sequencer.Render(left, right)
	for i := range frames {
		binary.LittleEndian.PutUint16(p[i*4:], uint16(int16(clamp(left[i])*32767)))
		binary.LittleEndian.PutUint16(p[i*4+2:], uint16(int16(clamp(right[i])*32767)))
	}
	return frames * bytesPerFrame, nil
}

func (s *midiStream) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func clamp(v float32) float32 {
	return min(max(v, -1), 1)
}
