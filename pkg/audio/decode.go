// Package audio decodes the sounds a movie embeds or loads at run time and
// plays them through Ebitengine's audio context. Without a context the mixer
// runs silently and only keeps time, which is what headless runs use.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/sinshu/go-meltysynth/meltysynth"
)

// SampleRate is the output sample rate of the mixer.
const SampleRate = 44100

// bytesPerFrame is the size of one 16-bit stereo frame.
const bytesPerFrame = 4

var (
	// ErrUnknownFormat is returned for data that is not WAV, MP3 or MIDI.
	ErrUnknownFormat = errors.New("unknown sound format")
	// ErrInvalidFormat wraps decoder failures.
	ErrInvalidFormat = errors.New("invalid sound data")
)

// Format identifies encoded sound data.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatWAV
	FormatMP3
	FormatMIDI
)

func (f Format) String() string {
	switch f {
	case FormatWAV:
		return "wav"
	case FormatMP3:
		return "mp3"
	case FormatMIDI:
		return "midi"
	default:
		return "unknown"
	}
}

// Sniff identifies data by its header.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 4 && string(data[:4]) == "MThd":
		return FormatMIDI
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}
	return FormatUnknown
}

// Clip is a decoded sound. Sampled formats hold 16-bit little endian
// stereo PCM; MIDI keeps the parsed file and is rendered while playing.
type Clip struct {
	Format     Format
	SampleRate int
	PCM        []byte
	Duration   time.Duration

	midi *meltysynth.MidiFile
}

// Frames returns the number of stereo frames of a sampled clip.
func (c *Clip) Frames() int {
	return len(c.PCM) / bytesPerFrame
}

// Decode sniffs and decodes data.
func Decode(data []byte) (*Clip, error) {
	switch Sniff(data) {
	case FormatWAV:
		return decodeWAV(data)
	case FormatMP3:
		return decodeMP3(data)
	case FormatMIDI:
		return decodeMIDI(data)
	}
	return nil, ErrUnknownFormat
}

func decodeWAV(data []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid wav file", ErrInvalidFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: wav: %v", ErrInvalidFormat, err)
	}
	chans := int(dec.NumChans)
	depth := int(dec.BitDepth)
	if chans < 1 || chans > 2 || (depth != 8 && depth != 16 && depth != 24 && depth != 32) {
		return nil, fmt.Errorf("%w: wav: %d channels at %d bits", ErrInvalidFormat, chans, depth)
	}

	frames := len(buf.Data) / chans
	pcm := make([]byte, frames*bytesPerFrame)
	for i := 0; i < frames; i++ {
		l := to16(buf.Data[i*chans], depth)
		r := l
		if chans == 2 {
			r = to16(buf.Data[i*chans+1], depth)
		}
		binary.LittleEndian.PutUint16(pcm[i*4:], uint16(l))
		binary.LittleEndian.PutUint16(pcm[i*4+2:], uint16(r))
	}
	rate := int(dec.SampleRate)
	return &Clip{
		Format:     FormatWAV,
		SampleRate: rate,
		PCM:        pcm,
		Duration:   framesDuration(frames, rate),
	}, nil
}

// to16 scales a sample of the given bit depth to a signed 16-bit sample.
// 8-bit WAV samples are unsigned.
func to16(s, depth int) int16 {
	switch depth {
	case 8:
		return int16((s - 128) << 8)
	case 24:
		return int16(s >> 8)
	case 32:
		return int16(s >> 16)
	}
	return int16(s)
}

func decodeMP3(data []byte) (*Clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", ErrInvalidFormat, err)
	}
	// go-mp3 always yields 16-bit stereo
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", ErrInvalidFormat, err)
	}
	pcm = pcm[:len(pcm)/bytesPerFrame*bytesPerFrame]
	rate := dec.SampleRate()
	return &Clip{
		Format:     FormatMP3,
		SampleRate: rate,
		PCM:        pcm,
		Duration:   framesDuration(len(pcm)/bytesPerFrame, rate),
	}, nil
}

func decodeMIDI(data []byte) (*Clip, error) {
	midi, err := meltysynth.NewMidiFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: midi: %v", ErrInvalidFormat, err)
	}
	return &Clip{
		Format:     FormatMIDI,
		SampleRate: SampleRate,
		Duration:   midi.GetLength(),
		midi:       midi,
	}, nil
}

func framesDuration(frames, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(rate))
}
