package host

import (
	"math"
	"time"

	"github.com/zurustar/kagami/pkg/audio"
	"github.com/zurustar/kagami/pkg/gc"
	"github.com/zurustar/kagami/pkg/movie"
	"github.com/zurustar/kagami/pkg/value"
	"github.com/zurustar/kagami/pkg/vm"
)

// Sound is the native payload of Sound objects.
type Sound struct {
	clip    *audio.Clip
	channel int
	volume  float64
	// target is the clip the sound was created for, if any.
	target value.Value
	mixer  *audio.Mixer
}

// Trace reports the target clip.
func (s *Sound) Trace(m gc.Marker) {
	s.target.Mark(m)
}

// GetHook serves duration and position in milliseconds.
func (s *Sound) GetHook(h *value.Heap, self value.Value, name string) (value.Value, bool, error) {
	switch name {
	case "duration":
		if s.clip == nil {
			return value.Undefined, true, nil
		}
		return value.Int(int(s.clip.Duration.Milliseconds())), true, nil
	case "position":
		ch, ok := s.mixer.Channel(s.channel)
		if !ok {
			return value.Int(0), true, nil
		}
		return value.Int(int(ch.Position(s.mixer.Now()).Milliseconds())), true, nil
	}
	return value.Undefined, false, nil
}

// SetHook makes duration and position read-only.
func (s *Sound) SetHook(h *value.Heap, self value.Value, name string, v value.Value) (bool, error) {
	return name == "duration" || name == "position", nil
}

func (p *Player) asSound(v value.Value) (*Sound, error) {
	o, ok := p.m.Heap().Object(v)
	if ok {
		if s, ok := o.Native().(*Sound); ok {
			return s, nil
		}
	}
	return nil, value.Errorf(value.TypeError, "%s is not a Sound", p.m.Heap().TypeOf(v))
}

// decodeSound decodes a sound asset of the movie once and caches it.
func (p *Player) decodeSound(name string) (*audio.Clip, bool) {
	if clip, ok := p.clips[name]; ok {
		return clip, true
	}
	a, ok := p.movie.Asset(name)
	if !ok || a.Kind != movie.AssetSound {
		return nil, false
	}
	clip, err := audio.Decode(a.Data)
	if err != nil {
		p.log.Warn("sound asset not decodable", "asset", name, "error", err)
		return nil, false
	}
	p.clips[name] = clip
	return clip, true
}

func (p *Player) soundClass() {
	h := p.m.Heap()
	proto := h.NewObject()
	p.soundProto = proto
	h.SetIntrinsic("Sound.prototype", proto)

	ctor := p.m.NewNative("Sound", 1, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
		s := &Sound{volume: 100, mixer: p.mixer}
		if len(args) > 0 && args[0].IsObject() {
			s.target = args[0]
		}
		return h.New(proto, s), nil
	})
	h.DefineProperty(ctor, "prototype", proto, value.DontEnum|value.DontDelete|value.ReadOnly)
	h.DefineProperty(proto, "constructor", ctor, value.DontEnum)
	h.DefineProperty(h.Global(), "Sound", ctor, value.DontEnum)

	method := func(name string, arity int, fn func(s *Sound, this value.Value, args []value.Value) (value.Value, error)) {
		h.DefineProperty(proto, name, p.m.NewNative(name, arity, func(m *vm.Machine, this value.Value, args []value.Value) (value.Value, error) {
			s, err := p.asSound(this)
			if err != nil {
				return value.Undefined, err
			}
			return fn(s, this, args)
		}), value.DontEnum)
	}

	method("attachSound", 1, func(s *Sound, this value.Value, args []value.Value) (value.Value, error) {
		name, err := p.argString(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		clip, ok := p.decodeSound(name)
		if !ok {
			return value.False, nil
		}
		s.clip = clip
		return value.True, nil
	})
	method("loadSound", 2, func(s *Sound, this value.Value, args []value.Value) (value.Value, error) {
		url, err := p.argString(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		if _, err := p.loads.LoadSound(url, this); err != nil {
			return value.Undefined, err
		}
		return value.Undefined, nil
	})
	method("start", 2, func(s *Sound, this value.Value, args []value.Value) (value.Value, error) {
		if s.clip == nil {
			return value.Undefined, nil
		}
		offset, err := p.argNumber(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		loops, err := p.argNumber(args, 1)
		if err != nil {
			return value.Undefined, err
		}
		p.stopSound(s)
		ch, err := p.mixer.Play(s.clip, audio.PlayOptions{
			Offset: seconds(offset),
			Loops:  max(int(loops), 1),
			Volume: s.volume / 100,
		})
		if err != nil {
			p.log.Warn("sound playback failed", "error", err)
			return value.Undefined, nil
		}
		s.channel = ch.ID
		p.channels[ch.ID] = this
		return value.Undefined, nil
	})
	method("stop", 0, func(s *Sound, this value.Value, args []value.Value) (value.Value, error) {
		p.stopSound(s)
		return value.Undefined, nil
	})
	method("setVolume", 1, func(s *Sound, this value.Value, args []value.Value) (value.Value, error) {
		v, err := p.argNumber(args, 0)
		if err != nil {
			return value.Undefined, err
		}
		s.volume = math.Max(0, v)
		if s.channel != 0 {
			p.mixer.SetVolume(s.channel, s.volume/100)
		}
		return value.Undefined, nil
	})
	method("getVolume", 0, func(s *Sound, this value.Value, args []value.Value) (value.Value, error) {
		return value.Number(s.volume), nil
	})
}

func (p *Player) stopSound(s *Sound) {
	if s.channel == 0 {
		return
	}
	p.mixer.Stop(s.channel)
	delete(p.channels, s.channel)
	s.channel = 0
}

// attachLoadedSound is the loader's sound sink.
func (p *Player) attachLoadedSound(m *vm.Machine, target value.Value, clip *audio.Clip) error {
	s, err := p.asSound(target)
	if err != nil {
		return err
	}
	s.clip = clip
	return nil
}

// updateSounds reports finished channels to their Sound objects.
func (p *Player) updateSounds() {
	for _, id := range p.mixer.Update() {
		this, ok := p.channels[id]
		if !ok {
			continue
		}
		delete(p.channels, id)
		if s, err := p.asSound(this); err == nil && s.channel == id {
			s.channel = 0
		}
		p.callHandler(this, "onSoundComplete")
	}
}

func seconds(f float64) time.Duration {
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}
