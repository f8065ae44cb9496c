// Package movie holds the decoded container the player runs: methods of
// both dialects, class definitions, the frame timeline and named assets.
//
// The bit-level tag parser is an external collaborator. It hands the core a
// Movie, which this package stores as canonical CBOR so that decoded
// content can be cached and replayed without the original file.
package movie

import (
	"fmt"

	"github.com/zurustar/kagami/pkg/opcode"
)

// FirstClassVersion is the first content version whose scripts use the
// class dialect.
const FirstClassVersion = 9

// Movie is a decoded container.
type Movie struct {
	Name      string  `cbor:"1,keyasint"`
	Version   int     `cbor:"2,keyasint"`
	FrameRate float64 `cbor:"3,keyasint"`
	Width     int     `cbor:"4,keyasint,omitempty"`
	Height    int     `cbor:"5,keyasint,omitempty"`
	// Codepage names the encoding of strings in content older than
	// version 6. Empty means UTF-8.
	Codepage string `cbor:"6,keyasint,omitempty"`

	Methods []*opcode.Method   `cbor:"7,keyasint,omitempty"`
	Classes []*opcode.ClassDef `cbor:"8,keyasint,omitempty"`
	Frames  []Frame            `cbor:"9,keyasint,omitempty"`
	Assets  []Asset            `cbor:"10,keyasint,omitempty"`
	// Document names the class dialect class instantiated as the root
	// timeline. Empty for legacy content.
	Document string `cbor:"11,keyasint,omitempty"`
}

// Frame lists the scripts run when the timeline enters a frame.
type Frame struct {
	Label   string `cbor:"1,keyasint,omitempty"`
	Scripts []int  `cbor:"2,keyasint,omitempty"`
	// Sprites are placed on the stage when the frame is entered.
	Sprites []Placement `cbor:"3,keyasint,omitempty"`
}

// Placement puts a named display object on the stage.
type Placement struct {
	Name  string  `cbor:"1,keyasint"`
	X     float64 `cbor:"2,keyasint,omitempty"`
	Y     float64 `cbor:"3,keyasint,omitempty"`
	Asset string  `cbor:"4,keyasint,omitempty"`
	// Scripts are event handler methods keyed by event name.
	Scripts map[string]int `cbor:"5,keyasint,omitempty"`
}

// AssetKind classifies embedded asset bytes.
type AssetKind uint8

const (
	AssetBinary AssetKind = iota
	AssetImage
	AssetSound
	AssetText
)

func (k AssetKind) String() string {
	switch k {
	case AssetImage:
		return "image"
	case AssetSound:
		return "sound"
	case AssetText:
		return "text"
	default:
		return "binary"
	}
}

// Asset is a named embedded resource.
type Asset struct {
	Name string    `cbor:"1,keyasint"`
	Kind AssetKind `cbor:"2,keyasint"`
	Data []byte    `cbor:"3,keyasint"`
}

// Asset returns the asset called name.
func (m *Movie) Asset(name string) (*Asset, bool) {
	for i := range m.Assets {
		if m.Assets[i].Name == name {
			return &m.Assets[i], true
		}
	}
	return nil, false
}

// FrameLabel returns the index of the frame labelled label.
func (m *Movie) FrameLabel(label string) (int, bool) {
	for i, f := range m.Frames {
		if f.Label == label {
			return i, true
		}
	}
	return 0, false
}

// Script returns method i for use as a frame or event script.
func (m *Movie) Script(i int) (*opcode.Method, error) {
	if i < 0 || i >= len(m.Methods) || m.Methods[i] == nil {
		return nil, fmt.Errorf("movie %s: script index %d out of range", m.Name, i)
	}
	return m.Methods[i], nil
}

// Validate checks the cross references of the container. It does not
// verify method bodies; the machine does that when a method first runs.
func (m *Movie) Validate() error {
	if m.FrameRate <= 0 {
		return fmt.Errorf("movie %s: invalid frame rate %v", m.Name, m.FrameRate)
	}
	for i, meth := range m.Methods {
		if meth == nil {
			return fmt.Errorf("movie %s: method %d is missing", m.Name, i)
		}
		if err := meth.CheckFrame(); err != nil {
			return fmt.Errorf("movie %s: %w", m.Name, err)
		}
	}
	for i, f := range m.Frames {
		for _, s := range f.Scripts {
			if _, err := m.Script(s); err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}
		}
		for _, p := range f.Sprites {
			for ev, s := range p.Scripts {
				if _, err := m.Script(s); err != nil {
					return fmt.Errorf("frame %d sprite %s %s: %w", i, p.Name, ev, err)
				}
			}
			if p.Asset != "" {
				if _, ok := m.Asset(p.Asset); !ok {
					return fmt.Errorf("frame %d sprite %s: unknown asset %q", i, p.Name, p.Asset)
				}
			}
		}
	}
	found := m.Document == ""
	for _, c := range m.Classes {
		if c == nil || c.Name == "" {
			return fmt.Errorf("movie %s: unnamed class", m.Name)
		}
		if err := checkClassFrames(c); err != nil {
			return fmt.Errorf("movie %s class %s: %w", m.Name, c.Name, err)
		}
		found = found || c.Name == m.Document
	}
	if !found {
		return fmt.Errorf("movie %s: unknown document class %q", m.Name, m.Document)
	}
	return nil
}

func checkClassFrames(c *opcode.ClassDef) error {
	methods := []*opcode.Method{c.Constructor}
	for _, t := range c.Traits {
		methods = append(methods, t.Method)
	}
	for _, t := range c.Static {
		methods = append(methods, t.Method)
	}
	for _, meth := range methods {
		if meth == nil {
			continue
		}
		if err := meth.CheckFrame(); err != nil {
			return err
		}
	}
	return nil
}
