package movie

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/zurustar/kagami/pkg/opcode"
)

// UnicodeVersion is the first content version whose strings are UTF-8.
const UnicodeVersion = 6

// Codepage returns the decoder for a codepage name. The empty name and
// "utf-8" select UTF-8.
func Codepage(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, nil
	case "shift-jis", "sjis", "cp932", "windows-31j":
		return japanese.ShiftJIS, nil
	case "euc-jp":
		return japanese.EUCJP, nil
	case "iso-2022-jp":
		return japanese.ISO2022JP, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	}
	return nil, fmt.Errorf("unknown codepage %q", name)
}

// DecodeString converts s from the codepage to UTF-8. Input that is
// already valid UTF-8 ASCII is returned as is.
func DecodeString(enc encoding.Encoding, s string) (string, error) {
	if enc == unicode.UTF8 || isASCII(s) {
		return s, nil
	}
	out, _, err := transform.String(enc.NewDecoder(), s)
	if err != nil {
		return "", fmt.Errorf("failed to decode string: %w", err)
	}
	return out, nil
}

// NewDecodingReader wraps r so that reads yield UTF-8.
func NewDecodingReader(enc encoding.Encoding, r io.Reader) io.Reader {
	if enc == unicode.UTF8 {
		return r
	}
	return transform.NewReader(r, enc.NewDecoder())
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Normalize rewrites the string constants, names and text assets of
// pre-Unicode content to UTF-8 in place and clears Codepage.
func (m *Movie) Normalize() error {
	if m.Version >= UnicodeVersion {
		return nil
	}
	enc, err := Codepage(m.Codepage)
	if err != nil {
		return err
	}
	if enc == unicode.UTF8 {
		return nil
	}
	conv := func(s *string) error {
		out, err := DecodeString(enc, *s)
		if err == nil {
			*s = out
		}
		return err
	}
	var walk func(meth *opcode.Method) error
	walk = func(meth *opcode.Method) error {
		if meth == nil {
			return nil
		}
		for i := range meth.Constants {
			if meth.Constants[i].Kind == opcode.ConstString {
				if err := conv(&meth.Constants[i].Str); err != nil {
					return fmt.Errorf("method %s constant %d: %w", meth, i, err)
				}
			}
		}
		for i := range meth.Params {
			if err := conv(&meth.Params[i].Name); err != nil {
				return err
			}
		}
		for _, f := range meth.Functions {
			if err := walk(f); err != nil {
				return err
			}
		}
		return nil
	}
	for _, meth := range m.Methods {
		if err := walk(meth); err != nil {
			return err
		}
	}
	for i := range m.Frames {
		if err := conv(&m.Frames[i].Label); err != nil {
			return err
		}
		for j := range m.Frames[i].Sprites {
			if err := conv(&m.Frames[i].Sprites[j].Name); err != nil {
				return err
			}
		}
	}
	for i := range m.Assets {
		if m.Assets[i].Kind == AssetText {
			out, err := DecodeString(enc, string(m.Assets[i].Data))
			if err != nil {
				return fmt.Errorf("asset %s: %w", m.Assets[i].Name, err)
			}
			m.Assets[i].Data = []byte(out)
		}
	}
	m.Codepage = ""
	return nil
}
