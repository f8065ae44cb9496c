package loader

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/text/encoding"

	"github.com/zurustar/kagami/pkg/movie"
	"github.com/zurustar/kagami/pkg/vm/builtins"
)

// ContentType is the sniffed type of loaded bytes.
type ContentType string

const (
	ContentMovie   ContentType = "movie"
	ContentPNG     ContentType = "png"
	ContentJPEG    ContentType = "jpeg"
	ContentGIF     ContentType = "gif"
	ContentBMP     ContentType = "bmp"
	ContentUnknown ContentType = "unknown"
)

// Sniff identifies loaded bytes by their header.
func Sniff(data []byte) ContentType {
	if _, err := movie.Unmarshal(data); err == nil {
		return ContentMovie
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ContentUnknown
	}
	switch format {
	case "png":
		return ContentPNG
	case "jpeg":
		return ContentJPEG
	case "gif":
		return ContentGIF
	case "bmp":
		return ContentBMP
	}
	return ContentUnknown
}

// DecodeImage decodes a PNG, JPEG, GIF or BMP image.
func DecodeImage(data []byte) (image.Image, ContentType, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ContentUnknown, fmt.Errorf("invalid bitmap: %w", err)
	}
	return img, ContentType(format), nil
}

// Variable is one name=value pair of a variables document.
type Variable struct {
	Name  string
	Value string
}

// ParseVariables decodes an application/x-www-form-urlencoded document.
// Pairs keep their order; "+" is a space and malformed escapes are kept
// literally. When enc is non-nil the decoded bytes are converted from that
// codepage instead of being read as UTF-8.
func ParseVariables(data []byte, enc encoding.Encoding) ([]Variable, error) {
	text := string(data)
	text = strings.TrimPrefix(text, "\ufeff")
	var vars []Variable
	for _, pair := range strings.Split(text, "&") {
		pair = strings.TrimRight(pair, "\r\n")
		if pair == "" {
			continue
		}
		name, val, _ := strings.Cut(pair, "=")
		n, err := decodeComponent(name, enc)
		if err != nil {
			return nil, err
		}
		v, err := decodeComponent(val, enc)
		if err != nil {
			return nil, err
		}
		vars = append(vars, Variable{Name: n, Value: v})
	}
	return vars, nil
}

func decodeComponent(s string, enc encoding.Encoding) (string, error) {
	s = builtins.Unescape(strings.ReplaceAll(s, "+", " "))
	if enc == nil {
		return strings.ToValidUTF8(s, "\uFFFD"), nil
	}
	return movie.DecodeString(enc, s)
}
