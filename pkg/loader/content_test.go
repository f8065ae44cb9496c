package loader

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/text/encoding/japanese"

	"github.com/zurustar/kagami/pkg/movie"
)

func TestParseVariables(t *testing.T) {
	sjis, err := japanese.ShiftJIS.NewEncoder().String("日本")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data string
		sjis bool
		want []Variable
	}{
		{"simple", "a=1&b=2", false, []Variable{{"a", "1"}, {"b", "2"}}},
		{"plus is space", "msg=hello+there", false, []Variable{{"msg", "hello there"}}},
		{"percent escapes", "x=%41%42&y=%2B", false, []Variable{{"x", "AB"}, {"y", "+"}}},
		{"malformed escape kept", "x=100%", false, []Variable{{"x", "100%"}}},
		{"empty pairs skipped", "&a=1&&", false, []Variable{{"a", "1"}}},
		{"missing value", "flag", false, []Variable{{"flag", ""}}},
		{"byte order mark", "\ufeffa=1", false, []Variable{{"a", "1"}}},
		{"trailing newline", "a=1\r\n", false, []Variable{{"a", "1"}}},
		{"utf-8 escapes", "w=%E6%97%A5", false, []Variable{{"w", "日"}}},
		{"shift-jis codepage", "w=" + sjis, true, []Variable{{"w", "日本"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []Variable
			var err error
			if tt.sjis {
				got, err = ParseVariables([]byte(tt.data), japanese.ShiftJIS)
			} else {
				got, err = ParseVariables([]byte(tt.data), nil)
			}
			if err != nil {
				t.Fatalf("ParseVariables: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("pair %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSniffContent(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	var pngBuf, bmpBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatal(err)
	}
	if err := bmp.Encode(&bmpBuf, img); err != nil {
		t.Fatal(err)
	}
	mv, err := movie.Marshal(&movie.Movie{Version: 8, FrameRate: 12})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
		want ContentType
	}{
		{"png", pngBuf.Bytes(), ContentPNG},
		{"bmp", bmpBuf.Bytes(), ContentBMP},
		{"movie", mv, ContentMovie},
		{"text", []byte("a=1"), ContentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.data); got != tt.want {
				t.Errorf("Sniff = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("decode bmp", func(t *testing.T) {
		got, ct, err := DecodeImage(bmpBuf.Bytes())
		if err != nil {
			t.Fatalf("DecodeImage: %v", err)
		}
		if ct != ContentBMP || got.Bounds().Dx() != 2 {
			t.Errorf("decoded %v %v", ct, got.Bounds())
		}
		if r, _, _, _ := got.At(1, 1).RGBA(); r>>8 != 255 {
			t.Errorf("pixel red = %d", r>>8)
		}
	})

	t.Run("decode garbage", func(t *testing.T) {
		if _, _, err := DecodeImage([]byte("nope")); err == nil {
			t.Error("expected an error")
		}
	})
}
