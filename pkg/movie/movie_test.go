package movie

import (
	"bytes"
	"strings"
	"testing"
	"testing/fstest"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/zurustar/kagami/pkg/fileutil"
	"github.com/zurustar/kagami/pkg/opcode"
)

func sampleMovie() *Movie {
	frameScript := &opcode.Method{
		Name:      "frame1",
		Dialect:   opcode.DialectLegacy,
		Script:    true,
		Constants: []opcode.Constant{opcode.String("hello"), opcode.Number(1)},
		Code:      []opcode.Instruction{opcode.L(opcode.Nop)},
	}
	handler := &opcode.Method{Name: "onEnterFrame", Dialect: opcode.DialectLegacy}
	return &Movie{
		Name:      "sample",
		Version:   8,
		FrameRate: 12,
		Width:     320,
		Height:    240,
		Methods:   []*opcode.Method{frameScript, handler},
		Frames: []Frame{
			{Label: "start", Scripts: []int{0}, Sprites: []Placement{
				{Name: "ball", X: 10, Y: 20, Asset: "ball.bmp", Scripts: map[string]int{"onEnterFrame": 1}},
			}},
			{},
		},
		Assets: []Asset{{Name: "ball.bmp", Kind: AssetImage, Data: []byte("BM")}},
	}
}

func sjis(t *testing.T, s string) string {
	t.Helper()
	out, _, err := transform.String(japanese.ShiftJIS.NewEncoder(), s)
	if err != nil {
		t.Fatalf("encode %q: %v", s, err)
	}
	return out
}

func TestMarshalUnmarshal(t *testing.T) {
	m := sampleMovie()
	data, err := Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := Marshal(sampleMovie())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("canonical encoding is not deterministic")
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Name != "sample" || got.FrameRate != 12 || len(got.Methods) != 2 {
		t.Fatalf("unexpected movie %+v", got)
	}
	if s, ok := got.Methods[0].StringConstant(0); !ok || s != "hello" {
		t.Errorf("constant 0 = %q, %v", s, ok)
	}
	if i, ok := got.FrameLabel("start"); !ok || i != 0 {
		t.Errorf("FrameLabel(start) = %d, %v", i, ok)
	}
	if a, ok := got.Asset("ball.bmp"); !ok || a.Kind != AssetImage {
		t.Errorf("Asset(ball.bmp) = %+v, %v", a, ok)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00, 0x13}); err == nil {
		t.Fatal("expected an error for malformed input")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Movie)
		wantErr string
	}{
		{"valid", func(m *Movie) {}, ""},
		{"zero frame rate", func(m *Movie) { m.FrameRate = 0 }, "frame rate"},
		{"frame script out of range", func(m *Movie) { m.Frames[0].Scripts = []int{7} }, "script index 7"},
		{"handler out of range", func(m *Movie) { m.Frames[0].Sprites[0].Scripts["onPress"] = -1 }, "onPress"},
		{"unknown asset", func(m *Movie) { m.Frames[0].Sprites[0].Asset = "nope" }, "unknown asset"},
		{"nil method", func(m *Movie) { m.Methods = append(m.Methods, nil) }, "method 2 is missing"},
		{"unknown document class", func(m *Movie) { m.Document = "Main" }, "document class"},
		{"oversized frame", func(m *Movie) {
			m.Methods[0].FrameSize = 1 << 24
			m.Methods[0].MaxStack = 1 << 24
		}, "frame size"},
		{"oversized class method", func(m *Movie) {
			m.Classes = []*opcode.ClassDef{{Name: "Big", Traits: []opcode.TraitDef{{
				Name: "run", Kind: opcode.TraitMethod,
				Method: &opcode.Method{Name: "run", Dialect: opcode.DialectClass, FrameSize: 1, MaxStack: 1 << 24},
			}}}}
		}, "max stack"},
		{"known document class", func(m *Movie) {
			m.Document = "Main"
			m.Classes = []*opcode.ClassDef{{Name: "Main"}}
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sampleMovie()
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLegacyCodepage(t *testing.T) {
	m := sampleMovie()
	m.Version = 5
	m.Codepage = "shift_jis"
	m.Methods[0].Constants[0] = opcode.String(sjis(t, "こんにちは"))
	m.Frames[0].Label = sjis(t, "開始")
	m.Assets = append(m.Assets, Asset{Name: "msg", Kind: AssetText, Data: []byte(sjis(t, "テキスト"))})

	data, err := Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s, _ := got.Methods[0].StringConstant(0); s != "こんにちは" {
		t.Errorf("constant = %q", s)
	}
	if got.Frames[0].Label != "開始" {
		t.Errorf("label = %q", got.Frames[0].Label)
	}
	if a, _ := got.Asset("msg"); string(a.Data) != "テキスト" {
		t.Errorf("text asset = %q", a.Data)
	}
	if got.Codepage != "" {
		t.Errorf("codepage should be cleared after conversion, got %q", got.Codepage)
	}
}

func TestUnicodeVersionIgnoresCodepage(t *testing.T) {
	m := sampleMovie()
	m.Version = UnicodeVersion
	m.Codepage = "shift_jis"
	m.Methods[0].Constants[0] = opcode.String("ünïcode")
	data, err := Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := got.Methods[0].StringConstant(0); s != "ünïcode" {
		t.Errorf("constant = %q", s)
	}
}

func TestCodepage(t *testing.T) {
	for _, name := range []string{"", "UTF-8", "Shift_JIS", "sjis", "euc-jp", "windows-1252", "latin1"} {
		if _, err := Codepage(name); err != nil {
			t.Errorf("Codepage(%q): %v", name, err)
		}
	}
	if _, err := Codepage("klingon"); err == nil {
		t.Error("expected an error for an unknown codepage")
	}
	enc, _ := Codepage("latin1")
	if s, err := DecodeString(enc, "caf\xe9"); err != nil || s != "café" {
		t.Errorf("DecodeString = %q, %v", s, err)
	}
}

func TestLoadAndFind(t *testing.T) {
	data, err := Marshal(&Movie{Version: 8, FrameRate: 24})
	if err != nil {
		t.Fatal(err)
	}
	fsys := fileutil.NewEmbedFS(fstest.MapFS{
		"content/Intro.KMV":      {Data: data},
		"content/extra/b.kmv":    {Data: data},
		"content/extra/notes.md": {Data: []byte("#")},
	}, "content")

	m, err := Load(fsys, "intro.kmv")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Name != "intro" {
		t.Errorf("Name = %q, want the file stem", m.Name)
	}

	files, err := Find(fsys, ".")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0] != "Intro.KMV" || files[1] != "extra/b.kmv" {
		t.Errorf("Find = %v", files)
	}

	if _, err := Load(fsys, "missing.kmv"); err == nil {
		t.Error("expected an error for a missing movie")
	}
}
