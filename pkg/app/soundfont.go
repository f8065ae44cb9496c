package app

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/zurustar/kagami/pkg/fileutil"
	"github.com/zurustar/kagami/pkg/title"
)

// SoundFontLocation はSoundFontが見つかった場所
type SoundFontLocation struct {
	Path       string
	FileSystem fileutil.FileSystem
	IsEmbedded bool
}

// DefaultSoundFontName 設定がない場合に探すSoundFont
const DefaultSoundFontName = "GeneralUser-GS.sf2"

// soundFontDir embedされたSoundFontのディレクトリ
const soundFontDir = "soundfonts"

// findSoundFont SoundFontを探す
// 検索順：設定されたファイル、同梱のsoundfontsディレクトリ、タイトルディレクトリ、カレントディレクトリ
// 相対パスはカレントディレクトリより先にタイトルディレクトリで探す
// 見つからない場合はnilを返す
func findSoundFont(embedFS fs.FS, t *title.Title, configured string) *SoundFontLocation {
	name := DefaultSoundFontName
	if configured != "" {
		if filepath.IsAbs(configured) {
			return external(configured)
		}
		name = configured
		if t != nil && exists(t.FS, name) {
			return &SoundFontLocation{Path: name, FileSystem: t.FS, IsEmbedded: t.FS.IsEmbedded()}
		}
		return external(configured)
	}

	if embedFS != nil {
		bundled := fileutil.NewEmbedFS(embedFS, soundFontDir)
		if exists(bundled, name) {
			return &SoundFontLocation{Path: name, FileSystem: bundled, IsEmbedded: true}
		}
	}
	if t != nil && t.FS != nil && exists(t.FS, name) {
		return &SoundFontLocation{Path: name, FileSystem: t.FS, IsEmbedded: t.FS.IsEmbedded()}
	}
	return external(name)
}

// external ホストのファイルシステム上の場所を返す（なければnil）
func external(p string) *SoundFontLocation {
	if info, err := os.Stat(p); err != nil || info.IsDir() {
		return nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil
	}
	return &SoundFontLocation{Path: filepath.Base(abs), FileSystem: fileutil.NewRealFS(filepath.Dir(abs))}
}

func exists(fsys fileutil.FileSystem, name string) bool {
	if fsys == nil {
		return false
	}
	f, err := fsys.Open(path.Clean(name))
	if err != nil {
		return false
	}
	info, err := f.Stat()
	f.Close()
	return err == nil && !info.IsDir() && info.Size() > 0
}
