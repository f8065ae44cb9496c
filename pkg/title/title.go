// Package title は再生可能なタイトルを管理する
// バイナリのtitles/に同梱されたタイトルと、コマンドラインで指定されたディレクトリを扱う
package title

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/zurustar/kagami/pkg/fileutil"
	"github.com/zurustar/kagami/pkg/movie"
)

// ConfigFile タイトルごとの設定ファイル（省略可）
const ConfigFile = "title.json"

// EmbeddedRoot embedされたタイトルのディレクトリ
const EmbeddedRoot = "titles"

// Config はtitle.jsonの構造
type Config struct {
	EntryFile string `json:"entryFile"`
}

// Title は1つ以上のムービーを含むディレクトリ
type Title struct {
	Name       string              // ディレクトリ名
	Path       string              // 絶対パス、またはembed内のパス
	IsEmbedded bool                // バイナリに同梱されているか
	EntryFile  string              // 再生するムービー（Pathからの相対パス）
	FS         fileutil.FileSystem // Pathをルートとするファイルシステム
	Metadata   *Metadata           // エントリームービーのヘッダー（読めない場合はnil）
}

// Metadata は選択画面に表示するムービーヘッダーの情報
type Metadata struct {
	Name      string
	Version   int
	FrameRate float64
	Width     int
	Height    int
	Frames    int
	Classes   int
}

var (
	// ErrNoTitles 再生できるタイトルがない
	ErrNoTitles = errors.New("no titles available")
	// ErrNoEntry タイトルに再生するムービーがない
	ErrNoEntry = errors.New("no entry movie")
)

// Registry は利用可能なタイトルの管理を行う
type Registry struct {
	embedded []Title
	external *Title
	embedFS  fs.FS
}

// NewRegistry Registryを作成
// embedされたタイトルを検出し、再生できるムービーがないものは除外する
func NewRegistry(embedFS fs.FS) *Registry {
	r := &Registry{embedFS: embedFS}
	if embedFS != nil {
		r.loadEmbeddedTitles()
	}
	return r
}

func (r *Registry) loadEmbeddedTitles() {
	entries, err := fs.ReadDir(r.embedFS, EmbeddedRoot)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		titlePath := path.Join(EmbeddedRoot, entry.Name())
		t, err := newTitle(entry.Name(), titlePath, fileutil.NewEmbedFS(r.embedFS, titlePath), "")
		if err != nil {
			continue
		}
		t.IsEmbedded = true
		r.embedded = append(r.embedded, *t)
	}
}

// LoadExternal 外部タイトルを読み込む
// entryFileが空の場合はtitle.jsonまたはディレクトリの内容から決める
func (r *Registry) LoadExternal(dir, entryFile string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("title directory does not exist: %s", dir)
		}
		return fmt.Errorf("failed to access title directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("title path is not a directory: %s", dir)
	}
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	t, err := newTitle(filepath.Base(absPath), absPath, fileutil.NewRealFS(absPath), entryFile)
	if err != nil {
		return err
	}
	r.external = t
	return nil
}

func newTitle(name, p string, fsys fileutil.FileSystem, entryFile string) (*Title, error) {
	entry, err := resolveEntry(fsys, entryFile)
	if err != nil {
		return nil, fmt.Errorf("title %s: %w", name, err)
	}
	t := &Title{Name: name, Path: p, EntryFile: entry, FS: fsys}
	if m, err := movie.Load(fsys, entry); err == nil {
		t.Metadata = &Metadata{
			Name:      m.Name,
			Version:   m.Version,
			FrameRate: m.FrameRate,
			Width:     m.Width,
			Height:    m.Height,
			Frames:    len(m.Frames),
			Classes:   len(m.Classes),
		}
	}
	return t, nil
}

// resolveEntry 再生するムービーを決定
// 優先順位：明示的な指定、title.jsonのエントリー、唯一のムービー、mainという名前のムービー
func resolveEntry(fsys fileutil.FileSystem, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if data, err := fsys.ReadFile(ConfigFile); err == nil {
		var config Config
		if err := json.Unmarshal(data, &config); err == nil && config.EntryFile != "" {
			return config.EntryFile, nil
		}
	}
	files, err := movie.Find(fsys, ".")
	if err != nil {
		return "", err
	}
	switch len(files) {
	case 0:
		return "", ErrNoEntry
	case 1:
		return files[0], nil
	}
	for _, f := range files {
		if strings.EqualFold(path.Base(f), "main"+movie.Extension) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %d movies and none named main%s", ErrNoEntry, len(files), movie.Extension)
}

// Available 外部タイトルがあればそれを、なければembedされたタイトルを返す
func (r *Registry) Available() []Title {
	if r.external != nil {
		return []Title{*r.external}
	}
	return append([]Title(nil), r.embedded...)
}

// Select 再生するタイトルを返す
// 複数ある場合は選択が必要であることをboolで返す
func (r *Registry) Select() (*Title, bool, error) {
	titles := r.Available()
	switch len(titles) {
	case 0:
		return nil, false, ErrNoTitles
	case 1:
		return &titles[0], false, nil
	}
	return nil, true, nil
}

// Load エントリームービーを読み込む
func (t *Title) Load() (*movie.Movie, error) {
	return movie.Load(t.FS, t.EntryFile)
}

// DisplayName ムービー名、なければディレクトリ名を返す
func (t *Title) DisplayName() string {
	if t.Metadata != nil && t.Metadata.Name != "" {
		return t.Metadata.Name
	}
	return t.Name
}
