// Package fileutil gives the player one view over movie directories on disk
// and movies bundled into the binary. Lookups ignore case because content
// authored on case-insensitive systems refers to files loosely.
package fileutil

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileSystem is a rooted, case-insensitive file view.
type FileSystem interface {
	Open(name string) (fs.File, error)
	ReadFile(name string) ([]byte, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	// FindFile returns the actual path of filename inside dir.
	FindFile(dir, filename string) (string, error)
	BasePath() string
	IsEmbedded() bool
}

// RealFS reads from the host file system below basePath.
type RealFS struct {
	basePath string
}

func NewRealFS(basePath string) *RealFS {
	return &RealFS{basePath: basePath}
}

func (r *RealFS) Open(name string) (fs.File, error) {
	p, err := r.find(r.resolvePath(name))
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (r *RealFS) ReadFile(name string) ([]byte, error) {
	p, err := r.find(r.resolvePath(name))
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (r *RealFS) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(r.resolvePath(name))
}

func (r *RealFS) FindFile(dir, filename string) (string, error) {
	if r.basePath != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(r.basePath, dir)
	}
	return FindFileCaseInsensitive(dir, filename)
}

func (r *RealFS) BasePath() string { return r.basePath }

func (r *RealFS) IsEmbedded() bool { return false }

func (r *RealFS) resolvePath(name string) string {
	name = trimRoot(name)
	if r.basePath != "" {
		return filepath.Join(r.basePath, name)
	}
	return name
}

func (r *RealFS) find(p string) (string, error) {
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	return FindFileCaseInsensitive(filepath.Dir(p), filepath.Base(p))
}

// EmbedFS reads from an fs.FS such as an embed.FS, below basePath.
type EmbedFS struct {
	fsys     fs.FS
	basePath string
}

func NewEmbedFS(fsys fs.FS, basePath string) *EmbedFS {
	return &EmbedFS{fsys: fsys, basePath: basePath}
}

func (e *EmbedFS) Open(name string) (fs.File, error) {
	p, err := e.find(e.resolvePath(name))
	if err != nil {
		return nil, err
	}
	return e.fsys.Open(p)
}

func (e *EmbedFS) ReadFile(name string) ([]byte, error) {
	p, err := e.find(e.resolvePath(name))
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(e.fsys, p)
}

func (e *EmbedFS) ReadDir(name string) ([]fs.DirEntry, error) {
	return fs.ReadDir(e.fsys, e.resolvePath(name))
}

func (e *EmbedFS) FindFile(dir, filename string) (string, error) {
	return FindFileCaseInsensitiveFS(e.fsys, e.resolvePath(dir), filename)
}

func (e *EmbedFS) BasePath() string { return e.basePath }

func (e *EmbedFS) IsEmbedded() bool { return true }

// resolvePath joins name to the base path with forward slashes.
func (e *EmbedFS) resolvePath(name string) string {
	name = trimRoot(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." {
		if e.basePath != "" {
			return e.basePath
		}
		return "."
	}
	if e.basePath != "" {
		return e.basePath + "/" + name
	}
	return name
}

func (e *EmbedFS) find(p string) (string, error) {
	if f, err := e.fsys.Open(p); err == nil {
		f.Close()
		return p, nil
	}
	return FindFileCaseInsensitiveFS(e.fsys, path.Dir(p), path.Base(p))
}

func trimRoot(name string) string {
	return strings.TrimPrefix(strings.TrimPrefix(name, "/"), "\\")
}

// WalkDir walks root recursively. Paths passed to fn are relative to the
// file system's base path.
func WalkDir(fsys FileSystem, root string, fn fs.WalkDirFunc) error {
	switch f := fsys.(type) {
	case *EmbedFS:
		base := f.basePath
		return fs.WalkDir(f.fsys, f.resolvePath(root), func(p string, d fs.DirEntry, err error) error {
			rel := p
			switch {
			case base != "" && p == base:
				rel = "."
			case base != "" && strings.HasPrefix(p, base+"/"):
				rel = strings.TrimPrefix(p, base+"/")
			}
			return fn(rel, d, err)
		})
	case *RealFS:
		start := root
		if f.basePath != "" && !filepath.IsAbs(root) {
			start = filepath.Join(f.basePath, root)
		}
		return filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
			rel := p
			if f.basePath != "" {
				if r, relErr := filepath.Rel(f.basePath, p); relErr == nil {
					rel = filepath.ToSlash(r)
				}
			}
			return fn(rel, d, err)
		})
	}
	return fmt.Errorf("unsupported file system type %T", fsys)
}
