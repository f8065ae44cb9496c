package fileutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FindFileCaseInsensitive returns the path of the regular file in dir whose
// name equals filename ignoring case.
func FindFileCaseInsensitive(dir, filename string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	if name, ok := match(entries, filename); ok {
		return filepath.Join(dir, name), nil
	}
	return "", fmt.Errorf("file not found: %s (searched in %s): %w", filename, dir, fs.ErrNotExist)
}

// FindFileCaseInsensitiveFS is FindFileCaseInsensitive over an fs.FS. The
// result uses forward slashes.
func FindFileCaseInsensitiveFS(fsys fs.FS, dir, filename string) (string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	if name, ok := match(entries, filename); ok {
		if dir == "." {
			return name, nil
		}
		return dir + "/" + name, nil
	}
	return "", fmt.Errorf("file not found: %s (searched in %s): %w", filename, dir, fs.ErrNotExist)
}

func match(entries []fs.DirEntry, filename string) (string, bool) {
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), filename) {
			return e.Name(), true
		}
	}
	return "", false
}
