package movie

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/zurustar/kagami/pkg/fileutil"
)

// Extension is the file extension of encoded movies.
const Extension = ".kmv"

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("movie: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Marshal normalizes m and encodes it as canonical CBOR. Equal movies
// encode to equal bytes. Encoded strings are always UTF-8.
func Marshal(m *Movie) ([]byte, error) {
	if err := m.Normalize(); err != nil {
		return nil, fmt.Errorf("movie %s: %w", m.Name, err)
	}
	return encMode.Marshal(m)
}

// Unmarshal decodes and validates a movie.
func Unmarshal(data []byte) (*Movie, error) {
	var m Movie
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("movie: unmarshal: %w", err)
	}
	if err := m.Normalize(); err != nil {
		return nil, fmt.Errorf("movie %s: %w", m.Name, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and decodes the movie file name from fsys. The name is
// matched case-insensitively.
func Load(fsys fileutil.FileSystem, name string) (*Movie, error) {
	data, err := fsys.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read movie %s: %w", name, err)
	}
	m, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(path.Base(name), path.Ext(name))
	}
	return m, nil
}

// Find lists the movie files under root, sorted by path. Extensions are
// compared case-insensitively.
func Find(fsys fileutil.FileSystem, root string) ([]string, error) {
	var files []string
	err := fileutil.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(path.Ext(p), Extension) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find movie files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
