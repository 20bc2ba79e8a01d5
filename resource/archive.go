package resource

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound reports that the archive has no entry for a name.
	ErrNotFound = errors.New("resource: entry not found")
	// ErrInconsistent reports an entry that exists but cannot be read back in full.
	ErrInconsistent = errors.New("resource: archive entry unreadable")
)

// Store resolves logical file names to the bytes of an immutable archive.
// It is safe for concurrent use; the underlying archive is never written.
type Store struct {
	fsys   fs.FS
	prefix string
	log    zerolog.Logger
}

// NewStore opens a zip archive held in memory. Every lookup is composed
// with prefix before searching the entry table.
func NewStore(data []byte, prefix string, log zerolog.Logger) (*Store, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return NewFSStore(zr, prefix, log), nil
}

// NewFSStore serves entries from any file system, e.g. a directory in development.
func NewFSStore(fsys fs.FS, prefix string, log zerolog.Logger) *Store {
	return &Store{
		fsys:   fsys,
		prefix: prefix,
		log:    log.With().Str("component", "archive").Logger(),
	}
}

// Lookup returns the bytes of the named entry. A missing entry is reported
// as absent. An entry that cannot be opened or is shorter than its declared
// size is logged and also reported as absent.
func (s *Store) Lookup(name string) ([]byte, bool) {
	data, err := s.Find(name)
	switch {
	case err == nil:
		return data, true
	case errors.Is(err, ErrNotFound):
		return nil, false
	default:
		s.log.Error().Err(err).Str("name", name).Msg("archive entry unreadable")
		return nil, false
	}
}

// Find is Lookup with the failure reason exposed.
func (s *Store) Find(name string) ([]byte, error) {
	full := s.prefix + name
	if !fs.ValidPath(full) {
		return nil, ErrNotFound
	}

	f, err := s.fsys.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrInconsistent, full, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrInconsistent, full, err)
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	// the archive declares the size up front, one read must deliver all of it
	data := make([]byte, info.Size())
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInconsistent, full, err)
	}
	return data, nil
}

// Entries lists the names of all files below the prefix, relative to it.
func (s *Store) Entries() ([]string, error) {
	root := strings.TrimSuffix(s.prefix, "/")
	if root == "" {
		root = "."
	}
	var names []string
	err := fs.WalkDir(s.fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		names = append(names, strings.TrimPrefix(p, s.prefix))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk archive: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Ext returns the lower-case extension of name without the dot.
func Ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}
