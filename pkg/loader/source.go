// Package loader supplies class bytes to the enhancement pipeline: from a
// class directory, a jar or a JDK jmod, with parent-first delegation, and
// caches what it enhanced.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ErrNotFound is returned by a Source that does not have the class.
var ErrNotFound = errors.New("class not found")

// Source reads the binary of a class by internal name ("com/acme/Service").
type Source interface {
	ReadClass(name string) ([]byte, error)
}

// DirSource reads classes laid out by package below Root.
type DirSource struct {
	Root string
}

func (s DirSource) ReadClass(name string) ([]byte, error) {
	path := filepath.Join(s.Root, filepath.FromSlash(name)+".class")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("dir %s: %w: %s", s.Root, ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("dir %s: %w", s.Root, err)
	}
	return data, nil
}

// jmodMagic starts a JDK jmod file; the zip archive follows it.
var jmodMagic = []byte{'J', 'M', 0x01, 0x00}

// ArchiveSource reads classes from a jar, or from the classes/ directory of
// a jmod. The archive is read into memory once.
type ArchiveSource struct {
	Path   string
	prefix string
	files  map[string]*zip.File
	names  []string
}

// OpenArchive reads the jar or jmod at path.
func OpenArchive(path string) (*ArchiveSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive: reading %s: %w", path, err)
	}
	s, err := NewArchiveSource(data)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

// NewArchiveSource reads an archive held in memory.
func NewArchiveSource(data []byte) (*ArchiveSource, error) {
	s := &ArchiveSource{files: make(map[string]*zip.File)}
	if bytes.HasPrefix(data, jmodMagic) {
		data = data[len(jmodMagic):]
		s.prefix = "classes/"
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}
	for _, f := range zr.File {
		name, ok := strings.CutPrefix(f.Name, s.prefix)
		if !ok || !strings.HasSuffix(name, ".class") {
			continue
		}
		name = strings.TrimSuffix(name, ".class")
		s.files[name] = f
		s.names = append(s.names, name)
	}
	return s, nil
}

func (s *ArchiveSource) ReadClass(name string) ([]byte, error) {
	f, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("archive %s: %w: %s", s.Path, ErrNotFound, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("archive %s: opening %s: %w", s.Path, f.Name, err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("archive %s: reading %s: %w", s.Path, f.Name, err)
	}
	return buf.Bytes(), nil
}

// Classes returns the internal names of the classes in the archive, in
// archive order.
func (s *ArchiveSource) Classes() []string { return slices.Clone(s.names) }

// ChainSource asks each source in turn, parent first. A source failing for
// any reason other than ErrNotFound stops the search.
type ChainSource []Source

func (c ChainSource) ReadClass(name string) ([]byte, error) {
	for _, s := range c {
		data, err := s.ReadClass(name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}
