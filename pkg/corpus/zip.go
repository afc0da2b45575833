package corpus

import (
	"archive/zip"
	"context"
	"io"
	"sort"
)

// zipStore serves the *.xml members of a zip archive, ordered by name.
type zipStore struct {
	zr     *zip.ReadCloser
	files  []*zip.File
	byName map[string]*zip.File
}

func openZip(path string) (*zipStore, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	s := &zipStore{zr: zr, byName: make(map[string]*zip.File)}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !isEntryFile(f.Name) {
			continue
		}
		s.files = append(s.files, f)
		s.byName[f.Name] = f
	}
	sort.Slice(s.files, func(i, j int) bool { return s.files[i].Name < s.files[j].Name })
	return s, nil
}

func (s *zipStore) list(_ context.Context, _ bool) (cursor, error) {
	return &zipCursor{files: s.files, i: -1}, nil
}

func (s *zipStore) read(_ context.Context, name string) ([]byte, error) {
	f, ok := s.byName[name]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return readZipFile(f)
}

func (s *zipStore) close() error { return s.zr.Close() }

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type zipCursor struct {
	files []*zip.File
	i     int
}

func (c *zipCursor) next() bool {
	if c.i+1 >= len(c.files) {
		c.i = len(c.files)
		return false
	}
	c.i++
	return true
}

func (c *zipCursor) name() string { return c.files[c.i].Name }

func (c *zipCursor) contents() ([]byte, error) { return readZipFile(c.files[c.i]) }

func (c *zipCursor) err() error { return nil }

func (c *zipCursor) close() error {
	c.i = len(c.files)
	return nil
}
