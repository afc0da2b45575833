package corpus

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// dirStore serves every *.xml file below root. Entry names are the
// slash-separated paths relative to root.
type dirStore struct {
	root string
}

func openDir(root string) (*dirStore, error) {
	if _, err := os.ReadDir(root); err != nil {
		return nil, err
	}
	return &dirStore{root: root}, nil
}

func isEntryFile(name string) bool {
	return strings.EqualFold(path.Ext(name), ".xml")
}

func (s *dirStore) list(_ context.Context, _ bool) (cursor, error) {
	c := &dirCursor{store: s}
	if err := c.push(""); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *dirStore) read(_ context.Context, name string) ([]byte, error) {
	if name == "" || !isEntryFile(name) || !filepath.IsLocal(filepath.FromSlash(name)) {
		return nil, ErrEntryNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrEntryNotFound
	}
	return data, err
}

func (s *dirStore) close() error { return nil }

type dirFrame struct {
	rel     string
	entries []os.DirEntry
	i       int
}

// dirCursor walks the tree depth first, reading one directory at a time.
type dirCursor struct {
	store *dirStore
	stack []dirFrame
	cur   string
	e     error
}

func (c *dirCursor) push(rel string) error {
	entries, err := os.ReadDir(filepath.Join(c.store.root, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	c.stack = append(c.stack, dirFrame{rel: rel, entries: entries})
	return nil
}

func (c *dirCursor) next() bool {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		if top.i >= len(top.entries) {
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		de := top.entries[top.i]
		top.i++
		rel := path.Join(top.rel, de.Name())
		if de.IsDir() {
			if err := c.push(rel); err != nil {
				c.e = err
				c.stack = nil
				return false
			}
			continue
		}
		if isEntryFile(rel) {
			c.cur = rel
			return true
		}
	}
	return false
}

func (c *dirCursor) name() string { return c.cur }

func (c *dirCursor) contents() ([]byte, error) {
	return os.ReadFile(filepath.Join(c.store.root, filepath.FromSlash(c.cur)))
}

func (c *dirCursor) err() error { return c.e }

func (c *dirCursor) close() error {
	c.stack = nil
	return nil
}
