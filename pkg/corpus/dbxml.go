//go:build dbxml

package corpus

import (
	"context"
	"fmt"

	"github.com/pebbe/dbxml"
)

// dbxmlStore serves a Berkeley DB XML container (.dact, .dbxml), the
// native format of Alpino treebanks. Entries come in container order.
type dbxmlStore struct {
	db *dbxml.Db
}

func openDbxml(path string) (store, error) {
	db, err := dbxml.OpenRead(path)
	if err != nil {
		return nil, err
	}
	return &dbxmlStore{db: db}, nil
}

func (s *dbxmlStore) list(_ context.Context, _ bool) (cursor, error) {
	docs, err := s.db.All()
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return &dbxmlCursor{docs: docs}, nil
}

// read maps every lookup failure to ErrEntryNotFound: dbxml reports a
// missing document as a plain error.
func (s *dbxmlStore) read(_ context.Context, name string) ([]byte, error) {
	data, err := s.db.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntryNotFound, err)
	}
	return []byte(data), nil
}

func (s *dbxmlStore) close() error {
	s.db.Close()
	return nil
}

type dbxmlCursor struct {
	docs *dbxml.Docs
	done bool
}

func (c *dbxmlCursor) next() bool {
	if c.done {
		return false
	}
	if !c.docs.Next() {
		c.done = true
		return false
	}
	return true
}

func (c *dbxmlCursor) name() string { return c.docs.Name() }

func (c *dbxmlCursor) contents() ([]byte, error) { return []byte(c.docs.Content()), nil }

func (c *dbxmlCursor) err() error { return nil }

func (c *dbxmlCursor) close() error {
	if !c.done {
		c.done = true
		c.docs.Close()
	}
	return nil
}
