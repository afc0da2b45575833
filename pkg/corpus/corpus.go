// Package corpus reads treebank corpora: collections of named XML entries
// stored in a directory tree, a Berkeley DB XML container, a zip archive or
// a sqlite database. A Reader enumerates entries lazily, filters them with
// XPath queries, highlights nodes with marker queries and applies XSLT
// stylesheets through libxslt.
package corpus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrEntryNotFound     = errors.New("corpus: entry not found")
	ErrInvalidQuery      = errors.New("corpus: invalid query")
	ErrInvalidStylesheet = errors.New("corpus: invalid stylesheet")
	ErrUnsupportedFormat = errors.New("corpus: unsupported corpus format")
	ErrClosed            = errors.New("corpus: reader closed")
)

// Entry is one item of a corpus. Contents is nil when only names were
// requested.
type Entry struct {
	Name     string
	Contents []byte
}

// MarkerQuery highlights the nodes selected by Query by setting attribute
// Attr to Value.
type MarkerQuery struct {
	Query string
	Attr  string
	Value string
}

// Opener opens the corpus stored at path.
type Opener interface {
	Open(ctx context.Context, path string) (Reader, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, path string) (Reader, error)

func (f OpenerFunc) Open(ctx context.Context, path string) (Reader, error) {
	return f(ctx, path)
}

// DefaultOpener opens corpora with Open.
var DefaultOpener Opener = OpenerFunc(Open)

// Reader gives access to one open corpus. A Reader may be used by one
// goroutine at a time; iterators must be closed before the Reader.
type Reader interface {
	Entries(ctx context.Context, withContents bool) (EntryIterator, error)
	Query(ctx context.Context, xpath string) (EntryIterator, error)
	Read(ctx context.Context, name string) ([]byte, error)
	ReadMarked(ctx context.Context, name string, markers []MarkerQuery) ([]byte, error)
	EntriesWithTransform(ctx context.Context, stylesheet []byte, markers []MarkerQuery) (EntryIterator, error)
	QueryWithTransform(ctx context.Context, xpath string, stylesheet []byte, markers []MarkerQuery) (EntryIterator, error)
	ValidQuery(xpath string) bool
	Close() error
}

// EntryIterator walks a lazily produced sequence of entries.
//
//	for it.Next() {
//		e := it.Entry()
//	}
//	if err := it.Err(); err != nil { ... }
type EntryIterator interface {
	Next() bool
	Entry() Entry
	Err() error
	Close() error
}

var sqliteMagic = []byte("SQLite format 3\x00")

// Open detects the storage format of path and opens it: a directory of
// *.xml files, a Berkeley DB XML container (.dact, .dbxml), a zip archive
// or a sqlite database with an entries table.
func Open(ctx context.Context, path string) (Reader, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: open %s: %w", path, err)
	}
	var st store
	switch {
	case fi.IsDir():
		st, err = openDir(path)
	case isDbxmlPath(path):
		st, err = openDbxml(path)
	default:
		kind, kerr := sniff(path)
		if kerr != nil {
			return nil, fmt.Errorf("corpus: open %s: %w", path, kerr)
		}
		switch kind {
		case "sqlite":
			st, err = openSQLite(ctx, path)
		case "zip":
			st, err = openZip(path)
		default:
			return nil, fmt.Errorf("corpus: open %s: %w", path, ErrUnsupportedFormat)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("corpus: open %s: %w", path, err)
	}
	return &reader{st: st}, nil
}

func isDbxmlPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".dact" || ext == ".dbxml"
}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	head := make([]byte, len(sqliteMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	head = head[:n]
	switch {
	case bytes.Equal(head, sqliteMagic):
		return "sqlite", nil
	case bytes.HasPrefix(head, []byte("PK\x03\x04")), bytes.HasPrefix(head, []byte("PK\x05\x06")):
		return "zip", nil
	case strings.EqualFold(filepath.Ext(path), ".zip"):
		return "zip", nil
	}
	return "", nil
}

// Count returns the number of entries in r.
func Count(ctx context.Context, r Reader) (int64, error) {
	it, err := r.Entries(ctx, false)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	var n int64
	for it.Next() {
		n++
	}
	return n, it.Err()
}
