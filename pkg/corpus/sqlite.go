package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `CREATE TABLE entries (
	name     TEXT PRIMARY KEY,
	contents BLOB NOT NULL
)`

// sqliteDSN builds a file: URI for path. The path is made absolute and
// escaped so that '?', '#' and '%' in file names survive.
func sqliteDSN(path, mode string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("mode", mode)
	q.Add("_pragma", "busy_timeout(5000)")
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: q.Encode()}
	return u.String(), nil
}

// sqliteStore serves the entries table of a sqlite database, opened
// read-only.
type sqliteStore struct {
	db *sql.DB
}

func openSQLite(ctx context.Context, path string) (*sqliteStore, error) {
	dsn, err := sqliteDSN(path, "ro")
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	var n int
	err = db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'entries'`).Scan(&n)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	if n == 0 {
		db.Close()
		return nil, fmt.Errorf("%w: no entries table", ErrUnsupportedFormat)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) list(ctx context.Context, withContents bool) (cursor, error) {
	q := `SELECT name FROM entries ORDER BY name`
	if withContents {
		q = `SELECT name, contents FROM entries ORDER BY name`
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return &sqliteCursor{ctx: ctx, store: s, rows: rows, withContents: withContents}, nil
}

func (s *sqliteStore) read(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT contents FROM entries WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading entry %s: %w", name, err)
	}
	return data, nil
}

func (s *sqliteStore) close() error { return s.db.Close() }

type sqliteCursor struct {
	ctx          context.Context
	store        *sqliteStore
	rows         *sql.Rows
	withContents bool
	cur          string
	data         []byte
	e            error
}

func (c *sqliteCursor) next() bool {
	if !c.rows.Next() {
		return false
	}
	c.data = nil
	if c.withContents {
		c.e = c.rows.Scan(&c.cur, &c.data)
	} else {
		c.e = c.rows.Scan(&c.cur)
	}
	return c.e == nil
}

func (c *sqliteCursor) name() string { return c.cur }

func (c *sqliteCursor) contents() ([]byte, error) {
	if c.withContents {
		return c.data, nil
	}
	return c.store.read(c.ctx, c.cur)
}

func (c *sqliteCursor) err() error {
	if c.e != nil {
		return c.e
	}
	return c.rows.Err()
}

func (c *sqliteCursor) close() error { return c.rows.Close() }

// SQLiteWriter builds a sqlite corpus inside a single transaction.
type SQLiteWriter struct {
	db        *sql.DB
	tx        *sql.Tx
	insert    *sql.Stmt
	path      string
	committed bool
}

// CreateSQLite creates a new sqlite corpus at path. The file must not exist.
func CreateSQLite(ctx context.Context, path string) (*SQLiteWriter, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("corpus: create %s: %w", path, os.ErrExist)
	}
	dsn, err := sqliteDSN(path, "rwc")
	if err != nil {
		return nil, fmt.Errorf("corpus: create %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("corpus: create %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("corpus: create %s: creating schema: %w", path, err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("corpus: create %s: %w", path, err)
	}
	insert, err := tx.PrepareContext(ctx, `INSERT INTO entries (name, contents) VALUES (?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("corpus: create %s: %w", path, err)
	}
	return &SQLiteWriter{db: db, tx: tx, insert: insert, path: path}, nil
}

// Add stores one entry.
func (w *SQLiteWriter) Add(ctx context.Context, e Entry) error {
	if e.Name == "" {
		return errors.New("corpus: entry name is empty")
	}
	if _, err := w.insert.ExecContext(ctx, e.Name, e.Contents); err != nil {
		return fmt.Errorf("corpus: add entry %s: %w", e.Name, err)
	}
	return nil
}

// Commit makes the added entries durable and closes the database.
func (w *SQLiteWriter) Commit() error {
	if err := w.insert.Close(); err != nil {
		return err
	}
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("corpus: commit %s: %w", w.path, err)
	}
	w.committed = true
	return w.db.Close()
}

// Close discards uncommitted entries. It is a no-op after Commit.
func (w *SQLiteWriter) Close() error {
	if w.committed {
		return nil
	}
	_ = w.insert.Close()
	_ = w.tx.Rollback()
	return w.db.Close()
}

// Import copies every entry of src into w and returns the number copied.
func Import(ctx context.Context, src Reader, w *SQLiteWriter) (int64, error) {
	it, err := src.Entries(ctx, true)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	var n int64
	for it.Next() {
		if err := w.Add(ctx, it.Entry()); err != nil {
			return n, err
		}
		n++
	}
	return n, it.Err()
}
