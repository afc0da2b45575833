package logx

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const archiveTimeLayout = "20060102-150405.000000000"

// RotateOptions configures a RotateWriter.
type RotateOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	// MaxAgeDays removes archives older than this many days; 0 keeps them.
	MaxAgeDays int
	Compress   bool
	Now        func() time.Time
}

// RotateWriter is an append-only file writer that rotates the active file
// when a write would exceed the size limit or the local day changes.
// Archives are named "<path>.<timestamp>" (optionally gzipped).
type RotateWriter struct {
	mu   sync.Mutex
	opts RotateOptions
	max  int64

	f    *os.File
	size int64
	day  string
	done bool
}

type archive struct {
	path string
	when time.Time
}

func NewRotateWriter(opts RotateOptions) (*RotateWriter, error) {
	opts.Path = strings.TrimSpace(opts.Path)
	switch {
	case opts.Path == "":
		return nil, errors.New("access log rotate path is empty")
	case opts.MaxSizeMB <= 0:
		return nil, errors.New("max_size_mb must be > 0")
	case opts.MaxBackups <= 0:
		return nil, errors.New("max_backups must be > 0")
	case opts.MaxAgeDays < 0:
		return nil, errors.New("max_age_days must be >= 0")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	w := &RotateWriter{opts: opts, max: int64(opts.MaxSizeMB) << 20}
	if err := w.openLocked(opts.Now()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotateWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return 0, os.ErrClosed
	}
	now := w.opts.Now()
	overflow := w.size > 0 && w.size+int64(len(p)) > w.max
	if overflow || dayOf(now) != w.day {
		if err := w.rotateLocked(now); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotateWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return nil
	}
	w.done = true
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *RotateWriter) openLocked(now time.Time) error {
	// #nosec G304 -- access_log_path comes from trusted config/env.
	f, err := os.OpenFile(w.opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.size, w.day = f, st.Size(), dayOf(now)
	return nil
}

func (w *RotateWriter) rotateLocked(now time.Time) error {
	if err := w.f.Close(); err != nil {
		return err
	}
	w.f = nil

	target := fmt.Sprintf("%s.%s", w.opts.Path, now.In(time.Local).Format(archiveTimeLayout))
	renameErr := os.Rename(w.opts.Path, target)
	if renameErr != nil && !errors.Is(renameErr, os.ErrNotExist) {
		if err := w.openLocked(now); err != nil {
			return err
		}
		return renameErr
	}
	if renameErr == nil && w.opts.Compress {
		if err := gzipFile(target); err != nil {
			_ = w.openLocked(now)
			return err
		}
	}
	if err := w.openLocked(now); err != nil {
		return err
	}
	w.prune(now)
	return nil
}

// prune keeps the newest MaxBackups archives and drops the ones past MaxAgeDays.
func (w *RotateWriter) prune(now time.Time) {
	archives := w.archives()
	var cutoff time.Time
	if w.opts.MaxAgeDays > 0 {
		cutoff = now.AddDate(0, 0, -w.opts.MaxAgeDays)
	}
	for i, a := range archives {
		if i >= w.opts.MaxBackups || (!cutoff.IsZero() && a.when.Before(cutoff)) {
			_ = os.Remove(a.path)
		}
	}
}

// archives returns the rotated files, newest first.
func (w *RotateWriter) archives() []archive {
	dir := filepath.Dir(w.opts.Path)
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	prefix := filepath.Base(w.opts.Path) + "."
	var out []archive
	for _, ent := range ents {
		name := ent.Name()
		if ent.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".gz")
		when, err := time.ParseInLocation(archiveTimeLayout, stamp, time.Local)
		if err != nil {
			continue
		}
		out = append(out, archive{path: filepath.Join(dir, name), when: when})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].when.After(out[j].when) })
	return out
}

func gzipFile(path string) (err error) {
	// #nosec G304 -- archive path derives from trusted config.
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	tmp := path + ".gz.tmp"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	gz := gzip.NewWriter(dst)
	_, err = io.Copy(gz, src)
	if cerr := gz.Close(); err == nil {
		err = cerr
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err = os.Rename(tmp, path+".gz"); err != nil {
		return err
	}
	return os.Remove(path)
}

func dayOf(ts time.Time) string {
	return ts.In(time.Local).Format("20060102")
}
