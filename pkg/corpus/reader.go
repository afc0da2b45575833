package corpus

import (
	"context"
	"sync"

	"github.com/antchfx/xpath"
)

// store is implemented by each storage backend.
type store interface {
	list(ctx context.Context, withContents bool) (cursor, error)
	read(ctx context.Context, name string) ([]byte, error)
	close() error
}

// cursor walks entry names in storage order. contents may only be called
// after next returned true.
type cursor interface {
	next() bool
	name() string
	contents() ([]byte, error)
	err() error
	close() error
}

type reader struct {
	st        store
	closeOnce sync.Once
	closeErr  error
	closed    bool
}

func (r *reader) Entries(ctx context.Context, withContents bool) (EntryIterator, error) {
	if r.closed {
		return nil, ErrClosed
	}
	cur, err := r.st.list(ctx, withContents)
	if err != nil {
		return nil, err
	}
	if !withContents {
		return newIterator(ctx, cur, false, func(name string, _ []byte) (Entry, bool, error) {
			return Entry{Name: name}, true, nil
		}), nil
	}
	return newIterator(ctx, cur, true, func(name string, data []byte) (Entry, bool, error) {
		return Entry{Name: name, Contents: data}, true, nil
	}), nil
}

func (r *reader) Query(ctx context.Context, query string) (EntryIterator, error) {
	if r.closed {
		return nil, ErrClosed
	}
	expr, err := compileQuery(query)
	if err != nil {
		return nil, err
	}
	cur, err := r.st.list(ctx, true)
	if err != nil {
		return nil, err
	}
	return newIterator(ctx, cur, true, func(name string, data []byte) (Entry, bool, error) {
		doc, err := parseEntry(name, data)
		if err != nil {
			return Entry{}, false, err
		}
		ok, err := matches(expr, doc)
		if err != nil || !ok {
			return Entry{}, false, err
		}
		return Entry{Name: name, Contents: data}, true, nil
	}), nil
}

func (r *reader) Read(ctx context.Context, name string) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}
	return r.st.read(ctx, name)
}

func (r *reader) ReadMarked(ctx context.Context, name string, markers []MarkerQuery) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}
	compiled, err := compileMarkers(markers)
	if err != nil {
		return nil, err
	}
	data, err := r.st.read(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(compiled) == 0 {
		return data, nil
	}
	doc, err := parseEntry(name, data)
	if err != nil {
		return nil, err
	}
	if err := applyMarkers(doc, compiled); err != nil {
		return nil, err
	}
	return []byte(doc.OutputXML(false)), nil
}

func (r *reader) EntriesWithTransform(ctx context.Context, stylesheet []byte, markers []MarkerQuery) (EntryIterator, error) {
	return r.transform(ctx, nil, stylesheet, markers)
}

func (r *reader) QueryWithTransform(ctx context.Context, query string, stylesheet []byte, markers []MarkerQuery) (EntryIterator, error) {
	expr, err := compileQuery(query)
	if err != nil {
		return nil, err
	}
	return r.transform(ctx, expr, stylesheet, markers)
}

func (r *reader) transform(ctx context.Context, expr *xpath.Expr, stylesheet []byte, markers []MarkerQuery) (EntryIterator, error) {
	if r.closed {
		return nil, ErrClosed
	}
	compiled, err := compileMarkers(markers)
	if err != nil {
		return nil, err
	}
	ss, err := compileStylesheet(stylesheet)
	if err != nil {
		return nil, err
	}
	cur, err := r.st.list(ctx, true)
	if err != nil {
		ss.close()
		return nil, err
	}
	it := newIterator(ctx, cur, true, func(name string, data []byte) (Entry, bool, error) {
		doc, err := parseEntry(name, data)
		if err != nil {
			return Entry{}, false, err
		}
		if expr != nil {
			ok, err := matches(expr, doc)
			if err != nil || !ok {
				return Entry{}, false, err
			}
		}
		if err := applyMarkers(doc, compiled); err != nil {
			return Entry{}, false, err
		}
		out, err := ss.apply(name, data, doc, len(compiled) > 0)
		if err != nil {
			return Entry{}, false, err
		}
		return Entry{Name: name, Contents: out}, true, nil
	})
	it.release = ss.close
	return it, nil
}

func (r *reader) ValidQuery(query string) bool {
	_, err := compileQuery(query)
	return err == nil
}

func (r *reader) Close() error {
	r.closeOnce.Do(func() {
		r.closed = true
		r.closeErr = r.st.close()
	})
	return r.closeErr
}

// step turns a raw entry into the value yielded by an iterator; ok=false
// skips the entry.
type step func(name string, data []byte) (e Entry, ok bool, err error)

type iterator struct {
	ctx          context.Context
	cur          cursor
	needContents bool
	step         step
	entry        Entry
	err          error
	done         bool
	release      func()
}

func newIterator(ctx context.Context, cur cursor, needContents bool, fn step) *iterator {
	return &iterator{ctx: ctx, cur: cur, needContents: needContents, step: fn}
}

func (it *iterator) Next() bool {
	if it.done {
		return false
	}
	for {
		if err := it.ctx.Err(); err != nil {
			return it.fail(err)
		}
		if !it.cur.next() {
			it.done = true
			it.err = it.cur.err()
			it.entry = Entry{}
			return false
		}
		name := it.cur.name()
		var data []byte
		if it.needContents {
			var err error
			if data, err = it.cur.contents(); err != nil {
				return it.fail(err)
			}
		}
		e, ok, err := it.step(name, data)
		if err != nil {
			return it.fail(err)
		}
		if ok {
			it.entry = e
			return true
		}
	}
}

func (it *iterator) fail(err error) bool {
	it.done = true
	it.err = err
	it.entry = Entry{}
	return false
}

func (it *iterator) Entry() Entry { return it.entry }

func (it *iterator) Err() error { return it.err }

func (it *iterator) Close() error {
	it.done = true
	if it.release != nil {
		it.release()
		it.release = nil
	}
	return it.cur.close()
}
