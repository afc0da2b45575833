package otsserver

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/open-treebank-server/pkg/config"
	"github.com/r9s-ai/open-treebank-server/pkg/corpus"
	"github.com/r9s-ai/open-treebank-server/pkg/registry"
)

var errFakeReader = errors.New("fake reader failure")

// fakeReader records which reader operation a handler chose.
type fakeReader struct {
	mu      sync.Mutex
	entries []corpus.Entry
	// failAt makes iterators fail once this many entries were yielded; <0 never.
	failAt int
	// failErr is the iterator error; errFakeReader when nil.
	failErr error
	// listErr fails Entries and EntriesWithTransform before iterating.
	listErr error
	valid   map[string]bool
	calls   []string
	markers []corpus.MarkerQuery
	body    []byte
	closed  bool
}

func newFakeReader(entries ...corpus.Entry) *fakeReader {
	return &fakeReader{entries: entries, failAt: -1, valid: map[string]bool{}}
}

func (r *fakeReader) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *fakeReader) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *fakeReader) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *fakeReader) iter(withContents bool) *fakeIterator {
	failErr := r.failErr
	if failErr == nil {
		failErr = errFakeReader
	}
	return &fakeIterator{entries: r.entries, failAt: r.failAt, failErr: failErr, withContents: withContents}
}

func (r *fakeReader) Entries(_ context.Context, withContents bool) (corpus.EntryIterator, error) {
	r.record("entries")
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.iter(withContents), nil
}

func (r *fakeReader) Query(_ context.Context, q string) (corpus.EntryIterator, error) {
	r.record("query:" + q)
	if !r.valid[q] {
		return nil, corpus.ErrInvalidQuery
	}
	return r.iter(true), nil
}

func (r *fakeReader) Read(_ context.Context, name string) ([]byte, error) {
	r.record("read:" + name)
	for _, e := range r.entries {
		if e.Name == name {
			return e.Contents, nil
		}
	}
	return nil, corpus.ErrEntryNotFound
}

func (r *fakeReader) ReadMarked(ctx context.Context, name string, markers []corpus.MarkerQuery) ([]byte, error) {
	r.mu.Lock()
	r.markers = markers
	r.mu.Unlock()
	r.record("readMarked:" + name)
	for _, e := range r.entries {
		if e.Name == name {
			return append([]byte("<marked/>"), e.Contents...), nil
		}
	}
	return nil, corpus.ErrEntryNotFound
}

func (r *fakeReader) EntriesWithTransform(_ context.Context, stylesheet []byte, markers []corpus.MarkerQuery) (corpus.EntryIterator, error) {
	r.mu.Lock()
	r.body, r.markers = stylesheet, markers
	r.mu.Unlock()
	r.record("entriesWithTransform")
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.iter(true), nil
}

func (r *fakeReader) QueryWithTransform(_ context.Context, q string, stylesheet []byte, markers []corpus.MarkerQuery) (corpus.EntryIterator, error) {
	r.mu.Lock()
	r.body, r.markers = stylesheet, markers
	r.mu.Unlock()
	r.record("queryWithTransform:" + q)
	if !r.valid[q] {
		return nil, corpus.ErrInvalidQuery
	}
	return r.iter(true), nil
}

func (r *fakeReader) ValidQuery(q string) bool {
	r.record("valid:" + q)
	return r.valid[q]
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type fakeIterator struct {
	entries      []corpus.Entry
	failAt       int
	failErr      error
	withContents bool
	i            int
	cur          corpus.Entry
	err          error
}

func (it *fakeIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.failAt >= 0 && it.i == it.failAt {
		it.err = it.failErr
		return false
	}
	if it.i >= len(it.entries) {
		return false
	}
	it.cur = it.entries[it.i]
	if !it.withContents {
		it.cur.Contents = nil
	}
	it.i++
	return true
}

func (it *fakeIterator) Entry() corpus.Entry { return it.cur }
func (it *fakeIterator) Err() error          { return it.err }
func (it *fakeIterator) Close() error        { return nil }

// fakeOpener hands out readers by path; unknown paths fail to open.
type fakeOpener struct {
	mu      sync.Mutex
	readers map[string]*fakeReader
	opened  []string
}

func (o *fakeOpener) Open(_ context.Context, path string) (corpus.Reader, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, path)
	r, ok := o.readers[path]
	if !ok {
		return nil, errors.New("cannot open " + path)
	}
	return r, nil
}

func (o *fakeOpener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

// syncBuffer is written by server goroutines and read by the test.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

type testServer struct {
	engine    *gin.Engine
	st        *state
	accessLog *syncBuffer
}

func newTestServer(t *testing.T, opener corpus.Opener, descs ...registry.Descriptor) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg, err := registry.New(descs)
	if err != nil {
		t.Fatalf("registry.New err=%v", err)
	}
	cfg := &config.Config{}
	cfg.Server.MaxTransformBytes = 1 << 10
	cfg.Logging.AccessLog = true
	out := &syncBuffer{}
	st := newState(reg, opener, nil)
	engine := NewRouter(cfg, st, log.New(out, "", 0), false, "", nil)
	return &testServer{engine: engine, st: st, accessLog: out}
}

func (s *testServer) do(method, target string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}
