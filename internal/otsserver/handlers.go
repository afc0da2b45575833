package otsserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/r9s-ai/open-treebank-server/pkg/corpus"
	"github.com/r9s-ai/open-treebank-server/pkg/registry"
	"github.com/r9s-ai/open-treebank-server/pkg/textesc"
)

// makeEntriesHandler serves GET /{corpus}/entries.
func makeEntriesHandler(st *state) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxOp, "entries")
		req := parseQueryRequest(c)
		d, ok := resolveCorpus(c, st, req.Corpus)
		if !ok {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		r, err := openCorpus(c, st, d)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		defer closeReader(st, d, r)

		ctx := c.Request.Context()
		var it corpus.EntryIterator
		if req.Query != nil {
			c.Set(ctxQuery, *req.Query)
			it, err = r.Query(ctx, *req.Query)
		} else {
			it, err = r.Entries(ctx, req.IncludeContents)
		}
		if err != nil {
			enumerationFailed(c, st, "list entries", err)
			return
		}
		defer func() { _ = it.Close() }()

		withContents := req.IncludeContents
		streamEntries(c, st, it, func(buf []byte, e corpus.Entry) []byte {
			buf = append(buf, e.Name...)
			if withContents {
				buf = append(buf, '\t')
				buf = append(buf, e.Contents...)
			}
			return append(buf, '\n')
		})
	}
}

// makeAnnotateHandler serves POST /{corpus}/entries: the body is a
// stylesheet applied to every (matching) entry after optional marking.
func makeAnnotateHandler(st *state, maxTransformBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxOp, "annotate")
		req := parseQueryRequest(c)
		d, ok := resolveCorpus(c, st, req.Corpus)
		if !ok {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		body, err := readTransform(c, maxTransformBytes)
		if err != nil {
			c.Set(ctxError, err.Error())
			if errors.Is(err, errTransformTooLarge) {
				c.AbortWithStatus(http.StatusRequestEntityTooLarge)
				return
			}
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		req.Transform = body
		c.Set(ctxTransformBytes, len(body))

		r, err := openCorpus(c, st, d)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		defer closeReader(st, d, r)

		ctx := c.Request.Context()
		if req.Marker != nil {
			c.Set(ctxMarker, req.Marker.Query)
		}
		var it corpus.EntryIterator
		if req.Query != nil {
			c.Set(ctxQuery, *req.Query)
			it, err = r.QueryWithTransform(ctx, *req.Query, req.Transform, req.markers())
		} else {
			it, err = r.EntriesWithTransform(ctx, req.Transform, req.markers())
		}
		if err != nil {
			enumerationFailed(c, st, "transform entries", err)
			return
		}
		defer func() { _ = it.Close() }()

		streamEntries(c, st, it, func(buf []byte, e corpus.Entry) []byte {
			buf = append(buf, e.Name...)
			buf = append(buf, '\t')
			buf = append(buf, textesc.Specials(string(e.Contents))...)
			return append(buf, '\n')
		})
	}
}

// makeEntryHandler serves GET /{corpus}/entry/{entry}. Every failure is a 404.
func makeEntryHandler(st *state) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxOp, "entry")
		req := parseQueryRequest(c)
		d, ok := resolveCorpus(c, st, req.Corpus)
		if !ok {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		r, err := openCorpus(c, st, d)
		if err != nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		defer closeReader(st, d, r)

		ctx := c.Request.Context()
		var data []byte
		if req.Marker != nil {
			c.Set(ctxMarker, req.Marker.Query)
			data, err = r.ReadMarked(ctx, req.Entry, req.markers())
		} else {
			data, err = r.Read(ctx, req.Entry)
		}
		if err != nil {
			notFound(c, st, "read entry", err)
			return
		}
		c.Data(http.StatusOK, contentTypeXML, data)
	}
}

// makeValidateHandler serves GET /{corpus}/validate. The body is "1" or "0";
// a missing query or any reader failure is a 404.
func makeValidateHandler(st *state) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxOp, "validate")
		req := parseQueryRequest(c)
		d, ok := resolveCorpus(c, st, req.Corpus)
		if !ok || req.Query == nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		c.Set(ctxQuery, *req.Query)
		r, err := openCorpus(c, st, d)
		if err != nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		defer closeReader(st, d, r)

		body := "0"
		if r.ValidQuery(*req.Query) {
			body = "1"
		}
		c.Data(http.StatusOK, contentTypePlain, []byte(body))
	}
}

func resolveCorpus(c *gin.Context, st *state, name string) (registry.Descriptor, bool) {
	c.Set(ctxCorpus, name)
	d, ok := st.Registry().Lookup(name)
	if !ok {
		c.Set(ctxError, "unknown corpus")
	}
	return d, ok
}

func openCorpus(c *gin.Context, st *state, d registry.Descriptor) (corpus.Reader, error) {
	r, err := st.opener.Open(c.Request.Context(), d.Path)
	if err != nil {
		c.Set(ctxError, "open failed")
		st.log.Error("open corpus failed", zap.String("corpus", d.Name), zap.Error(err))
		return nil, err
	}
	return r, nil
}

func closeReader(st *state, d registry.Descriptor, r corpus.Reader) {
	if err := r.Close(); err != nil {
		st.log.Warn("close corpus failed", zap.String("corpus", d.Name), zap.Error(err))
	}
}

func notFound(c *gin.Context, st *state, what string, err error) {
	c.Set(ctxError, err.Error())
	st.log.Debug(what+" failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.AbortWithStatus(http.StatusNotFound)
}

// isQueryFailure reports whether err comes from the request itself: a bad
// query or stylesheet, a transform that failed on an entry, or a missing
// entry. Anything else is a reader failure.
func isQueryFailure(err error) bool {
	return errors.Is(err, corpus.ErrInvalidQuery) ||
		errors.Is(err, corpus.ErrInvalidStylesheet) ||
		errors.Is(err, corpus.ErrTransformFailed) ||
		errors.Is(err, corpus.ErrEntryNotFound)
}

// enumerationFailed answers a listing that failed before its first byte:
// 404 for query failures, 500 for reader failures.
func enumerationFailed(c *gin.Context, st *state, what string, err error) {
	if isQueryFailure(err) {
		notFound(c, st, what, err)
		return
	}
	c.Set(ctxError, err.Error())
	st.log.Error(what+" failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.AbortWithStatus(http.StatusInternalServerError)
}

// streamEntries writes one line per entry and flushes after each, so a
// corpus is never buffered whole. The first entry is fetched before the
// status line is written: a failure up to that point is answered by
// enumerationFailed. Past
// it the status is committed, and a failure aborts the connection so the
// client sees a truncated body.
func streamEntries(c *gin.Context, st *state, it corpus.EntryIterator, line func([]byte, corpus.Entry) []byte) {
	more := it.Next()
	if !more {
		if err := it.Err(); err != nil {
			notFound(c, st, "stream entries", err)
			return
		}
	}

	c.Header("Content-Type", contentTypePlain)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	var (
		n   int64
		buf []byte
	)
	defer func() { c.Set(ctxEntries, strconv.FormatInt(n, 10)) }()
	for ; more; more = it.Next() {
		buf = line(buf[:0], it.Entry())
		if _, err := c.Writer.Write(buf); err != nil {
			c.Set(ctxError, "client gone")
			st.log.Debug("stream write failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
			return
		}
		c.Writer.Flush()
		n++
	}
	err := it.Err()
	if err == nil {
		return
	}
	if c.Request.Context().Err() != nil {
		c.Set(ctxError, "client gone")
		st.log.Debug("stream cancelled", zap.String("path", c.Request.URL.Path), zap.Error(err))
		return
	}
	c.Set(ctxError, err.Error())
	st.log.Error("stream entries failed after first byte",
		zap.String("path", c.Request.URL.Path),
		zap.Int64("written", n),
		zap.Error(err),
	)
	panic(http.ErrAbortHandler)
}
