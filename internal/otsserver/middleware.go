package otsserver

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/r9s-ai/open-treebank-server/internal/logx"
	"github.com/r9s-ai/open-treebank-server/pkg/requestid"
)

// Context keys handlers use to annotate the access log line.
const (
	ctxCorpus         = "ots.corpus"
	ctxOp             = "ots.op"
	ctxQuery          = "ots.query"
	ctxMarker         = "ots.marker"
	ctxEntries        = "ots.entries"
	ctxTransformBytes = "ots.transform_bytes"
	ctxError          = "ots.error"
)

type contextFieldSpec struct {
	ctxKey string
	logKey string
}

var accessLogContextFieldSpecs = []contextFieldSpec{
	{ctxKey: ctxCorpus, logKey: "corpus"},
	{ctxKey: ctxOp, logKey: "op"},
	{ctxKey: ctxQuery, logKey: "query"},
	{ctxKey: ctxMarker, logKey: "marker"},
	{ctxKey: ctxEntries, logKey: "entries"},
	{ctxKey: ctxTransformBytes, logKey: "transform_bytes"},
	{ctxKey: ctxError, logKey: "error"},
}

func requestIDMiddleware(headerKey string) gin.HandlerFunc {
	headerKey = requestid.ResolveHeaderKey(headerKey)
	return func(c *gin.Context) {
		id := requestid.Accept(c.GetHeader(headerKey))
		c.Header(headerKey, id)
		c.Set(headerKey, id)
		c.Next()
	}
}

// requestLoggerWithColor writes one access line per request. It is
// installed outside recovery, so the only panic that reaches it is an
// aborted stream; the line is still written and the panic continues.
func requestLoggerWithColor(l *log.Logger, color bool, requestIDHeaderKey string, accessFormatter *logx.AccessLogFormatter) gin.HandlerFunc {
	requestIDHeaderKey = requestid.ResolveHeaderKey(requestIDHeaderKey)
	if l == nil {
		l = log.New(os.Stdout, "", log.LstdFlags)
	}
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			rec := recover()
			status := c.Writer.Status()
			if rec != nil {
				if _, ok := c.Get(ctxError); !ok {
					c.Set(ctxError, "aborted")
				}
			}
			latency := time.Since(start)
			fields := collectAccessLogFields(c, requestIDHeaderKey, latency)
			ts := time.Now()
			if accessFormatter != nil {
				l.Println(accessFormatter.Format(ts, status, latency, c.ClientIP(), c.Request.Method, c.Request.URL.Path, fields, color))
			} else {
				l.Println(logx.FormatRequestLineWithColor(ts, status, latency, c.ClientIP(), c.Request.Method, c.Request.URL.Path, fields, color))
			}
			if rec != nil {
				panic(rec)
			}
		}()
		c.Next()
	}
}

func collectAccessLogFields(c *gin.Context, requestIDHeaderKey string, latency time.Duration) map[string]any {
	out := make(map[string]any, len(accessLogContextFieldSpecs)+2)
	if v := c.GetString(requestIDHeaderKey); v != "" {
		out["request_id"] = v
	}
	out["latency_ms"] = latency.Milliseconds()
	for _, s := range accessLogContextFieldSpecs {
		if v, ok := c.Get(s.ctxKey); ok {
			out[s.logKey] = v
		}
	}
	return out
}

// recovery turns handler panics into an empty 500. http.ErrAbortHandler is
// re-raised so net/http drops the connection of a stream that failed after
// its first byte.
func recovery(l *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		if rec == http.ErrAbortHandler {
			panic(rec)
		}
		l.Error("panic recovered",
			zap.Any("panic", rec),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Stack("stack"),
		)
		if c.Writer.Written() {
			panic(http.ErrAbortHandler)
		}
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
