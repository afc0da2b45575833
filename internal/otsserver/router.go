package otsserver

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/open-treebank-server/internal/logx"
	"github.com/r9s-ai/open-treebank-server/pkg/config"
	"github.com/r9s-ai/open-treebank-server/pkg/requestid"
)

func NewRouter(
	cfg *config.Config,
	st *state,
	accessLogger *log.Logger,
	accessLoggerColor bool,
	requestIDHeaderKey string,
	accessFormatter *logx.AccessLogFormatter,
) *gin.Engine {
	resolvedRequestIDHeaderKey := requestid.ResolveHeaderKey(requestIDHeaderKey)
	r := gin.New()
	// Corpus and entry names may carry %2F; match on the raw path and
	// unescape captured values in pathParam.
	r.UseRawPath = true
	r.UnescapePathValues = false
	r.RedirectTrailingSlash = false

	r.Use(requestIDMiddleware(resolvedRequestIDHeaderKey))
	if cfg.Logging.AccessLog {
		r.Use(requestLoggerWithColor(accessLogger, accessLoggerColor, resolvedRequestIDHeaderKey, accessFormatter))
	}
	r.Use(recovery(st.log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "corpora": st.Registry().Len(), "started_at": st.StartedAtUnix()})
	})

	r.GET("/corpora", makeCorporaHandler(st, formatPlain))
	r.GET("/corpora.js", makeCorporaHandler(st, formatJS))
	r.GET("/corpora.json", makeCorporaHandler(st, formatJSON))
	r.GET("/corpora.xml", makeCorporaHandler(st, formatXML))

	entries := makeEntriesHandler(st)
	annotate := makeAnnotateHandler(st, cfg.Server.MaxTransformBytes)
	r.GET("/:corpus/entries", entries)
	r.GET("/:corpus/entries/", entries)
	r.POST("/:corpus/entries", annotate)
	r.POST("/:corpus/entries/", annotate)
	r.GET("/:corpus/entry/*entry", makeEntryHandler(st))
	r.GET("/:corpus/validate", makeValidateHandler(st))

	return r
}
