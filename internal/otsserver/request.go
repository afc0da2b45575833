package otsserver

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/open-treebank-server/pkg/corpus"
)

const (
	paramQuery       = "query"
	paramContents    = "contents"
	paramMarkerQuery = "markerQuery"
	paramMarkerAttr  = "markerAttr"
	paramMarkerValue = "markerValue"
)

var errTransformTooLarge = errors.New("transform body too large")

// queryRequest is built once per request from the path, the query string
// and the body. Values are kept exactly as sent.
type queryRequest struct {
	Corpus          string
	Entry           string
	Query           *string
	// IncludeContents is honored with and without Query, so contents=1
	// alone dumps a whole corpus; clients use it to mirror corpora.
	IncludeContents bool
	Marker          *corpus.MarkerQuery
	Transform       []byte
}

func parseQueryRequest(c *gin.Context) queryRequest {
	req := queryRequest{
		Corpus:          pathParam(c, "corpus"),
		IncludeContents: c.Query(paramContents) == "1",
		Marker:          parseMarker(c),
	}
	if q, ok := c.GetQuery(paramQuery); ok {
		req.Query = &q
	}
	// Catch-all values keep their leading slash.
	req.Entry = strings.TrimPrefix(pathParam(c, "entry"), "/")
	return req
}

// pathParam returns a decoded path parameter. Routing runs on the raw path
// whenever the request has one, and then the captured value is still
// escaped. url.PathUnescape keeps '+' literal.
func pathParam(c *gin.Context, name string) string {
	v := c.Param(name)
	if c.Request.URL.RawPath == "" {
		return v
	}
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

// parseMarker returns a marker only when all three parameters are present.
func parseMarker(c *gin.Context) *corpus.MarkerQuery {
	q, okQ := c.GetQuery(paramMarkerQuery)
	a, okA := c.GetQuery(paramMarkerAttr)
	v, okV := c.GetQuery(paramMarkerValue)
	if !okQ || !okA || !okV {
		return nil
	}
	return &corpus.MarkerQuery{Query: q, Attr: a, Value: v}
}

// markers converts the optional marker into the list the reader expects.
func (r queryRequest) markers() []corpus.MarkerQuery {
	if r.Marker == nil {
		return nil
	}
	return []corpus.MarkerQuery{*r.Marker}
}

// readTransform reads the whole request body, bounded by limit.
func readTransform(c *gin.Context, limit int64) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body := http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	b, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errTransformTooLarge
		}
		return nil, err
	}
	return b, nil
}
