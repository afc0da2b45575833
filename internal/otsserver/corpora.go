package otsserver

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/open-treebank-server/pkg/registry"
	"github.com/r9s-ai/open-treebank-server/pkg/textesc"
)

type listFormat string

const (
	formatPlain listFormat = "plain"
	formatJSON  listFormat = "json"
	formatJS    listFormat = "js"
	formatXML   listFormat = "xml"
)

const (
	contentTypePlainUTF8 = "text/plain; charset=utf-8"
	contentTypePlain     = "text/plain"
	contentTypeXML       = "text/xml"
	contentTypeJSON      = "application/json"
	contentTypeJS        = "application/javascript"
)

func makeCorporaHandler(st *state, format listFormat) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxOp, "corpora")
		contentType, body := renderCorpora(format, st.Registry().All())
		c.Data(http.StatusOK, contentType, body)
	}
}

// renderCorpora serializes descriptors (already sorted by name). Unknown
// formats render as plain text.
func renderCorpora(format listFormat, descs []registry.Descriptor) (string, []byte) {
	var buf bytes.Buffer
	switch format {
	case formatJSON:
		writeCorporaJSON(&buf, descs)
		buf.WriteByte('\n')
		return contentTypeJSON, buf.Bytes()
	case formatJS:
		buf.WriteString("var corpora = ")
		writeCorporaJSON(&buf, descs)
		buf.WriteString(";\n")
		return contentTypeJS, buf.Bytes()
	case formatXML:
		writeCorporaXML(&buf, descs)
		return contentTypeXML, buf.Bytes()
	default:
		for _, d := range descs {
			buf.WriteString(d.Name)
			buf.WriteByte('\t')
			buf.WriteString(strconv.FormatInt(d.Entries, 10))
			buf.WriteByte('\t')
			buf.WriteString(textesc.Specials(d.ShortDesc))
			buf.WriteByte('\t')
			buf.WriteString(textesc.Specials(d.LongDesc))
			buf.WriteByte('\n')
		}
		return contentTypePlainUTF8, buf.Bytes()
	}
}

// writeCorporaJSON writes an object keyed by corpus name with sorted member
// keys, ", " and ": " separators, and each corpus after the first on its
// own line. Path is never written.
func writeCorporaJSON(buf *bytes.Buffer, descs []registry.Descriptor) {
	buf.WriteByte('{')
	for i, d := range descs {
		if i > 0 {
			buf.WriteString(",\n ")
		}
		buf.WriteString(textesc.JSON(d.Name))
		buf.WriteString(`: {"entries": `)
		buf.WriteString(strconv.FormatInt(d.Entries, 10))
		buf.WriteString(`, "fileSize": `)
		buf.WriteString(strconv.FormatInt(d.FileSize, 10))
		buf.WriteString(`, "longDesc": `)
		buf.WriteString(textesc.JSON(d.LongDesc))
		buf.WriteString(`, "shortDesc": `)
		buf.WriteString(textesc.JSON(d.ShortDesc))
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
}

func writeCorporaXML(buf *bytes.Buffer, descs []registry.Descriptor) {
	buf.WriteString("<corpusarchive>\n")
	for _, d := range descs {
		buf.WriteString("  <corpus>\n")
		writeXMLField(buf, "filename", textesc.XML(d.Name))
		writeXMLField(buf, "filesize", strconv.FormatInt(d.FileSize, 10))
		writeXMLField(buf, "sentences", strconv.FormatInt(d.Entries, 10))
		writeXMLField(buf, "shortdesc", textesc.XML(d.ShortDesc))
		writeXMLField(buf, "desc", textesc.XML(d.LongDesc))
		buf.WriteString("  </corpus>\n")
	}
	buf.WriteString("</corpusarchive>\n")
}

func writeXMLField(buf *bytes.Buffer, name, text string) {
	buf.WriteString("    <")
	buf.WriteString(name)
	buf.WriteByte('>')
	buf.WriteString(text)
	buf.WriteString("</")
	buf.WriteString(name)
	buf.WriteString(">\n")
}
