package corpus

import (
	"errors"
	"fmt"

	"github.com/antchfx/xmlquery"
	"github.com/wamuir/go-xslt"
)

// ErrTransformFailed is returned when a compiled stylesheet cannot be
// applied to an entry.
var ErrTransformFailed = errors.New("corpus: transform failed")

// stylesheet is a libxslt stylesheet. Each transform iterator owns one and
// frees it on Close.
type stylesheet struct {
	xs *xslt.Stylesheet
}

func compileStylesheet(src []byte) (*stylesheet, error) {
	xs, err := xslt.NewStylesheet(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStylesheet, err)
	}
	return &stylesheet{xs: xs}, nil
}

// apply transforms one entry. When markers changed doc, the marked
// document is serialized and transformed; otherwise the stored bytes are
// used as is.
func (s *stylesheet) apply(name string, data []byte, doc *xmlquery.Node, marked bool) ([]byte, error) {
	src := data
	if marked {
		src = []byte(doc.OutputXML(false))
	}
	out, err := s.xs.Transform(src)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %s: %v", ErrTransformFailed, name, err)
	}
	return out, nil
}

func (s *stylesheet) close() {
	s.xs.Close()
}
