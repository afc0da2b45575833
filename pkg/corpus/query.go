package corpus

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

func compileQuery(query string) (*xpath.Expr, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	expr, err := xpath.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidQuery, query, err)
	}
	return expr, nil
}

func parseEntry(name string, data []byte) (*xmlquery.Node, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("corpus: parse entry %s: %w", name, err)
	}
	return doc, nil
}

// evaluate runs expr against doc. Type errors inside xpath surface as
// panics and are converted to ErrInvalidQuery.
func evaluate(expr *xpath.Expr, doc *xmlquery.Node) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %q: %v", ErrInvalidQuery, expr.String(), r)
		}
	}()
	return expr.Evaluate(xmlquery.CreateXPathNavigator(doc)), nil
}

// matches reports whether expr holds for doc using XPath boolean
// conversion: a non-empty node-set, a non-zero number, a non-empty string.
func matches(expr *xpath.Expr, doc *xmlquery.Node) (bool, error) {
	res, err := evaluate(expr, doc)
	if err != nil {
		return false, err
	}
	switch v := res.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0 && !math.IsNaN(v), nil
	case string:
		return v != "", nil
	case *xpath.NodeIterator:
		return v.MoveNext(), nil
	}
	return false, nil
}

type compiledMarker struct {
	expr  *xpath.Expr
	attr  string
	value string
}

func compileMarkers(markers []MarkerQuery) ([]compiledMarker, error) {
	out := make([]compiledMarker, 0, len(markers))
	for _, m := range markers {
		expr, err := compileQuery(m.Query)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(m.Attr) == "" {
			return nil, fmt.Errorf("%w: marker attribute is empty", ErrInvalidQuery)
		}
		out = append(out, compiledMarker{expr: expr, attr: m.Attr, value: m.Value})
	}
	return out, nil
}

// applyMarkers sets the marker attribute on every element selected by a
// marker query. Attribute and text results mark their owning element.
func applyMarkers(doc *xmlquery.Node, markers []compiledMarker) error {
	for _, m := range markers {
		res, err := evaluate(m.expr, doc)
		if err != nil {
			return err
		}
		it, ok := res.(*xpath.NodeIterator)
		if !ok {
			return fmt.Errorf("%w: marker query %q does not select nodes", ErrInvalidQuery, m.expr.String())
		}
		var targets []*xmlquery.Node
		for it.MoveNext() {
			nav, ok := it.Current().(*xmlquery.NodeNavigator)
			if !ok {
				continue
			}
			n := nav.Current()
			if n.Type != xmlquery.ElementNode {
				n = n.Parent
			}
			if n != nil && n.Type == xmlquery.ElementNode {
				targets = append(targets, n)
			}
		}
		// Mutating attributes while the iterator walks them would shift
		// attribute positions, so targets are collected first.
		for _, n := range targets {
			n.SetAttr(m.attr, m.value)
		}
	}
	return nil
}
