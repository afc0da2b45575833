//go:build !dbxml

package corpus

import "fmt"

func openDbxml(path string) (store, error) {
	return nil, fmt.Errorf("%w: %s needs a build with -tags dbxml", ErrUnsupportedFormat, path)
}
