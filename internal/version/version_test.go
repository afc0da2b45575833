package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	old := Version
	Version = "v1.2.3"
	t.Cleanup(func() { Version = old })

	info := Get()
	if info.Version != "v1.2.3" || info.GoVersion != runtime.Version() {
		t.Fatalf("info=%+v", info)
	}
	if s := info.String(); !strings.HasPrefix(s, "ots v1.2.3 (commit ") {
		t.Fatalf("String()=%q", s)
	}
}
