package requestid

import (
	"regexp"
	"strings"
	"testing"
)

func TestGenFormat(t *testing.T) {
	id := Gen()
	if len(id) != 28 {
		t.Fatalf("unexpected len=%d id=%q", len(id), id)
	}
	if ok, _ := regexp.MatchString(`^[0-9]{28}$`, id); !ok {
		t.Fatalf("unexpected id format: %q", id)
	}
}

func TestResolveHeaderKey(t *testing.T) {
	if got := ResolveHeaderKey("  "); got != DefaultHeaderKey {
		t.Fatalf("ResolveHeaderKey(blank)=%q", got)
	}
	if got := ResolveHeaderKey(" X-Trace "); got != "X-Trace" {
		t.Fatalf("ResolveHeaderKey=%q", got)
	}
}

func TestAccept(t *testing.T) {
	if got := Accept("abc-123"); got != "abc-123" {
		t.Fatalf("Accept kept=%q", got)
	}
	digits := regexp.MustCompile(`^[0-9]{28}$`)
	for _, in := range []string{"", "   ", "has space", "tab\there", "café", strings.Repeat("x", 129)} {
		if got := Accept(in); !digits.MatchString(got) {
			t.Fatalf("Accept(%q)=%q, want generated id", in, got)
		}
	}
}

func TestHelpers(t *testing.T) {
	if got := randomDigits(0); got != "" {
		t.Fatalf("randomDigits(0)=%q", got)
	}
	s := randomDigits(12)
	if ok, _ := regexp.MatchString(`^[0-9]{12}$`, s); !ok {
		t.Fatalf("randomDigits content=%q", s)
	}
	if got := cryptoRandIntn(0); got != 0 {
		t.Fatalf("cryptoRandIntn(0)=%d", got)
	}
	if got := timeString(); len(got) != 20 {
		t.Fatalf("timeString len=%d value=%q", len(got), got)
	}
}
