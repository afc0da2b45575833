// Package requestid generates and resolves per-request identifiers.
package requestid

import (
	crand "crypto/rand"
	"math/big"
	"strings"
	"time"
)

const DefaultHeaderKey = "X-Ots-Request-Id"

// maxLen bounds client-supplied ids echoed back in responses and logs.
const maxLen = 128

// ResolveHeaderKey returns the provided header key when non-empty,
// otherwise falls back to the default request id header key.
func ResolveHeaderKey(headerKey string) string {
	if v := strings.TrimSpace(headerKey); v != "" {
		return v
	}
	return DefaultHeaderKey
}

// Gen generates a request id: yyyymmddHHMMSSuuuuuu + 8 random digits.
func Gen() string {
	return timeString() + randomDigits(8)
}

// Accept returns the client-supplied id when it is usable as-is, and a
// freshly generated one otherwise. Usable ids are non-empty, at most 128
// bytes, and consist of printable ASCII without spaces.
func Accept(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxLen {
		return Gen()
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return Gen()
		}
	}
	return id
}

func timeString() string {
	return strings.ReplaceAll(time.Now().Format("20060102150405.000000"), ".", "")
}

func randomDigits(n int) string {
	const digits = "0123456789"
	if n <= 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(digits[cryptoRandIntn(len(digits))])
	}
	return b.String()
}

func cryptoRandIntn(max int) int {
	if max <= 0 {
		return 0
	}
	nBig, err := crand.Int(crand.Reader, big.NewInt(int64(max)))
	if err != nil {
		// best effort fallback
		return 0
	}
	return int(nBig.Int64())
}
