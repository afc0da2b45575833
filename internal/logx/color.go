package logx

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

const timeLocalLayout = "2006/01/02 - 15:04:05"

const (
	colorGreen  = "\x1b[97;42m"
	colorYellow = "\x1b[90;43m"
	colorRed    = "\x1b[97;41m"
	colorCyan   = "\x1b[97;46m"
	colorReset  = "\x1b[0m"
)

// ColorEnabled reports whether stdout is a terminal and NO_COLOR is unset.
func ColorEnabled() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ColorizeStatusWith renders the status code padded to three columns,
// wrapped in a background color by class when color is true.
func ColorizeStatusWith(status int, color bool) string {
	s := fmt.Sprintf("%3d", status)
	if !color {
		return s
	}
	var c string
	switch {
	case status >= 500:
		c = colorRed
	case status >= 400:
		c = colorYellow
	case status >= 300:
		c = colorCyan
	default:
		c = colorGreen
	}
	return c + " " + s + " " + colorReset
}

// FormatRequestLineWithColor is the access line used when no custom format
// is configured: fixed columns followed by the sorted key=value fields.
func FormatRequestLineWithColor(
	ts time.Time,
	status int,
	latency time.Duration,
	clientIP string,
	method string,
	path string,
	fields map[string]any,
	color bool,
) string {
	var b strings.Builder
	b.WriteString(ts.Format(timeLocalLayout))
	b.WriteString(" | ")
	b.WriteString(ColorizeStatusWith(status, color))
	b.WriteString(" | ")
	b.WriteString(fmt.Sprintf("%13v", latency))
	b.WriteString(" | ")
	b.WriteString(fmt.Sprintf("%15s", strings.TrimSpace(clientIP)))
	b.WriteString(" | ")
	b.WriteString(strings.TrimSpace(method))
	b.WriteByte(' ')
	b.WriteString(quotePath(path))

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sep := " | "
	for _, k := range keys {
		v, ok := fieldString(fields[k])
		if !ok {
			continue
		}
		b.WriteString(sep)
		sep = " "
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}

// quotePath escapes control characters so a decoded path cannot split a line.
func quotePath(path string) string {
	q := strconv.Quote(path)
	return q[1 : len(q)-1]
}
