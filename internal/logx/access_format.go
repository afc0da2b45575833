package logx

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

type formatPart struct {
	literal string
	varName string
}

// AccessLogFormatter renders access log lines from a compiled `$var` template.
type AccessLogFormatter struct {
	parts []formatPart
}

var accessLogFormatPresets = map[string]string{
	"ots_combined": "$time_local | $status | $latency | $client_ip | $method $path | request_id=$request_id corpus=$corpus op=$op query=$query marker=$marker entries=$entries transform_bytes=$transform_bytes error=$error",
	"ots_minimal":  "$time_local | $status | $latency | $method $path | request_id=$request_id corpus=$corpus entries=$entries",
}

var allowedAccessLogVars = map[string]struct{}{
	"time_local":      {},
	"status":          {},
	"latency":         {},
	"latency_ms":      {},
	"client_ip":       {},
	"method":          {},
	"path":            {},
	"request_id":      {},
	"corpus":          {},
	"op":              {},
	"query":           {},
	"marker":          {},
	"entries":         {},
	"transform_bytes": {},
	"error":           {},
}

// ResolveAccessLogFormat picks the explicit format when set, otherwise the
// named preset. Both empty yields "" (default line layout).
func ResolveAccessLogFormat(format string, preset string) (string, error) {
	if strings.TrimSpace(format) != "" {
		return format, nil
	}
	p := strings.ToLower(strings.TrimSpace(preset))
	if p == "" {
		return "", nil
	}
	out, ok := accessLogFormatPresets[p]
	if !ok {
		return "", fmt.Errorf("invalid access_log_format_preset: %q", preset)
	}
	return out, nil
}

// CompileAccessLogFormat parses a format string. "$$" is a literal dollar.
// A blank format compiles to a nil formatter.
func CompileAccessLogFormat(format string) (*AccessLogFormatter, error) {
	if strings.TrimSpace(format) == "" {
		return nil, nil
	}
	var (
		parts []formatPart
		lit   strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, formatPart{literal: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '$' {
			lit.WriteByte(ch)
			continue
		}
		if i+1 < len(format) && format[i+1] == '$' {
			lit.WriteByte('$')
			i++
			continue
		}
		flush()
		j := i + 1
		for j < len(format) && isVarByte(format[j]) {
			j++
		}
		if j == i+1 {
			return nil, fmt.Errorf("invalid access_log_format: missing variable name after '$' at pos %d", i)
		}
		name := format[i+1 : j]
		if _, ok := allowedAccessLogVars[name]; !ok {
			return nil, fmt.Errorf("invalid access_log_format: unknown variable $%s", name)
		}
		parts = append(parts, formatPart{varName: name})
		i = j - 1
	}
	flush()
	return &AccessLogFormatter{parts: parts}, nil
}

func isVarByte(b byte) bool {
	r := rune(b)
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// Format renders one line. Variables without a value render as "-".
func (f *AccessLogFormatter) Format(
	ts time.Time,
	status int,
	latency time.Duration,
	clientIP string,
	method string,
	path string,
	fields map[string]any,
	color bool,
) string {
	if f == nil || len(f.parts) == 0 {
		return ""
	}
	vars := map[string]string{
		"time_local": ts.Format(timeLocalLayout),
		"status":     ColorizeStatusWith(status, color),
		"latency":    latency.String(),
		"latency_ms": strconv.FormatInt(latency.Milliseconds(), 10),
		"client_ip":  strings.TrimSpace(clientIP),
		"method":     strings.TrimSpace(method),
		"path":       path,
	}
	for k, v := range fields {
		if s, ok := fieldString(v); ok {
			vars[k] = s
		}
	}

	var b strings.Builder
	for _, p := range f.parts {
		if p.varName == "" {
			b.WriteString(p.literal)
			continue
		}
		if v := vars[p.varName]; v != "" {
			b.WriteString(v)
			continue
		}
		b.WriteByte('-')
	}
	return b.String()
}

func fieldString(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	if s == "" || s == "<nil>" {
		return "", false
	}
	return s, true
}

// AccessLogAllowedVars lists the variable names a format may reference.
func AccessLogAllowedVars() []string {
	keys := make([]string, 0, len(allowedAccessLogVars))
	for k := range allowedAccessLogVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
