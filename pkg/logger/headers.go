package logger

import (
	"net/http"
	"sort"
	"strings"
)

var sensitive = map[string]struct{}{
	"authorization":   {},
	"x-api-key":       {},
	"x-session-token": {},
	"cookie":          {},
	"set-cookie":      {},
}

func redactHeaderValue(k, v string) string {
	if v == "" {
		return ""
	}
	if _, ok := sensitive[strings.ToLower(k)]; ok {
		return "<redacted>"
	}
	return v
}

// SafeHeaders renders headers as a compact, sorted string with sensitive
// values redacted. Only the first value of each header is kept.
func SafeHeaders(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if len(h[k]) == 0 {
			continue
		}
		parts = append(parts, k+"="+redactHeaderValue(k, h[k][0]))
	}
	return strings.Join(parts, "; ")
}
