package keys

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// SourcePrefix namespaces every fetched-payload key.
const SourcePrefix = "src:"

// SourceKey maps a layer URL to a Redis key of the form
// src:<host>:<path-tail>:u=<xxhash64>. Host and tail are readable hints only;
// the hash carries identity.
func SourceKey(rawURL string) string {
	norm := normalizeURL(rawURL)
	host, tail := "local", norm
	if u, err := url.Parse(norm); err == nil {
		if u.Host != "" {
			host = u.Host
		}
		tail = u.Path
	}
	if i := strings.LastIndex(tail, "/"); i >= 0 {
		tail = tail[i+1:]
	}

	const maxTailLen = 64
	tail = sanitizeForKey(tail)
	if len(tail) > maxTailLen {
		tail = tail[:maxTailLen]
	}

	sum := xxhash.Sum64String(norm)
	return fmt.Sprintf("%s%s:%s:u=%016x", SourcePrefix, sanitizeForKey(strings.ToLower(host)), tail, sum)
}

// HostPrefix is the key prefix shared by every payload fetched from host.
func HostPrefix(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = "local"
	}
	return SourcePrefix + sanitizeForKey(strings.ToLower(host)) + ":"
}

func normalizeURL(s string) string {
	s = strings.TrimSpace(s)
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String()
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// Any other rune (including non-ASCII and ':') becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
