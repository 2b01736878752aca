package engine

import (
	"net/url"
	"strings"
)

// PlaceholderURL builds the address of the lightweight page shown in place
// of a suspended tab. The original url, title and favicon ride along as
// query parameters so the placeholder can render them and offer a restore
// path even without asking the daemon.
func PlaceholderURL(base, original, title, favicon string) string {
	v := url.Values{}
	v.Set("url", original)
	if title != "" {
		v.Set("title", title)
	}
	if favicon != "" {
		v.Set("favicon", favicon)
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + v.Encode()
}

// IsPlaceholder reports whether raw points at the suspended placeholder page.
func IsPlaceholder(base, raw string) bool {
	return base != "" && strings.HasPrefix(raw, base)
}

// ParsePlaceholder extracts the original url, title and favicon from a
// placeholder address. ok is false when raw is not a placeholder URL or
// carries no original url.
func ParsePlaceholder(base, raw string) (original, title, favicon string, ok bool) {
	if !IsPlaceholder(base, raw) {
		return "", "", "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", false
	}
	q := u.Query()
	original = q.Get("url")
	if original == "" {
		return "", "", "", false
	}
	return original, q.Get("title"), q.Get("favicon"), true
}
