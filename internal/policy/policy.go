// Package policy decides whether a tab may be suspended. Evaluation is a
// pure predicate over the tab's live attributes, the suspension reason, and
// the current settings — no side effects, safe to call concurrently.
package policy

import (
	"strings"

	"github.com/tabnap/tabnap/internal/host"
	"github.com/tabnap/tabnap/internal/registry"
	"github.com/tabnap/tabnap/internal/settings"
)

// patternCacheSize bounds the compiled whitelist pattern cache.
const patternCacheSize = 256

// Policy evaluates suspension eligibility.
type Policy struct {
	placeholderPrefix string
	globs             *globCache
}

// New creates a Policy. Tabs whose URL starts with placeholderPrefix are
// treated as already-suspended placeholder pages and never eligible.
func New(placeholderPrefix string) *Policy {
	return &Policy{
		placeholderPrefix: placeholderPrefix,
		globs:             newGlobCache(patternCacheSize),
	}
}

// Eligible reports whether the tab may be suspended. Rules are evaluated in
// order; the first failing rule wins.
func (p *Policy) Eligible(tab host.Tab, reason registry.Reason, cfg settings.Settings) bool {
	if tab.ID <= 0 || !Suspendable(tab.URL) {
		return false
	}
	if p.placeholderPrefix != "" && strings.HasPrefix(tab.URL, p.placeholderPrefix) {
		return false
	}
	if cfg.IgnorePinned && tab.Pinned {
		return false
	}
	if cfg.IgnoreAudio && tab.Audible {
		return false
	}
	// Manual suspension is always allowed on the focused tab.
	if cfg.IgnoreActive && tab.Active && reason != registry.ReasonManual {
		return false
	}
	if p.Whitelisted(tab.URL, cfg.WhitelistPatterns()) {
		return false
	}
	return true
}

// Suspendable reports whether the URL points at a fetchable page. Internal
// and privileged pages (chrome://, about:, devtools:// and the like) are
// never eligible.
func Suspendable(url string) bool {
	return strings.HasPrefix(url, "http://") ||
		strings.HasPrefix(url, "https://") ||
		strings.HasPrefix(url, "file://")
}

// Whitelisted reports whether the URL matches any whitelist pattern. A `*`
// wildcard matches any substring sequence, the pattern `*` alone matches
// everything, matching is case-sensitive and anchored to the full URL.
// Invalid patterns are skipped.
func (p *Policy) Whitelisted(url string, patterns []string) bool {
	for _, pattern := range patterns {
		g, ok := p.globs.get(pattern)
		if !ok {
			continue
		}
		if g.Match(url) {
			return true
		}
	}
	return false
}
