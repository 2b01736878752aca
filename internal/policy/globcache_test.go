package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobCacheCompilesOnce(t *testing.T) {
	c := newGlobCache(4)

	g1, ok := c.get("*.example.com/*")
	require.True(t, ok)
	g2, ok := c.get("*.example.com/*")
	require.True(t, ok)
	assert.Equal(t, g1, g2)
	assert.Equal(t, 1, c.len())
}

func TestGlobCacheRemembersFailures(t *testing.T) {
	c := newGlobCache(4)

	_, ok := c.get("[")
	assert.False(t, ok)
	assert.Equal(t, 1, c.len(), "failed compile stays cached")

	_, ok = c.get("[")
	assert.False(t, ok)
	assert.Equal(t, 1, c.len())
}

func TestGlobCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newGlobCache(2)

	c.get("a*")
	c.get("b*")
	c.get("a*") // refresh a*, making b* the eviction victim
	c.get("c*")

	assert.Equal(t, 2, c.len())
	// a* and c* survive; probing them must not evict each other.
	g, ok := c.get("a*")
	require.True(t, ok)
	assert.True(t, g.Match("abc"))
	_, ok = c.get("c*")
	require.True(t, ok)
	assert.Equal(t, 2, c.len())
}

func TestGlobCacheMatchThroughPolicy(t *testing.T) {
	p := New("chrome-extension://tabnap/suspended.html")

	patterns := []string{"*.example.com/*"}
	assert.True(t, p.Whitelisted("https://mail.example.com/inbox", patterns))
	assert.False(t, p.Whitelisted("https://example.org/", patterns))
}
