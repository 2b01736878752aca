package policy

import (
	"sync"

	"github.com/gobwas/glob"
)

// entry is a doubly linked list node holding one compiled pattern. A nil
// compiled value records a pattern that failed to compile, so it is not
// retried on every evaluation.
type entry struct {
	pattern  string
	compiled glob.Glob
	prev     *entry
	next     *entry
}

// globCache memoizes compiled whitelist patterns with LRU eviction, so that
// patterns edited out of the whitelist do not accumulate forever. A hash map
// gives O(1) lookup, a doubly linked list O(1) eviction ordering.
type globCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*entry
	head     *entry // most recently used (sentinel)
	tail     *entry // least recently used (sentinel)
}

func newGlobCache(capacity int) *globCache {
	head := &entry{}
	tail := &entry{}
	head.next = tail
	tail.prev = head
	return &globCache{
		capacity: capacity,
		items:    make(map[string]*entry, capacity),
		head:     head,
		tail:     tail,
	}
}

// get returns the compiled glob for a pattern, compiling and caching it on
// first use. ok is false for patterns that do not compile.
func (c *globCache) get(pattern string) (glob.Glob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, hit := c.items[pattern]; hit {
		c.moveToFront(e)
		return e.compiled, e.compiled != nil
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		g = nil
	}

	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.unlink(victim)
		delete(c.items, victim.pattern)
	}
	e := &entry{pattern: pattern, compiled: g}
	c.items[pattern] = e
	c.pushFront(e)

	return g, g != nil
}

func (c *globCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// --- linked list operations (caller must hold lock) ---

func (c *globCache) unlink(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev = nil
	e.next = nil
}

func (c *globCache) pushFront(e *entry) {
	e.next = c.head.next
	e.prev = c.head
	c.head.next.prev = e
	c.head.next = e
}

func (c *globCache) moveToFront(e *entry) {
	c.unlink(e)
	c.pushFront(e)
}
