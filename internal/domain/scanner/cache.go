package scanner

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/corey/refscan/internal/ports"
)

// fingerprint identifies a catalog by content. Strings are length-prefixed so
// distinct catalogs cannot collide by concatenation.
type fingerprint [sha256.Size]byte

func catalogFingerprint(patterns []ports.Pattern) fingerprint {
	h := sha256.New()
	var n [8]byte
	write := func(s string) {
		binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	for _, p := range patterns {
		write(p.EntityID)
		binary.LittleEndian.PutUint64(n[:], uint64(len(p.Fields)))
		h.Write(n[:])
		for _, f := range p.Fields {
			write(f.Name)
			write(f.Value)
		}
	}
	var fp fingerprint
	h.Sum(fp[:0])
	return fp
}

// indexCache holds recently compiled catalogs, evicting the oldest insert
// once full. Compiled indexes are immutable, so sharing them is safe.
type indexCache struct {
	mu    sync.Mutex
	max   int
	items map[fingerprint]ports.PatternIndex
	order []fingerprint

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newIndexCache(size int) *indexCache {
	return &indexCache{
		max:   size,
		items: make(map[fingerprint]ports.PatternIndex, max(size, 0)),
	}
}

func (c *indexCache) get(fp fingerprint) (ports.PatternIndex, bool) {
	if c.max <= 0 {
		c.misses.Add(1)
		return nil, false
	}
	c.mu.Lock()
	idx, ok := c.items[fp]
	c.mu.Unlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return idx, ok
}

func (c *indexCache) put(fp fingerprint, idx ports.PatternIndex) {
	if c.max <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[fp]; ok {
		return
	}
	for len(c.order) >= c.max {
		delete(c.items, c.order[0])
		c.order = c.order[1:]
	}
	c.items[fp] = idx
	c.order = append(c.order, fp)
}

func (c *indexCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
