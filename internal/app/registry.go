package app

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/corey/refscan/internal/adapters/socket"
	"github.com/corey/refscan/internal/domain/scanner"
	"github.com/corey/refscan/internal/ports"
)

// SourceStore marks catalogs persisted in the bbolt store. File-backed
// catalogs use their absolute path as the source.
const SourceStore = "store"

// LoadedCatalog is a catalog together with its compiled index.
type LoadedCatalog struct {
	Catalog *ports.Catalog
	Source  string
	Index   ports.PatternIndex
}

// Info summarizes the catalog for listings.
func (lc *LoadedCatalog) Info() socket.CatalogInfo {
	return socket.CatalogInfo{
		Name:      lc.Catalog.Name,
		Source:    lc.Source,
		Patterns:  len(lc.Catalog.Patterns),
		Values:    lc.Index.Size(),
		UpdatedAt: lc.Catalog.UpdatedAt,
	}
}

// Registry holds the compiled catalogs by name. Readers see an immutable
// snapshot; writers build a new map and swap it in, so a scan that already
// looked up its index finishes against that index.
type Registry struct {
	scan *scanner.Scanner

	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[map[string]*LoadedCatalog]
}

// NewRegistry creates an empty registry compiling through scan.
func NewRegistry(scan *scanner.Scanner) *Registry {
	r := &Registry{scan: scan}
	empty := make(map[string]*LoadedCatalog)
	r.snap.Store(&empty)
	return r
}

// Lookup returns the named catalog.
func (r *Registry) Lookup(name string) (*LoadedCatalog, bool) {
	lc, ok := (*r.snap.Load())[name]
	return lc, ok
}

// Put validates and compiles c, then replaces any catalog of the same name.
// On error the registry is unchanged.
func (r *Registry) Put(c *ports.Catalog, source string) (*LoadedCatalog, error) {
	idx, err := r.scan.Compile(c.Patterns)
	if err != nil {
		return nil, err
	}
	lc := &LoadedCatalog{Catalog: c, Source: source, Index: idx}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.clone()
	next[c.Name] = lc
	r.snap.Store(&next)
	return lc, nil
}

// Remove drops the named catalog. Reports whether it was present.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := (*r.snap.Load())[name]; !ok {
		return false
	}
	next := r.clone()
	delete(next, name)
	r.snap.Store(&next)
	return true
}

// RemoveSource drops every catalog loaded from source and returns their names.
func (r *Registry) RemoveSource(source string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.clone()
	var removed []string
	for name, lc := range next {
		if lc.Source == source {
			delete(next, name)
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		r.snap.Store(&next)
	}
	slices.Sort(removed)
	return removed
}

// List returns catalog summaries sorted by name.
func (r *Registry) List() []socket.CatalogInfo {
	snap := *r.snap.Load()
	out := make([]socket.CatalogInfo, 0, len(snap))
	for _, lc := range snap {
		out = append(out, lc.Info())
	}
	slices.SortFunc(out, func(a, b socket.CatalogInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Totals returns the number of catalogs and of indexed values across them.
func (r *Registry) Totals() (catalogs, values int) {
	snap := *r.snap.Load()
	for _, lc := range snap {
		values += lc.Index.Size()
	}
	return len(snap), values
}

func (r *Registry) clone() map[string]*LoadedCatalog {
	cur := *r.snap.Load()
	next := make(map[string]*LoadedCatalog, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	return next
}
