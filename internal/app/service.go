package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/corey/refscan/internal/adapters/socket"
	"github.com/corey/refscan/internal/domain/scanner"
	"github.com/corey/refscan/internal/ports"
)

// Match implements socket.Service. Inline patterns go through the scanner's
// compile cache; named catalogs use the registry's compiled index.
func (a *App) Match(p socket.MatchParams) (*socket.MatchResult, error) {
	start := time.Now()
	var (
		records []ports.MatchRecord
		err     error
	)
	if p.Catalog != "" {
		lc, lerr := a.lookup(p.Catalog)
		if lerr != nil {
			return nil, lerr
		}
		records, err = a.Scanner.MatchIndex(lc.Index, p.Text, p.Context, p.FuzzyThreshold)
	} else {
		records, err = a.Scanner.Match(p.Patterns, p.Text, p.Context, p.FuzzyThreshold)
	}
	if err != nil {
		return nil, err
	}
	return &socket.MatchResult{
		Matches: records,
		Count:   len(records),
		Catalog: p.Catalog,
		Elapsed: time.Since(start).String(),
	}, nil
}

// Message implements socket.Service.
func (a *App) Message(p socket.MessageParams) (*socket.MatchResult, error) {
	start := time.Now()
	var idx ports.PatternIndex
	if p.Catalog != "" {
		lc, err := a.lookup(p.Catalog)
		if err != nil {
			return nil, err
		}
		idx = lc.Index
	} else {
		var err error
		if idx, err = a.Scanner.Compile(p.Patterns); err != nil {
			return nil, err
		}
	}
	records, err := a.Scanner.MatchMessage(idx, scanner.Message{Subject: p.Subject, Body: p.Body}, p.FuzzyThreshold)
	if err != nil {
		return nil, err
	}
	return &socket.MatchResult{
		Matches: records,
		Count:   len(records),
		Catalog: p.Catalog,
		Elapsed: time.Since(start).String(),
	}, nil
}

// Catalogs implements socket.Service.
func (a *App) Catalogs() (*socket.CatalogsResult, error) {
	list := a.Registry.List()
	return &socket.CatalogsResult{Catalogs: list, Count: len(list)}, nil
}

// GetCatalog implements socket.Service.
func (a *App) GetCatalog(name string) (*ports.Catalog, error) {
	lc, err := a.lookup(name)
	if err != nil {
		return nil, err
	}
	return lc.Catalog, nil
}

// PutCatalog validates and compiles the catalog, persists it, then makes it
// visible to new scans.
func (a *App) PutCatalog(p socket.PutCatalogParams) (*socket.CatalogInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if lc, ok := a.Registry.Lookup(p.Name); ok && lc.Source != SourceStore {
		return nil, &scanner.ValidationError{
			Field:  "name",
			Reason: fmt.Sprintf("catalog %q is loaded from %s; edit the file instead", p.Name, lc.Source),
		}
	}

	c := &ports.Catalog{Name: p.Name, Patterns: p.Patterns, UpdatedAt: time.Now().Unix()}
	// Compile first so an invalid catalog is never persisted.
	if _, err := a.Scanner.Compile(c.Patterns); err != nil {
		return nil, err
	}
	if err := a.Store.SaveCatalog(c); err != nil {
		return nil, fmt.Errorf("save catalog: %w", err)
	}
	lc, err := a.Registry.Put(c, SourceStore)
	if err != nil {
		return nil, err
	}
	a.publishTotals()
	a.Log.Info("catalog stored",
		zap.String("catalog", c.Name),
		zap.Int("patterns", len(c.Patterns)),
		zap.Int("values", lc.Index.Size()))

	info := lc.Info()
	return &info, nil
}

// DeleteCatalog removes a stored catalog. Deleting an unknown name is not an
// error; file-backed catalogs are removed by deleting their file.
func (a *App) DeleteCatalog(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if lc, ok := a.Registry.Lookup(name); ok && lc.Source != SourceStore {
		return &scanner.ValidationError{
			Field:  "name",
			Reason: fmt.Sprintf("catalog %q is loaded from %s; remove the file instead", name, lc.Source),
		}
	}
	if err := a.Store.DeleteCatalog(name); err != nil {
		return fmt.Errorf("delete catalog: %w", err)
	}
	if a.Registry.Remove(name) {
		a.publishTotals()
		a.Log.Info("catalog deleted", zap.String("catalog", name))
	}
	return nil
}

// Health implements socket.Service.
func (a *App) Health() socket.HealthResult {
	catalogs, values := a.Registry.Totals()
	s := a.Scanner.Stats()
	h := socket.HealthResult{
		Status:       "ok",
		Catalogs:     catalogs,
		Values:       values,
		Scans:        s.Scans,
		Matches:      s.Matches,
		FuzzyMatches: s.FuzzyMatches,
		CacheHits:    s.CacheHits,
		CacheMisses:  s.CacheMisses,
	}
	if !a.started.IsZero() {
		h.Uptime = time.Since(a.started).Round(time.Second).String()
	}
	return h
}

func (a *App) lookup(name string) (*LoadedCatalog, error) {
	lc, ok := a.Registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCatalogNotFound, name)
	}
	return lc, nil
}
