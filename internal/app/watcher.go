package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/corey/refscan/internal/adapters/catalogfile"
	"github.com/corey/refscan/internal/adapters/socket"
	"github.com/corey/refscan/internal/metrics"
)

// loadStoredCatalogs compiles every catalog in the store. A stored catalog
// that no longer validates is logged and skipped.
func (a *App) loadStoredCatalogs() error {
	names, err := a.Store.ListCatalogs()
	if err != nil {
		return fmt.Errorf("list catalogs: %w", err)
	}
	for _, name := range names {
		c, err := a.Store.LoadCatalog(name)
		if err != nil {
			return fmt.Errorf("load catalog %s: %w", name, err)
		}
		if c == nil {
			continue
		}
		if _, err := a.Registry.Put(c, SourceStore); err != nil {
			a.Log.Warn("skipping stored catalog", zap.String("catalog", name), zap.Error(err))
		}
	}
	a.publishTotals()
	return nil
}

// loadCatalogFiles loads the configured catalog files and the catalog files
// directly inside the configured directories. Failures are logged; the
// remaining catalogs still load.
func (a *App) loadCatalogFiles() {
	for _, path := range a.catalogFiles() {
		a.onCatalogFileChanged(path)
	}
}

// catalogFiles expands the configured paths into catalog file paths.
func (a *App) catalogFiles() []string {
	var files []string
	for _, p := range a.Config.Catalogs {
		abs := a.abs(p)
		info, err := os.Stat(abs)
		if err != nil {
			a.Log.Warn("catalog path unavailable", zap.String("path", abs), zap.Error(err))
			continue
		}
		if !info.IsDir() {
			files = append(files, abs)
			continue
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			a.Log.Warn("read catalog dir", zap.String("path", abs), zap.Error(err))
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !catalogfile.IsCatalogFile(e.Name()) {
				continue
			}
			files = append(files, filepath.Join(abs, e.Name()))
		}
	}
	return files
}

// watchCatalogs starts hot reload for the configured paths that exist.
func (a *App) watchCatalogs() error {
	var paths []string
	for _, p := range a.Config.Catalogs {
		abs := a.abs(p)
		if _, err := os.Stat(abs); err == nil {
			paths = append(paths, abs)
		}
	}
	if len(paths) == 0 {
		return nil
	}
	return a.Watcher.Watch(paths, a.onCatalogFileChanged)
}

// onCatalogFileChanged reloads the catalog at path. A deleted file drops
// its catalog and brings back a stored catalog it was shadowing; a file
// that fails to load or validate leaves the previous version serving.
func (a *App) onCatalogFileChanged(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.publishTotals()

	start := time.Now()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		removed := a.Registry.RemoveSource(path)
		delete(a.fileNames, path)
		if len(removed) > 0 {
			metrics.RecordReload("removed")
			a.Log.Info("catalog removed", zap.String("path", path), zap.Strings("catalogs", removed))
		}
		for _, name := range removed {
			a.restoreStored(name)
		}
		return
	}

	c, err := catalogfile.Load(path)
	if err != nil {
		metrics.RecordReload("error")
		a.Log.Warn("catalog reload failed", zap.String("path", path), zap.Error(err))
		return
	}
	if !socket.ValidCatalogName(c.Name) {
		metrics.RecordReload("error")
		a.Log.Warn("catalog rejected", zap.String("path", path),
			zap.String("catalog", c.Name), zap.String("reason", "invalid catalog name"))
		return
	}
	lc, err := a.Registry.Put(c, path)
	if err != nil {
		metrics.RecordReload("error")
		a.Log.Warn("catalog rejected", zap.String("path", path), zap.Error(err))
		return
	}
	// A renamed catalog inside the same file replaces the old name.
	if prev, ok := a.fileNames[path]; ok && prev != c.Name {
		if old, ok := a.Registry.Lookup(prev); ok && old.Source == path {
			a.Registry.Remove(prev)
			a.restoreStored(prev)
		}
	}
	a.fileNames[path] = c.Name

	metrics.RecordReload("ok")
	a.Log.Info("catalog loaded",
		zap.String("catalog", c.Name),
		zap.String("path", path),
		zap.Int("patterns", len(c.Patterns)),
		zap.Int("values", lc.Index.Size()),
		zap.Duration("took", time.Since(start)))
}

// restoreStored puts the stored catalog called name back into the registry,
// if there is one.
func (a *App) restoreStored(name string) {
	c, err := a.Store.LoadCatalog(name)
	if err != nil {
		a.Log.Warn("load stored catalog", zap.String("catalog", name), zap.Error(err))
		return
	}
	if c == nil {
		return
	}
	if _, err := a.Registry.Put(c, SourceStore); err != nil {
		a.Log.Warn("skipping stored catalog", zap.String("catalog", name), zap.Error(err))
		return
	}
	a.Log.Info("stored catalog restored", zap.String("catalog", name))
}

func (a *App) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.ProjectRoot, p)
}
