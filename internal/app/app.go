// Package app wires together all adapters and domain logic.
// It provides lifecycle management for the refscan daemon: create, start, stop.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corey/refscan/internal/adapters/ahocorasick"
	"github.com/corey/refscan/internal/adapters/bbolt"
	"github.com/corey/refscan/internal/adapters/catalogfile"
	fsw "github.com/corey/refscan/internal/adapters/fsnotify"
	"github.com/corey/refscan/internal/adapters/socket"
	"github.com/corey/refscan/internal/adapters/web"
	"github.com/corey/refscan/internal/domain/scanner"
	"github.com/corey/refscan/internal/metrics"
	"github.com/corey/refscan/internal/ports"
)

// ErrCatalogNotFound is returned for names that are neither stored nor
// loaded from a catalog file.
var ErrCatalogNotFound = ports.ErrCatalogNotFound

// App is the top-level container wiring all components together.
type App struct {
	ProjectRoot string
	Paths       *Paths
	Config      Config

	Log       *zap.Logger
	Store     ports.CatalogStore
	Scanner   *scanner.Scanner
	Registry  *Registry
	Watcher   *fsw.Watcher
	Server    *socket.Server
	WebServer *web.Server

	mu        sync.Mutex        // serializes catalog writes across store, files and registry
	fileNames map[string]string // catalog file path -> catalog name
	closeDB   func() error
	started   time.Time
	stopOnce  sync.Once
}

var _ socket.Service = (*App)(nil)

// New creates an App with all dependencies wired and catalogs loaded.
// Does not start services.
func New(cfg Config) (*App, error) {
	if cfg.ProjectRoot == "" {
		return nil, fmt.Errorf("project root required")
	}
	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}
	cfg.ProjectRoot = root
	paths := NewPaths(root)
	if cfg.DBPath == "" {
		cfg.DBPath = paths.DB
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create %s: %w", paths.Root, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	store, err := bbolt.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	watcher, err := fsw.NewWatcher(
		fsw.WithLogger(log),
		fsw.WithFilter(catalogfile.IsCatalogFile),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	maxFuzzy := cfg.MaxFuzzyThreshold
	if maxFuzzy == 0 {
		maxFuzzy = scanner.FuzzyDisabled
	}
	scan := scanner.New(func(p []ports.Pattern) ports.PatternIndex { return ahocorasick.Build(p) }, scanner.Options{
		MaxFuzzyThreshold: maxFuzzy,
		MaxFuzzyRunes:     cfg.MaxFuzzyRunes,
		CacheSize:         cfg.CacheSize,
		Logger:            log,
	})

	a := &App{
		ProjectRoot: root,
		Paths:       paths,
		Config:      cfg,
		Log:         log,
		Store:       store,
		Scanner:     scan,
		Registry:    NewRegistry(scan),
		Watcher:     watcher,
		fileNames:   make(map[string]string),
		closeDB:     store.Close,
	}

	if err := a.loadStoredCatalogs(); err != nil {
		watcher.Stop()
		store.Close()
		return nil, err
	}
	a.loadCatalogFiles()

	metrics.SetScannerSource(a.scannerStats)

	a.Server = socket.NewServer(a, socket.SocketPath(root), log)
	a.WebServer = web.NewServer(a, paths.PortFile, log)

	return a, nil
}

// Start begins the daemon (socket server + HTTP server + catalog watcher).
func (a *App) Start() error {
	a.started = time.Now()
	if err := a.Server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	// HTTP is non-fatal if the port is unavailable
	if !a.Config.NoHTTP {
		httpPort := a.Config.HTTPPort
		if httpPort == 0 {
			httpPort = web.DefaultPort(a.ProjectRoot)
		}
		if err := a.WebServer.Start(httpPort); err != nil {
			a.Log.Warn("HTTP API unavailable", zap.Error(err))
		}
	}
	if a.Config.Watch {
		if err := a.watchCatalogs(); err != nil {
			a.Log.Warn("catalog watcher unavailable", zap.Error(err))
		}
	}
	a.Log.Info("daemon started",
		zap.String("socket", a.Server.Addr()),
		zap.Int("http_port", a.WebServer.Port()),
		zap.Int("catalogs", len(a.Registry.List())))
	return nil
}

// Stop gracefully shuts down all services and closes the store. Idempotent.
func (a *App) Stop() error {
	var err error
	a.stopOnce.Do(func() {
		a.Watcher.Stop()
		a.WebServer.Stop()
		a.Server.Stop()
		metrics.SetScannerSource(nil)
		err = a.closeDB()
	})
	return err
}

func (a *App) scannerStats() metrics.ScannerStats {
	s := a.Scanner.Stats()
	return metrics.ScannerStats{
		Scans:        s.Scans,
		Matches:      s.Matches,
		FuzzyMatches: s.FuzzyMatches,
		Compiles:     s.Compiles,
		CacheHits:    s.CacheHits,
		CacheMisses:  s.CacheMisses,
	}
}

// publishTotals updates the catalog gauges.
func (a *App) publishTotals() {
	metrics.SetCatalogs(a.Registry.Totals())
}
