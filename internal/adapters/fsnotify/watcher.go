// Package fsnotify implements the ports.Watcher interface using github.com/fsnotify/fsnotify.
// It watches catalog files (or directories of catalog files) and debounces
// rapid events: editors often write, truncate and rename several times per save.
package fsnotify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/corey/refscan/internal/ports"
)

// DefaultDebounce is how long a path must stay quiet before onChange fires.
const DefaultDebounce = 50 * time.Millisecond

// Editor droppings that never hold a catalog.
var ignoreSuffixes = []string{".swp", ".swx", "~", ".tmp", ".DS_Store"}

// Watcher implements ports.Watcher using fsnotify.
type Watcher struct {
	fw       *fsnotify.Watcher
	log      *zap.Logger
	debounce time.Duration
	accept   func(path string) bool

	done    chan struct{}
	stopped bool
	mu      sync.Mutex

	timers map[string]*time.Timer
	tmu    sync.Mutex
}

var _ ports.Watcher = (*Watcher)(nil)

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger for watch errors.
func WithLogger(log *zap.Logger) Option {
	return func(w *Watcher) { w.log = log }
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithFilter restricts which files inside watched directories trigger
// onChange. Explicitly watched files always pass.
func WithFilter(accept func(path string) bool) Option {
	return func(w *Watcher) { w.accept = accept }
}

// NewWatcher creates a new file system watcher.
func NewWatcher(opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fw:       fw,
		log:      zap.NewNop(),
		debounce: DefaultDebounce,
		accept:   func(string) bool { return true },
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch starts monitoring paths. A file path is watched through its parent
// directory so atomic replace-by-rename saves are seen; a directory path
// covers the files directly inside it. onChange is called with the absolute
// path of each changed file once events for it have settled.
func (w *Watcher) Watch(paths []string, onChange func(filePath string)) error {
	files := make(map[string]bool)
	dirs := make(map[string]bool)

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		if info.IsDir() {
			dirs[abs] = true
			if err := w.fw.Add(abs); err != nil {
				return fmt.Errorf("watch %s: %w", p, err)
			}
			continue
		}
		files[abs] = true
		if err := w.fw.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
	}

	relevant := func(path string) bool {
		if files[path] {
			return true
		}
		if !dirs[filepath.Dir(path)] || shouldIgnorePath(path) {
			return false
		}
		return w.accept(path)
	}

	go func() {
		for {
			select {
			case event, ok := <-w.fw.Events:
				if !ok {
					return
				}
				if !relevant(event.Name) {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					w.schedule(event.Name, onChange)
				}

			case err, ok := <-w.fw.Errors:
				if !ok {
					return
				}
				// fsnotify recovers on its own; keep a trace.
				w.log.Warn("watch error", zap.Error(err))

			case <-w.done:
				return
			}
		}
	}()

	return nil
}

// schedule (re)arms the path's timer so onChange fires once per burst.
func (w *Watcher) schedule(path string, onChange func(string)) {
	w.tmu.Lock()
	defer w.tmu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.tmu.Lock()
		delete(w.timers, path)
		w.tmu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		onChange(path)
	})
}

// Stop ends monitoring and releases all resources.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.done)

	w.tmu.Lock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
	w.tmu.Unlock()

	return w.fw.Close()
}

// shouldIgnorePath returns true if the file path should not trigger onChange.
func shouldIgnorePath(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	for _, suffix := range ignoreSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}
