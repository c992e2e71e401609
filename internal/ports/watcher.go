package ports

// Watcher monitors catalog files for changes so the compiled index can be
// rebuilt. Editors often write a file several times per save; the adapter
// debounces before invoking onChange.
type Watcher interface {
	// Watch starts monitoring the given files. onChange is called with the
	// absolute path of each changed file and may be invoked from any
	// goroutine. Returns an error if a file's directory cannot be watched.
	Watch(paths []string, onChange func(filePath string)) error

	// Stop ends monitoring and releases all resources. After Stop returns,
	// no further onChange calls will fire. Safe to call multiple times.
	Stop() error
}
