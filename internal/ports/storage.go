// Package ports defines the interfaces (contracts) that adapters must implement.
// These are the boundaries of the hexagonal architecture. Domain logic depends
// only on these interfaces, never on concrete implementations.
package ports

import "errors"

// Catalog is a named, persisted pattern list.
type Catalog struct {
	Name      string    `json:"name" yaml:"name"`
	Patterns  []Pattern `json:"patterns" yaml:"patterns"`
	UpdatedAt int64     `json:"updated_at,omitempty" yaml:"updated_at,omitempty"` // unix seconds
}

// CatalogStore persists named catalogs to durable storage.
// Concurrent reads are safe; writes are serialized by the adapter.
//
// Crash safety: SaveCatalog must be transactional. A crash mid-write must
// not corrupt previously committed catalogs.
type CatalogStore interface {
	// SaveCatalog persists a catalog under its name, replacing any prior one.
	SaveCatalog(c *Catalog) error

	// LoadCatalog retrieves a catalog by name.
	// Returns nil, nil if no catalog exists under that name.
	LoadCatalog(name string) (*Catalog, error)

	// ListCatalogs returns all stored catalog names in sorted order.
	ListCatalogs() ([]string, error)

	// DeleteCatalog removes a catalog.
	// Idempotent: deleting a nonexistent catalog is not an error.
	DeleteCatalog(name string) error
}

// ErrCatalogNotFound is returned when a named catalog is neither stored nor
// loaded from a file.
var ErrCatalogNotFound = errors.New("catalog not found")
