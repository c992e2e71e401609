// Package bbolt implements ports.CatalogStore using bbolt (embedded B+ tree).
// Catalogs live in one top-level bucket keyed by name; each value is the
// catalog's JSON form. Writes are transactional: a crash mid-write cannot
// corrupt previously committed catalogs.
package bbolt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"

	"github.com/corey/refscan/internal/ports"
)

var bucketCatalogs = []byte("catalogs")

// ErrLocked is returned by NewStore when another process holds the file lock.
var ErrLocked = errors.New("catalog store is locked")

const openTimeout = 1 * time.Second

// Store implements ports.CatalogStore backed by bbolt.
type Store struct {
	db *bolt.DB
}

var _ ports.CatalogStore = (*Store)(nil)

// NewStore opens (or creates) a bbolt database at the given path.
func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		if errors.Is(err, berrors.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s (waited %s)", ErrLocked, path, openTimeout)
		}
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCatalog persists c under c.Name, replacing any prior catalog.
func (s *Store) SaveCatalog(c *ports.Catalog) error {
	if c == nil {
		return fmt.Errorf("nil catalog")
	}
	if c.Name == "" {
		return fmt.Errorf("catalog has no name")
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal catalog %q: %w", c.Name, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketCatalogs)
		if err != nil {
			return err
		}
		return b.Put([]byte(c.Name), data)
	})
}

// LoadCatalog retrieves a catalog by name.
// Returns nil, nil if no catalog exists under that name.
func (s *Store) LoadCatalog(name string) (*ports.Catalog, error) {
	var data []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalogs)
		if b == nil {
			return nil
		}
		// Copy bytes out of the transaction (bbolt slices are only valid within tx)
		if v := b.Get([]byte(name)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var c ports.Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal catalog %q: %w", name, err)
	}
	return &c, nil
}

// ListCatalogs returns the stored catalog names. bbolt iterates keys in byte
// order, so the result is sorted.
func (s *Store) ListCatalogs() ([]string, error) {
	names := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalogs)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// DeleteCatalog removes a catalog.
// Idempotent: deleting a nonexistent catalog is not an error.
func (s *Store) DeleteCatalog(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalogs)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(name))
	})
}
