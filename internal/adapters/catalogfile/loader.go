// Package catalogfile reads pattern catalogs from JSON or YAML files.
//
// Two layouts are accepted in either format: a bare list of patterns, or a
// catalog object with "name" and "patterns" keys. A bare list takes its name
// from the file name without extension.
package catalogfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/corey/refscan/internal/ports"
)

// ErrUnsupportedFormat is returned for files that are neither JSON nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported catalog format")

// IsCatalogFile reports whether path has an extension Load understands.
func IsCatalogFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads the catalog at path.
func Load(path string) (*ports.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c *ports.Catalog
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		c, err = DecodeJSON(data)
	case ".yaml", ".yml":
		c, err = DecodeYAML(data)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if c.Name == "" {
		c.Name = NameFromPath(path)
	}
	if fi, err := os.Stat(path); err == nil && c.UpdatedAt == 0 {
		c.UpdatedAt = fi.ModTime().Unix()
	}
	return c, nil
}

// NameFromPath derives a catalog name from a file name: "crm.yaml" -> "crm".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DecodeJSON decodes a JSON catalog in either layout.
func DecodeJSON(data []byte) (*ports.Catalog, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty catalog")
	}
	switch trimmed[0] {
	case '[':
		var patterns []ports.Pattern
		if err := json.Unmarshal(trimmed, &patterns); err != nil {
			return nil, fmt.Errorf("decode patterns: %w", err)
		}
		return &ports.Catalog{Patterns: patterns}, nil
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
		if _, ok := raw["patterns"]; !ok {
			return nil, fmt.Errorf("catalog object has no \"patterns\" list")
		}
		var c ports.Catalog
		if err := json.Unmarshal(trimmed, &c); err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
		return &c, nil
	}
	return nil, fmt.Errorf("catalog must be a list or an object")
}

// DecodeYAML decodes a YAML catalog in either layout.
func DecodeYAML(data []byte) (*ports.Catalog, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("empty catalog")
	}
	root := doc.Content[0]

	switch root.Kind {
	case yaml.SequenceNode:
		var patterns []ports.Pattern
		if err := root.Decode(&patterns); err != nil {
			return nil, fmt.Errorf("decode patterns: %w", err)
		}
		return &ports.Catalog{Patterns: patterns}, nil
	case yaml.MappingNode:
		if !hasKey(root, "patterns") {
			return nil, fmt.Errorf("catalog mapping has no \"patterns\" list")
		}
		var c ports.Catalog
		if err := root.Decode(&c); err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
		return &c, nil
	}
	return nil, fmt.Errorf("line %d: catalog must be a list or a mapping", root.Line)
}

func hasKey(mapping *yaml.Node, key string) bool {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return true
		}
	}
	return false
}

// Save writes c to path in the format its extension selects.
func Save(path string, c *ports.Catalog) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		return fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
