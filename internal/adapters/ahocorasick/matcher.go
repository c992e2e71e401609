// Package ahocorasick compiles pattern catalogs into a multi-pattern automaton.
// It wraps the petar-dambovaliev/aho-corasick library for O(n + m + z) matching:
// one pass over the text finds every registered value regardless of how many
// values the catalog holds.
package ahocorasick

import (
	"iter"

	aho "github.com/petar-dambovaliev/aho-corasick"

	"github.com/corey/refscan/internal/domain/fold"
	"github.com/corey/refscan/internal/ports"
)

// Skip reasons reported for fields that could not be registered.
const (
	ReasonEmptyName  = "empty field name"
	ReasonEmptyValue = "missing value"
)

// SkippedField describes a catalog field that was left out of the automaton.
type SkippedField struct {
	EntityID  string
	FieldName string
	Reason    string
}

// Index is a compiled catalog. It implements ports.PatternIndex.
// Build() compiles the automaton; Scan() walks it over text.
// An Index is immutable and safe for concurrent scans.
type Index struct {
	automaton aho.AhoCorasick
	entries   []ports.Entry
	size      int
	skipped   []SkippedField
}

var _ ports.PatternIndex = (*Index)(nil)

// Build compiles the automaton from every (entity, field, value) triple of
// patterns. Values are registered in folded form; identical folded values
// share one automaton entry carrying all of their payloads. Fields with an
// empty name or value are skipped and reported by Skipped. An empty catalog
// yields an index that matches nothing.
func Build(patterns []ports.Pattern) *Index {
	ix := &Index{}
	byKey := make(map[string]int)

	for _, p := range patterns {
		for _, f := range p.Fields {
			switch {
			case f.Name == "":
				ix.skipped = append(ix.skipped, SkippedField{EntityID: p.EntityID, FieldName: f.Name, Reason: ReasonEmptyName})
				continue
			case f.Value == "":
				ix.skipped = append(ix.skipped, SkippedField{EntityID: p.EntityID, FieldName: f.Name, Reason: ReasonEmptyValue})
				continue
			}

			key := fold.Fold(f.Value)
			payload := ports.Payload{EntityID: p.EntityID, FieldName: f.Name, Value: f.Value}
			if i, ok := byKey[key]; ok {
				ix.entries[i].Payloads = append(ix.entries[i].Payloads, payload)
			} else {
				byKey[key] = len(ix.entries)
				ix.entries = append(ix.entries, ports.Entry{Key: key, Payloads: []ports.Payload{payload}})
			}
			ix.size++
		}
	}

	if len(ix.entries) == 0 {
		return ix
	}

	keys := make([]string, len(ix.entries))
	for i, e := range ix.entries {
		keys[i] = e.Key
	}
	builder := aho.NewAhoCorasickBuilder(aho.Opts{
		DFA: true,
	})
	ix.automaton = builder.Build(keys)
	return ix
}

// Scan folds text and yields every hit in end-position order. Each ranging
// starts a fresh automaton walk, so the sequence is restartable and holds no
// state shared with other scans.
func (ix *Index) Scan(text string) iter.Seq[ports.Hit] {
	return func(yield func(ports.Hit) bool) {
		if len(ix.entries) == 0 || text == "" {
			return
		}
		it := ix.automaton.IterOverlappingByte([]byte(fold.Fold(text)))
		for next := it.Next(); next != nil; next = it.Next() {
			m := *next
			id := m.Pattern()
			for _, p := range ix.entries[id].Payloads {
				if !yield(ports.Hit{End: m.End(), Entry: id, Payload: p}) {
					return
				}
			}
		}
	}
}

// Hits collects Scan into a slice. Returns nil if nothing matches.
func (ix *Index) Hits(text string) []ports.Hit {
	var hits []ports.Hit
	for h := range ix.Scan(text) {
		hits = append(hits, h)
	}
	return hits
}

// Entries returns the distinct registered values in registration order.
func (ix *Index) Entries() []ports.Entry {
	return ix.entries
}

// Size returns the number of registered triples.
func (ix *Index) Size() int {
	return ix.size
}

// Skipped returns the fields that were not registered, in catalog order.
func (ix *Index) Skipped() []SkippedField {
	return ix.skipped
}
