// Package scanner turns a pattern catalog and a text into ordered match
// records. It validates input, compiles (or reuses) a PatternIndex, converts
// raw automaton hits into spans over the original text, tags them with the
// caller's context and, when asked, runs a bounded edit-distance fallback for
// values that have no exact occurrence.
package scanner

import (
	"fmt"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/corey/refscan/internal/domain/fold"
	"github.com/corey/refscan/internal/ports"
)

// Context tags attached by MatchMessage.
const (
	TagSubject = "is_subject"
	TagBody    = "is_body"
)

const (
	DefaultMaxFuzzyThreshold = 4
	DefaultMaxFuzzyRunes     = 64 * 1024
	DefaultCacheSize         = 64

	// FuzzyDisabled as Options.MaxFuzzyThreshold rejects every threshold
	// above zero.
	FuzzyDisabled = -1
)

// BuildFunc compiles a catalog into a PatternIndex.
type BuildFunc func(patterns []ports.Pattern) ports.PatternIndex

// Options tunes a Scanner. Zero values select the defaults.
type Options struct {
	MaxFuzzyThreshold int // largest accepted fuzzy threshold; FuzzyDisabled turns the fallback off
	MaxFuzzyRunes     int // texts longer than this skip the fuzzy fallback
	CacheSize         int // compiled catalogs kept by fingerprint; negative disables
	Logger            *zap.Logger
}

// Message is an email-shaped input: subject and body are matched separately
// and tagged with TagSubject and TagBody.
type Message struct {
	Subject string
	Body    string
}

// Stats is a snapshot of the scanner's counters.
type Stats struct {
	Scans        uint64
	Matches      uint64
	FuzzyMatches uint64
	Compiles     uint64
	CacheHits    uint64
	CacheMisses  uint64
	CacheEntries int
}

// Scanner runs the match pipeline. It holds no per-call state and is safe for
// concurrent use.
type Scanner struct {
	build BuildFunc
	opts  Options
	log   *zap.Logger
	cache *indexCache

	scans        atomic.Uint64
	matches      atomic.Uint64
	fuzzyMatches atomic.Uint64
	compiles     atomic.Uint64
}

// New creates a Scanner that compiles catalogs with build.
func New(build BuildFunc, opts Options) *Scanner {
	switch {
	case opts.MaxFuzzyThreshold == 0:
		opts.MaxFuzzyThreshold = DefaultMaxFuzzyThreshold
	case opts.MaxFuzzyThreshold < 0:
		opts.MaxFuzzyThreshold = 0
	}
	if opts.MaxFuzzyRunes <= 0 {
		opts.MaxFuzzyRunes = DefaultMaxFuzzyRunes
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scanner{
		build: build,
		opts:  opts,
		log:   opts.Logger.Named("scanner"),
		cache: newIndexCache(opts.CacheSize),
	}
}

// Compile validates patterns and returns their compiled index. Identical
// catalogs share one index through the fingerprint cache.
func (s *Scanner) Compile(patterns []ports.Pattern) (ports.PatternIndex, error) {
	if err := s.validatePatterns(patterns); err != nil {
		return nil, err
	}
	return s.compile(patterns), nil
}

func (s *Scanner) compile(patterns []ports.Pattern) ports.PatternIndex {
	fp := catalogFingerprint(patterns)
	if idx, ok := s.cache.get(fp); ok {
		return idx
	}
	start := time.Now()
	idx := s.build(patterns)
	s.compiles.Add(1)
	s.cache.put(fp, idx)
	s.log.Debug("compiled catalog",
		zap.Int("patterns", len(patterns)),
		zap.Int("values", idx.Size()),
		zap.Duration("took", time.Since(start)))
	return idx
}

// Match locates every catalog value in text. Records carry a copy of tags and
// are ordered by start offset, then end offset. With fuzzyThreshold > 0,
// values without an exact occurrence are searched approximately.
//
// Empty patterns or empty text give an empty result. Invalid input returns a
// *ValidationError and no records.
func (s *Scanner) Match(patterns []ports.Pattern, text string, tags map[string]bool, fuzzyThreshold int) ([]ports.MatchRecord, error) {
	if err := s.validateThreshold(fuzzyThreshold); err != nil {
		return nil, err
	}
	if err := s.validatePatterns(patterns); err != nil {
		return nil, err
	}
	if len(patterns) == 0 || text == "" {
		return []ports.MatchRecord{}, nil
	}
	return s.run(s.compile(patterns), text, tags, fuzzyThreshold), nil
}

// MatchIndex is Match against an already compiled index.
func (s *Scanner) MatchIndex(idx ports.PatternIndex, text string, tags map[string]bool, fuzzyThreshold int) ([]ports.MatchRecord, error) {
	if err := s.validateThreshold(fuzzyThreshold); err != nil {
		return nil, err
	}
	if idx == nil || idx.Size() == 0 || text == "" {
		return []ports.MatchRecord{}, nil
	}
	return s.run(idx, text, tags, fuzzyThreshold), nil
}

// MatchMessage matches subject and body separately and returns the subject
// records followed by the body records. Offsets are relative to the part
// they were found in.
func (s *Scanner) MatchMessage(idx ports.PatternIndex, msg Message, fuzzyThreshold int) ([]ports.MatchRecord, error) {
	subject, err := s.MatchIndex(idx, msg.Subject, map[string]bool{TagSubject: true}, fuzzyThreshold)
	if err != nil {
		return nil, err
	}
	body, err := s.MatchIndex(idx, msg.Body, map[string]bool{TagBody: true}, fuzzyThreshold)
	if err != nil {
		return nil, err
	}
	return append(subject, body...), nil
}

// Stats returns the current counters.
func (s *Scanner) Stats() Stats {
	return Stats{
		Scans:        s.scans.Load(),
		Matches:      s.matches.Load(),
		FuzzyMatches: s.fuzzyMatches.Load(),
		Compiles:     s.compiles.Load(),
		CacheHits:    s.cache.hits.Load(),
		CacheMisses:  s.cache.misses.Load(),
		CacheEntries: s.cache.len(),
	}
}

func (s *Scanner) run(idx ports.PatternIndex, text string, tags map[string]bool, k int) []ports.MatchRecord {
	start := time.Now()
	entries := idx.Entries()
	found := make([]bool, len(entries))

	records := []ports.MatchRecord{}
	for h := range idx.Scan(text) {
		found[h.Entry] = true
		records = append(records, ports.MatchRecord{
			EntityID:   h.Payload.EntityID,
			FieldName:  h.Payload.FieldName,
			Value:      h.Payload.Value,
			StartIndex: h.Start(),
			EndIndex:   h.End,
			Context:    cloneTags(tags),
		})
	}
	exact := len(records)

	if k > 0 {
		records = s.fuzzy(records, entries, found, text, tags, k)
	}

	slices.SortStableFunc(records, func(a, b ports.MatchRecord) int {
		if a.StartIndex != b.StartIndex {
			return a.StartIndex - b.StartIndex
		}
		return a.EndIndex - b.EndIndex
	})

	s.scans.Add(1)
	s.matches.Add(uint64(len(records)))
	s.fuzzyMatches.Add(uint64(len(records) - exact))
	s.log.Debug("scan",
		zap.Int("text_bytes", len(text)),
		zap.Int("exact", exact),
		zap.Int("fuzzy", len(records)-exact),
		zap.Duration("took", time.Since(start)))
	return records
}

// fuzzy appends one record per payload for every entry that had no exact hit
// and has a window in text within k edits.
func (s *Scanner) fuzzy(records []ports.MatchRecord, entries []ports.Entry, found []bool, text string, tags map[string]bool, k int) []ports.MatchRecord {
	var ft fold.FuzzyText
	prepared := false

	for i, e := range entries {
		if found[i] || len(e.Payloads) == 0 {
			continue
		}
		pat := fold.Fuzzy(e.Payloads[0].Value).Runes
		if len(pat) <= 2*k {
			continue
		}
		if !prepared {
			ft = fold.Fuzzy(text)
			prepared = true
			if len(ft.Runes) > s.opts.MaxFuzzyRunes {
				s.log.Debug("text too long for fuzzy fallback",
					zap.Int("runes", len(ft.Runes)),
					zap.Int("limit", s.opts.MaxFuzzyRunes))
				return records
			}
		}
		w, ok := bestWindow(pat, ft.Runes, k)
		if !ok {
			continue
		}
		startByte, endByte := ft.Span(w.start, w.end)
		for _, p := range e.Payloads {
			records = append(records, ports.MatchRecord{
				EntityID:   p.EntityID,
				FieldName:  p.FieldName,
				Value:      p.Value,
				StartIndex: startByte,
				EndIndex:   endByte,
				Fuzzy:      true,
				Distance:   w.dist,
				Context:    cloneTags(tags),
			})
		}
	}
	return records
}

func (s *Scanner) validateThreshold(k int) error {
	if k < 0 {
		return invalid("fuzzy_threshold", "must not be negative, got %d", k)
	}
	if k > 0 && s.opts.MaxFuzzyThreshold == 0 {
		return invalid("fuzzy_threshold", "fuzzy matching is disabled, got %d", k)
	}
	if k > s.opts.MaxFuzzyThreshold {
		return invalid("fuzzy_threshold", "must be at most %d, got %d", s.opts.MaxFuzzyThreshold, k)
	}
	return nil
}

// validatePatterns rejects entities without an id or without any usable
// field. Individual malformed fields are logged and left for the index to
// skip.
func (s *Scanner) validatePatterns(patterns []ports.Pattern) error {
	for i, p := range patterns {
		field := fmt.Sprintf("patterns[%d]", i)
		if p.EntityID == "" {
			return invalid(field, "missing %s", ports.IDKey)
		}
		usable := 0
		for _, f := range p.Fields {
			switch {
			case f.Name == "":
				s.log.Warn("skipping field without a name",
					zap.String("entity_id", p.EntityID), zap.String("value", f.Value))
			case f.Value == "":
				s.log.Warn("skipping field without a value",
					zap.String("entity_id", p.EntityID), zap.String("field", f.Name))
			default:
				usable++
			}
		}
		if usable == 0 {
			return invalid(field, "entity %q has no field values", p.EntityID)
		}
	}
	return nil
}

func cloneTags(tags map[string]bool) map[string]bool {
	if len(tags) == 0 {
		return nil
	}
	return maps.Clone(tags)
}
