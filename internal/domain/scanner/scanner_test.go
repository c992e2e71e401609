package scanner

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/corey/refscan/internal/adapters/ahocorasick"
	"github.com/corey/refscan/internal/ports"
)

// =============================================================================
// Match pipeline: exact spans, ordering, context tags, fuzzy fallback
// Expectation: every catalog value found in text is reported once per
// occurrence with a span into the original text, ordered by (start, end).
// =============================================================================

func build(patterns []ports.Pattern) ports.PatternIndex {
	return ahocorasick.Build(patterns)
}

func newScanner(t *testing.T, opts Options) *Scanner {
	t.Helper()
	return New(build, opts)
}

func pattern(id string, kv ...string) ports.Pattern {
	p := ports.Pattern{EntityID: id}
	for i := 0; i+1 < len(kv); i += 2 {
		p.Fields = append(p.Fields, ports.Field{Name: kv[i], Value: kv[i+1]})
	}
	return p
}

const sampleText = "Hello, my name is JOHN DOE. I live in NEW YORK CITY. My contract number is co-3456. OP-1234 and the order or-2345."

var samplePatterns = []ports.Pattern{
	pattern("3", "opportunity_number", "OP-1234", "_title", "Opportunity OP-1234"),
	pattern("2", "contract_number", "CO-3456", "_title", "Contract CO-3456"),
	pattern("1", "order_number", "OR-2345", "_title", "Order OR-2345"),
}

func values(records []ports.MatchRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Value
	}
	return out
}

func assertOrdered(t *testing.T, records []ports.MatchRecord) {
	t.Helper()
	for i := 1; i < len(records); i++ {
		a, b := records[i-1], records[i]
		ok := a.StartIndex < b.StartIndex || (a.StartIndex == b.StartIndex && a.EndIndex <= b.EndIndex)
		assert.True(t, ok, "records %d and %d out of order: %s, %s", i-1, i, a, b)
	}
}

func assertSpans(t *testing.T, text string, records []ports.MatchRecord) {
	t.Helper()
	for _, r := range records {
		if r.Fuzzy {
			continue
		}
		assert.True(t, strings.EqualFold(r.Value, r.Span(text)), "span %q does not locate %q", r.Span(text), r.Value)
	}
}

func TestMatch_SampleBody(t *testing.T) {
	s := newScanner(t, Options{})

	records, err := s.Match(samplePatterns, sampleText, map[string]bool{TagBody: true}, 0)
	require.NoError(t, err)
	require.Len(t, records, 4)

	want := []ports.MatchRecord{
		{EntityID: "2", FieldName: "contract_number", Value: "CO-3456", StartIndex: 75, EndIndex: 82},
		{EntityID: "3", FieldName: "opportunity_number", Value: "OP-1234", StartIndex: 84, EndIndex: 91},
		{EntityID: "1", FieldName: "_title", Value: "Order OR-2345", StartIndex: 100, EndIndex: 113},
		{EntityID: "1", FieldName: "order_number", Value: "OR-2345", StartIndex: 106, EndIndex: 113},
	}
	for i, w := range want {
		w.Context = map[string]bool{TagBody: true}
		assert.Equal(t, w, records[i])
	}
	assertSpans(t, sampleText, records)
}

func TestMatch_RecordJSON(t *testing.T) {
	s := newScanner(t, Options{})
	records, err := s.Match(samplePatterns, sampleText, map[string]bool{TagBody: true}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	data, err := json.Marshal(records[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":"2","key":"contract_number","value":"CO-3456","start_index":75,"end_index":82,"is_body":true}`, string(data))
}

func TestMatch_CaseInsensitive(t *testing.T) {
	s := newScanner(t, Options{})

	original, err := s.Match(samplePatterns, sampleText, nil, 0)
	require.NoError(t, err)
	lower, err := s.Match(samplePatterns, strings.ToLower(sampleText), nil, 0)
	require.NoError(t, err)

	assert.Len(t, lower, 4)
	assert.Equal(t, values(original), values(lower))
}

func TestMatch_Overlapping(t *testing.T) {
	s := newScanner(t, Options{})
	records, err := s.Match([]ports.Pattern{
		pattern("1", "pattern", "abc"),
		pattern("2", "pattern", "bcd"),
	}, "abcd", nil, 0)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "abc", records[0].Value)
	assert.Equal(t, [2]int{0, 3}, [2]int{records[0].StartIndex, records[0].EndIndex})
	assert.Equal(t, "bcd", records[1].Value)
	assert.Equal(t, [2]int{1, 4}, [2]int{records[1].StartIndex, records[1].EndIndex})
}

func TestMatch_Degenerate(t *testing.T) {
	s := newScanner(t, Options{})

	records, err := s.Match(nil, sampleText, nil, 0)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	records, err = s.Match(samplePatterns, "", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = s.Match(samplePatterns, "This text contains no matching patterns.", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = s.MatchIndex(nil, sampleText, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMatch_DuplicateOccurrences(t *testing.T) {
	s := newScanner(t, Options{})
	p := []ports.Pattern{pattern("1", "opportunity_number", "OP-1234")}

	records, err := s.Match(p, "OP-1234 is an opportunity. Another opportunity is OP-1234.", nil, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 0, records[0].StartIndex)
	assert.Equal(t, 50, records[1].StartIndex)

	records, err = s.Match(p, "OP-1234 is at the start and the end is OP-1234", nil, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 0, records[0].StartIndex)
	assert.Equal(t, 39, records[1].StartIndex)

	records, err = s.Match(p, "Special chars: !@#$%^&*() and OP-1234.", nil, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 30, records[0].StartIndex)
}

func TestMatch_Counts(t *testing.T) {
	s := newScanner(t, Options{})
	tests := []struct {
		text string
		want int
	}{
		{"Three matches: OP-1234, CO-3456, and OR-2345", 3},
		{"Two matches: OP-1234 and CO-3456", 2},
		{"One match: OP-1234", 1},
		{"No matches here", 0},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			records, err := s.Match(samplePatterns, tt.text, nil, 0)
			require.NoError(t, err)
			assert.Len(t, records, tt.want)
		})
	}
}

func TestMatch_Idempotent(t *testing.T) {
	s := newScanner(t, Options{})
	first, err := s.Match(samplePatterns, sampleText, map[string]bool{"x": true}, 1)
	require.NoError(t, err)
	second, err := s.Match(samplePatterns, sampleText, map[string]bool{"x": true}, 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMatch_ContextCopiedPerRecord(t *testing.T) {
	s := newScanner(t, Options{})
	tags := map[string]bool{TagBody: true}

	records, err := s.Match(samplePatterns, sampleText, tags, 0)
	require.NoError(t, err)
	require.Len(t, records, 4)

	records[0].Context["mutated"] = true
	assert.NotContains(t, records[1].Context, "mutated")
	assert.NotContains(t, tags, "mutated")
}

func TestMatch_SharedValueOrderedByCatalog(t *testing.T) {
	s := newScanner(t, Options{})
	records, err := s.Match([]ports.Pattern{
		pattern("1", "code", "CO-3456"),
		pattern("2", "alias", "co-3456"),
	}, "ref CO-3456", nil, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].EntityID)
	assert.Equal(t, "2", records[1].EntityID)
}

// =============================================================================
// Validation
// Expectation: bad input is rejected before scanning with a typed error that
// wraps ErrInvalidInput; single malformed fields only produce a warning.
// =============================================================================

func TestMatch_InvalidThreshold(t *testing.T) {
	s := newScanner(t, Options{})

	for _, k := range []int{-1, DefaultMaxFuzzyThreshold + 1} {
		_, err := s.Match(samplePatterns, sampleText, nil, k)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidInput))

		var ve *ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "fuzzy_threshold", ve.Field)
	}

	_, err := s.MatchIndex(build(samplePatterns), sampleText, nil, -3)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMatch_FuzzyDisabled(t *testing.T) {
	s := newScanner(t, Options{MaxFuzzyThreshold: FuzzyDisabled})

	_, err := s.Match(samplePatterns, sampleText, nil, 1)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "fuzzy_threshold", ve.Field)

	records, err := s.Match(samplePatterns, sampleText, nil, 0)
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestMatch_PatternWithoutValues(t *testing.T) {
	s := newScanner(t, Options{})
	p := []ports.Pattern{
		pattern("1", "order_number", "OR-2345"),
		pattern("2", "contract_number", ""),
	}

	_, err := s.Match(p, sampleText, nil, 0)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "patterns[1]", ve.Field)

	// Validation comes before the empty-text shortcut.
	_, err = s.Match(p, "", nil, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Compile([]ports.Pattern{{EntityID: "9"}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMatch_MissingID(t *testing.T) {
	s := newScanner(t, Options{})
	_, err := s.Match([]ports.Pattern{pattern("", "code", "X-1")}, "X-1", nil, 0)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "patterns[0]", ve.Field)
	assert.Contains(t, ve.Error(), ports.IDKey)
}

func TestMatch_MalformedFieldWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := newScanner(t, Options{Logger: zap.New(core)})

	records, err := s.Match([]ports.Pattern{
		pattern("1", "order_number", "", "_title", "Order OR-2345"),
	}, sampleText, nil, 0)
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "_title", records[0].FieldName)

	entries := logs.FilterField(zap.String("field", "order_number")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

// =============================================================================
// Index cache
// =============================================================================

func TestCompile_ReusesIdenticalCatalog(t *testing.T) {
	s := newScanner(t, Options{})

	a, err := s.Compile(samplePatterns)
	require.NoError(t, err)
	b, err := s.Compile([]ports.Pattern{
		pattern("3", "opportunity_number", "OP-1234", "_title", "Opportunity OP-1234"),
		pattern("2", "contract_number", "CO-3456", "_title", "Contract CO-3456"),
		pattern("1", "order_number", "OR-2345", "_title", "Order OR-2345"),
	})
	require.NoError(t, err)

	assert.Same(t, a, b)
	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Compiles)
	assert.Equal(t, uint64(1), stats.CacheHits)
	assert.Equal(t, 1, stats.CacheEntries)
}

func TestCompile_DistinctCatalogs(t *testing.T) {
	s := newScanner(t, Options{})
	a, err := s.Compile([]ports.Pattern{pattern("1", "ab", "c")})
	require.NoError(t, err)
	b, err := s.Compile([]ports.Pattern{pattern("1", "a", "bc")})
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, uint64(2), s.Stats().Compiles)
}

func TestCompile_EvictsOldest(t *testing.T) {
	s := newScanner(t, Options{CacheSize: 2})
	catalogs := [][]ports.Pattern{
		{pattern("1", "code", "A-1")},
		{pattern("2", "code", "B-2")},
		{pattern("3", "code", "C-3")},
	}
	for _, c := range catalogs {
		_, err := s.Compile(c)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, s.Stats().CacheEntries)

	_, err := s.Compile(catalogs[2])
	require.NoError(t, err)
	assert.Equal(t, uint64(3), s.Stats().Compiles)

	_, err = s.Compile(catalogs[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(4), s.Stats().Compiles)
}

func TestCompile_CacheDisabled(t *testing.T) {
	s := newScanner(t, Options{CacheSize: -1})
	for range 2 {
		_, err := s.Compile(samplePatterns)
		require.NoError(t, err)
	}
	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Compiles)
	assert.Equal(t, 0, stats.CacheEntries)
}

// =============================================================================
// Fuzzy fallback
// Expectation: values with no exact occurrence are recovered within k edits;
// exact hits always win; k = 0 disables the fallback.
// =============================================================================

func TestMatch_FuzzyRecoversTypo(t *testing.T) {
	s := newScanner(t, Options{})
	p := []ports.Pattern{pattern("1", "auftragsnummer", "AUF-2023-001")}
	text := "Stand des Auftrags AUF2023-00l informieren"

	records, err := s.Match(p, text, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = s.Match(p, text, nil, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.True(t, r.Fuzzy)
	assert.Equal(t, 1, r.Distance)
	assert.Equal(t, "AUF-2023-001", r.Value)
	assert.Equal(t, "AUF2023-00l", r.Span(text))
	assert.Equal(t, uint64(1), s.Stats().FuzzyMatches)
}

func TestMatch_FuzzyConfusableIsFree(t *testing.T) {
	s := newScanner(t, Options{})
	text := "scan shows 0P-1234 here"
	records, err := s.Match([]ports.Pattern{pattern("1", "code", "OP-1234")}, text, nil, 1)
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.True(t, records[0].Fuzzy)
	assert.Equal(t, 0, records[0].Distance)
	assert.Equal(t, "0P-1234", records[0].Span(text))

	data, err := json.Marshal(records[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"fuzzy":true,"distance":0`)
}

func TestMatch_ExactSuppressesFuzzy(t *testing.T) {
	s := newScanner(t, Options{})
	records, err := s.Match([]ports.Pattern{pattern("1", "code", "AUF-2023-001")},
		"AUF-2023-001 and later AUF2023-00l", nil, 1)
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.False(t, records[0].Fuzzy)
	assert.Equal(t, 0, records[0].StartIndex)
}

func TestMatch_FuzzySkipsShortValues(t *testing.T) {
	s := newScanner(t, Options{})
	records, err := s.Match([]ports.Pattern{pattern("1", "code", "abcd")}, "xx abce", nil, 2)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMatch_FuzzySkipsLongText(t *testing.T) {
	s := newScanner(t, Options{MaxFuzzyRunes: 10})
	records, err := s.Match([]ports.Pattern{pattern("1", "code", "AUF-2023-001")},
		"Stand des Auftrags AUF2023-00l", nil, 1)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMatch_FuzzyOrderedWithExact(t *testing.T) {
	s := newScanner(t, Options{})
	text := "AUF2023-00l then OR-2345"
	records, err := s.Match([]ports.Pattern{
		pattern("1", "order_number", "OR-2345"),
		pattern("2", "auftragsnummer", "AUF-2023-001"),
	}, text, nil, 1)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "AUF-2023-001", records[0].Value)
	assert.True(t, records[0].Fuzzy)
	assert.Equal(t, "OR-2345", records[1].Value)
	assertOrdered(t, records)
}

func TestBestWindow(t *testing.T) {
	r := func(s string) []rune { return []rune(s) }

	w, ok := bestWindow(r("abcz"), r("abcx abcy"), 1)
	require.True(t, ok)
	assert.Equal(t, window{start: 0, end: 4, dist: 1}, w)

	w, ok = bestWindow(r("auf-2023-001"), r("x auf2023-001 y"), 1)
	require.True(t, ok)
	assert.Equal(t, window{start: 2, end: 13, dist: 1}, w)

	_, ok = bestWindow(r("auf-2023-001"), r("nothing close"), 1)
	assert.False(t, ok)

	_, ok = bestWindow(r("abc"), r("abc"), 0)
	assert.False(t, ok)

	_, ok = bestWindow(r("abcdef"), r("ab"), 1)
	assert.False(t, ok)
}

// =============================================================================
// Messages: subject and body matched separately and tagged
// =============================================================================

const germanSubject = "Betreff: Auftragsstatus AUF-2023-001 und Vertragsverlängerung VTR-4567"

const germanBody = `
    Betreff: Auftragsstatus AUF-2023-001 und Vertragsverlängerung VTR-4567

    Sehr geehrter Herr Müller,

    ich hoffe, diese E-Mail erreicht Sie gut. Ich möchte Sie über den aktuellen Stand des Auftrags AUF-2023-001 informieren und die anstehende Vertragsverlängerung VTR-4567 besprechen.

    1. Auftragsstatus AUF-2023-001:
       Der Auftrag befindet sich in der finalen Phase. Unser Team arbeitet hart daran, ihn bis zum 15. Mai abzuschließen.

    2. Vertragsverlängerung VTR-4567:
       Ihr aktueller Vertrag VTR-4567 läuft am 30. Juni aus. Wir möchten Ihnen eine Verlängerung zu verbesserten Konditionen anbieten.

    3. Neue Gelegenheit GEL-789:
       Außerdem möchte ich Sie auf eine neue Geschäftsmöglichkeit mit der Kennung GEL-789 aufmerksam machen.

    Bei Fragen stehe ich Ihnen gerne zur Verfügung. Sie erreichen mich unter der Durchwahl DW-123.

    Mit freundlichen Grüßen,
    Max Mustermann
    Kundenbetreuer
    `

var germanPatterns = []ports.Pattern{
	pattern("2", "vertragsnummer", "VTR-4567", "_title", "Vertrag VTR-4567"),
	pattern("3", "gelegenheit", "GEL-789", "_title", "Gelegenheit GEL-789"),
	pattern("4", "durchwahl", "DW-123", "_title", "Durchwahl DW-123"),
	pattern("1", "auftragsnummer", "AUF-2023-001", "_title", "Auftrag AUF-2023-001"),
}

func splitFuzzy(records []ports.MatchRecord) (exact, fuzzy []ports.MatchRecord) {
	for _, r := range records {
		if r.Fuzzy {
			fuzzy = append(fuzzy, r)
		} else {
			exact = append(exact, r)
		}
	}
	return exact, fuzzy
}

func indexOf(records []ports.MatchRecord, value string) int {
	for i, r := range records {
		if r.Value == value {
			return i
		}
	}
	return -1
}

func TestMatchMessage_GermanEmail(t *testing.T) {
	s := newScanner(t, Options{})
	idx, err := s.Compile(germanPatterns)
	require.NoError(t, err)

	records, err := s.MatchMessage(idx, Message{Subject: germanSubject, Body: germanBody}, 0)
	require.NoError(t, err)
	require.Len(t, records, 15)

	subject, body := records[:2], records[2:]
	for _, r := range subject {
		assert.Equal(t, map[string]bool{TagSubject: true}, r.Context)
	}
	for _, r := range body {
		assert.Equal(t, map[string]bool{TagBody: true}, r.Context)
	}
	assertOrdered(t, subject)
	assertOrdered(t, body)
	assertSpans(t, germanSubject, subject)
	assertSpans(t, germanBody, body)

	found := map[string]bool{}
	for _, r := range records {
		found[r.Value] = true
	}
	assert.Equal(t, map[string]bool{
		"Gelegenheit GEL-789": true, "Durchwahl DW-123": true, "Vertrag VTR-4567": true,
		"AUF-2023-001": true, "VTR-4567": true, "GEL-789": true, "DW-123": true,
	}, found)

	assert.Less(t, indexOf(records, "AUF-2023-001"), indexOf(records, "VTR-4567"))
	assert.Less(t, indexOf(records, "VTR-4567"), indexOf(records, "GEL-789"))
	assert.Less(t, indexOf(records, "GEL-789"), indexOf(records, "DW-123"))

	auf := records[indexOf(records, "AUF-2023-001")]
	assert.Equal(t, "AUF-2023-001", auf.Span(germanSubject))

	lower, err := s.MatchMessage(idx, Message{
		Subject: strings.ToLower(germanSubject),
		Body:    strings.ToLower(germanBody),
	}, 0)
	require.NoError(t, err)
	assert.Len(t, lower, len(records))
}

func TestMatchMessage_GermanEmailFuzzy(t *testing.T) {
	s := newScanner(t, Options{})
	idx, err := s.Compile(germanPatterns)
	require.NoError(t, err)

	records, err := s.MatchMessage(idx, Message{Subject: germanSubject, Body: germanBody}, 1)
	require.NoError(t, err)

	exact, fuzzy := splitFuzzy(records)
	assert.Len(t, exact, 15)
	require.Len(t, fuzzy, 1)
	assert.Equal(t, "Auftrag AUF-2023-001", fuzzy[0].Value)
	assert.Equal(t, "Auftrags AUF-2023-001", fuzzy[0].Span(germanBody))
	assert.Equal(t, 1, fuzzy[0].Distance)
	assert.True(t, fuzzy[0].Context[TagBody])
}

func TestMatchMessage_GermanEmailTypo(t *testing.T) {
	s := newScanner(t, Options{})
	idx, err := s.Compile(germanPatterns)
	require.NoError(t, err)
	body := strings.ReplaceAll(germanBody, "AUF-2023-001", "AUF2023-00l")

	records, err := s.MatchMessage(idx, Message{Subject: germanSubject, Body: body}, 1)
	require.NoError(t, err)

	exact, fuzzy := splitFuzzy(records)
	assert.Len(t, exact, 12)
	require.Len(t, fuzzy, 1)
	assert.Equal(t, "AUF-2023-001", fuzzy[0].Value)
	assert.Equal(t, "AUF2023-00l", fuzzy[0].Span(body))
	assert.Equal(t, 1, fuzzy[0].Distance)

	// The first occurrence wins: the body's repeated subject line.
	assert.Equal(t, strings.Index(body, "AUF2023-00l"), fuzzy[0].StartIndex)
}

func TestMatchMessage_InvalidThreshold(t *testing.T) {
	s := newScanner(t, Options{})
	_, err := s.MatchMessage(build(samplePatterns), Message{Subject: "x", Body: "y"}, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func BenchmarkMatchMessage(b *testing.B) {
	s := New(build, Options{})
	idx, err := s.Compile(germanPatterns)
	require.NoError(b, err)
	msg := Message{Subject: germanSubject, Body: germanBody}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.MatchMessage(idx, msg, 1); err != nil {
			b.Fatal(err)
		}
	}
}
