// Package fold implements the text normalizations used for matching.
//
// Fold is the exact-match normalization: a locale-independent lowercase that
// never changes the UTF-8 byte length of any rune, so every byte offset into
// the folded text is also a valid offset into the original. Runes whose
// lowercase form encodes to a different width (U+0130 'İ', U+212A 'K',
// U+1E9E 'ẞ', ...) are left unchanged. Full coverage is guaranteed for
// ASCII and Latin-1; other scripts fold wherever Unicode simple lowercase
// keeps the width, which holds for Greek, Cyrillic and most Latin Extended.
//
// Fuzzy is the comparison-only normalization of the approximate fallback. It
// works rune by rune, strips diacritics and maps common OCR confusions to a
// single representative so that 'AUF-2023-00l' and 'auf-2023-001' compare as
// equal runes at that position.
//
// All functions are safe for concurrent use.
package fold

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s without changing its byte length.
// Invalid UTF-8 bytes are copied unchanged.
func Fold(s string) string {
	// Fast path: nothing to do for text without upper-case runes.
	if !needsFold(s) {
		return s
	}
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			buf = append(buf, s[i])
			i++
			continue
		}
		buf = utf8.AppendRune(buf, Rune(r, size))
		i += size
	}
	return string(buf)
}

// Rune folds a single rune whose encoded size is size.
func Rune(r rune, size int) rune {
	if r < utf8.RuneSelf {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}
	l := unicode.ToLower(r)
	if l == r || utf8.RuneLen(l) != size {
		return r
	}
	return l
}

func needsFold(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= utf8.RuneSelf || ('A' <= c && c <= 'Z') {
			return true
		}
	}
	return false
}

// confusables maps characters that OCR and handwriting routinely swap onto
// one representative. Applied after lowercasing.
var confusables = map[rune]rune{
	'o': '0',
	'l': '1',
	'i': '1',
	'|': '1',
	's': '5',
	'b': '8',
}

// FuzzyRune returns the comparison form of r: lowercased, without
// diacritics, with OCR confusables collapsed.
func FuzzyRune(r rune) rune {
	r = unicode.ToLower(r)
	if r >= utf8.RuneSelf {
		r = stripMarks(r)
	}
	if c, ok := confusables[r]; ok {
		return c
	}
	return r
}

// stripMarks returns the base rune of r's canonical decomposition when the
// decomposition is a base letter followed only by combining marks.
func stripMarks(r rune) rune {
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], r)
	if norm.NFD.IsNormal(buf[:n]) {
		return r
	}
	d := norm.NFD.Bytes(buf[:n])
	base, size := utf8.DecodeRune(d)
	for rest := d[size:]; len(rest) > 0; {
		m, sz := utf8.DecodeRune(rest)
		if !unicode.Is(unicode.Mn, m) {
			return r
		}
		rest = rest[sz:]
	}
	return base
}

// FuzzyText is s in fuzzy comparison form together with the byte offset of
// every rune in the original string.
type FuzzyText struct {
	Runes   []rune
	Offsets []int // Offsets[i] is the byte offset of Runes[i]; Offsets[len(Runes)] == len(s)
}

// Fuzzy converts s to its comparison form.
func Fuzzy(s string) FuzzyText {
	n := utf8.RuneCountInString(s)
	ft := FuzzyText{
		Runes:   make([]rune, 0, n),
		Offsets: make([]int, 0, n+1),
	}
	for i, r := range s {
		ft.Runes = append(ft.Runes, FuzzyRune(r))
		ft.Offsets = append(ft.Offsets, i)
	}
	ft.Offsets = append(ft.Offsets, len(s))
	return ft
}

// Span returns the byte range in the original string covered by runes [i, j).
func (ft FuzzyText) Span(i, j int) (start, end int) {
	return ft.Offsets[i], ft.Offsets[j]
}
