package ports

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// MatchRecord is one located occurrence of a catalog value.
//
// StartIndex and EndIndex are half-open byte offsets into the original text,
// so text[StartIndex:EndIndex] is the matched span in its original casing.
// Value is the catalog value verbatim. For exact matches the span equals
// Value under case folding; fuzzy matches carry their edit distance.
type MatchRecord struct {
	EntityID   string
	FieldName  string
	Value      string
	StartIndex int
	EndIndex   int
	Fuzzy      bool
	Distance   int             // edit distance of a fuzzy match
	Context    map[string]bool // caller-supplied provenance, e.g. is_subject
}

// reservedRecordKeys cannot be overridden by context tags.
var reservedRecordKeys = map[string]bool{
	IDKey: true, "key": true, "value": true,
	"start_index": true, "end_index": true, "fuzzy": true, "distance": true,
}

// MarshalJSON renders the flat record shape consumers expect:
// {"_id", "key", "value", "start_index", "end_index", <tags...>} plus
// "fuzzy" and "distance" for fuzzy matches.
// Context tags are emitted in sorted order so output is deterministic.
func (m MatchRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	fmt.Fprintf(&buf, `"_id":%s,"key":%s,"value":%s,"start_index":%d,"end_index":%d`,
		quote(m.EntityID), quote(m.FieldName), quote(m.Value), m.StartIndex, m.EndIndex)

	tags := make([]string, 0, len(m.Context))
	for k := range m.Context {
		if !reservedRecordKeys[k] {
			tags = append(tags, k)
		}
	}
	slices.Sort(tags)
	for _, k := range tags {
		fmt.Fprintf(&buf, `,%s:%t`, quote(k), m.Context[k])
	}

	if m.Fuzzy {
		fmt.Fprintf(&buf, `,"fuzzy":true,"distance":%d`, m.Distance)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the flat record shape; unknown boolean keys become
// context tags.
func (m *MatchRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = MatchRecord{}
	for k, v := range raw {
		var err error
		switch k {
		case IDKey:
			err = json.Unmarshal(v, &m.EntityID)
		case "key":
			err = json.Unmarshal(v, &m.FieldName)
		case "value":
			err = json.Unmarshal(v, &m.Value)
		case "start_index":
			err = json.Unmarshal(v, &m.StartIndex)
		case "end_index":
			err = json.Unmarshal(v, &m.EndIndex)
		case "fuzzy":
			err = json.Unmarshal(v, &m.Fuzzy)
		case "distance":
			err = json.Unmarshal(v, &m.Distance)
		default:
			var b bool
			if json.Unmarshal(v, &b) == nil {
				if m.Context == nil {
					m.Context = make(map[string]bool)
				}
				m.Context[k] = b
			}
		}
		if err != nil {
			return fmt.Errorf("match record %q: %w", k, err)
		}
	}
	return nil
}

// Span returns the record's slice of text, or "" if the offsets fall outside it.
func (m MatchRecord) Span(text string) string {
	if m.StartIndex < 0 || m.EndIndex > len(text) || m.StartIndex > m.EndIndex {
		return ""
	}
	return text[m.StartIndex:m.EndIndex]
}

func (m MatchRecord) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s.%s=%q [%d:%d]", m.EntityID, m.FieldName, m.Value, m.StartIndex, m.EndIndex)
	if m.Fuzzy {
		fmt.Fprintf(&sb, " ~%d", m.Distance)
	}
	return sb.String()
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
