package ports

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"

	"gopkg.in/yaml.v3"
)

// IDKey is the reserved wire key that carries a pattern's entity id.
// Every other key of a wire pattern is a field.
const IDKey = "_id"

// Field is one named literal value of a pattern (e.g. order_number: OR-2345).
type Field struct {
	Name  string
	Value string
}

// Pattern is a catalog entity: an identity plus an ordered list of field
// values to locate in text. One entity may register several values (a
// human-readable title and a code, for instance).
type Pattern struct {
	EntityID string
	Fields   []Field
}

// Payload is what the automaton carries for each registered value.
// Value keeps the original casing for span reporting.
type Payload struct {
	EntityID  string `json:"_id"`
	FieldName string `json:"key"`
	Value     string `json:"value"`
}

// Entry is one distinct registered value: the folded key the automaton
// matches and every payload registered under it, in catalog order.
type Entry struct {
	Key      string
	Payloads []Payload
}

// Hit is a raw automaton hit: a payload whose value ends at End, an
// exclusive byte offset into the folded (and therefore the original) text.
// Entry is the index of the matched value in PatternIndex.Entries.
type Hit struct {
	End     int
	Entry   int
	Payload Payload
}

// Start returns the hit's start offset, derived from the payload value length.
func (h Hit) Start() int {
	return h.End - len(h.Payload.Value)
}

// PatternIndex finds all registered values in text in a single pass
// (Aho-Corasick), independent of how many values are registered.
//
// Implementations are immutable after construction and safe for any number
// of concurrent Scan calls. A changed catalog means building a new index.
type PatternIndex interface {
	// Scan walks text once and yields every hit, overlapping and nested hits
	// included, ordered by end position. The sequence is lazy and may be
	// ranged over any number of times.
	Scan(text string) iter.Seq[Hit]

	// Entries returns the distinct registered values in registration order.
	// Callers must not modify the returned slice.
	Entries() []Entry

	// Size returns the number of registered (entity, field, value) triples.
	Size() int
}

// UnmarshalJSON decodes the flat wire form {"_id": "1", "field": "value", ...}
// keeping field order. Null, boolean and nested field values decode to an
// empty value so the compiler can skip them with a warning instead of failing
// the whole catalog.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("pattern must be an object, got %s", describeToken(tok))
	}

	*p = Pattern{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("pattern field %q: %w", key, err)
		}
		value, isScalar := scalarString(raw)

		if key == IDKey {
			if !isScalar {
				return fmt.Errorf("pattern %s must be a string", IDKey)
			}
			p.EntityID = value
			continue
		}
		p.Fields = append(p.Fields, Field{Name: key, Value: value})
	}

	_, err = dec.Token() // closing '}'
	return err
}

// MarshalJSON encodes the flat wire form with _id first and fields in order.
func (p Pattern) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeKV := func(first bool, k, v string) {
		if !first {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(v)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	writeKV(true, IDKey, p.EntityID)
	for _, f := range p.Fields {
		writeKV(false, f.Name, f.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML decodes the same flat form from YAML mappings, in key order.
func (p *Pattern) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: pattern must be a mapping", node.Line)
	}
	*p = Pattern{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]

		value := ""
		if val.Kind == yaml.ScalarNode && val.Tag != "!!null" {
			value = val.Value
		}
		if key == IDKey {
			if val.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: pattern %s must be a string", val.Line, IDKey)
			}
			p.EntityID = value
			continue
		}
		p.Fields = append(p.Fields, Field{Name: key, Value: value})
	}
	return nil
}

// MarshalYAML encodes the flat form as an ordered mapping.
func (p Pattern) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	add := func(k, v string) {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Value: v, Style: yaml.DoubleQuotedStyle},
		)
	}
	add(IDKey, p.EntityID)
	for _, f := range p.Fields {
		add(f.Name, f.Value)
	}
	return node, nil
}

// scalarString renders a JSON scalar as the string the catalog author meant.
// Strings decode as-is and numbers keep their literal text; null, bools,
// objects and arrays are not usable values.
func scalarString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if _, err := strconv.ParseFloat(string(raw), 64); err != nil {
			return "", false
		}
		return string(raw), true
	}
	return "", false
}

func describeToken(tok json.Token) string {
	switch tok.(type) {
	case json.Delim:
		return "array"
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "bool"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", tok)
}
