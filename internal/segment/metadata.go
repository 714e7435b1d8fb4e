package segment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Metadata is an immutable, ordered string map. Every update returns a new
// value that shares its tail with the receiver, so segments derived from the
// same document reuse the document-level entries instead of copying them.
// The zero value is an empty map ready for use.
type Metadata struct {
	head *entry
	n    int
}

type entry struct {
	key   string
	value string
	next  *entry
}

// FromMap builds Metadata from a plain map. Keys are inserted in sorted order
// so the result is deterministic.
func FromMap(m map[string]string) Metadata {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var md Metadata
	for _, k := range keys {
		md = md.With(k, m[k])
	}
	return md
}

// With returns a copy of m with key set to value. An existing key keeps its
// original position in Keys.
func (m Metadata) With(key, value string) Metadata {
	old, ok := m.Get(key)
	if ok && old == value {
		return m
	}
	n := m.n
	if !ok {
		n++
	}
	return Metadata{head: &entry{key: key, value: value, next: m.head}, n: n}
}

// Get returns the value stored under key.
func (m Metadata) Get(key string) (string, bool) {
	for e := m.head; e != nil; e = e.next {
		if e.key == key {
			return e.value, true
		}
	}
	return "", false
}

// Has reports whether key is present.
func (m Metadata) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Len returns the number of distinct keys.
func (m Metadata) Len() int {
	return m.n
}

// Keys returns the distinct keys in insertion order.
func (m Metadata) Keys() []string {
	if m.n == 0 {
		return nil
	}
	var chain []string
	for e := m.head; e != nil; e = e.next {
		chain = append(chain, e.key)
	}
	keys := make([]string, 0, m.n)
	seen := make(map[string]bool, m.n)
	for i := len(chain) - 1; i >= 0; i-- {
		if !seen[chain[i]] {
			seen[chain[i]] = true
			keys = append(keys, chain[i])
		}
	}
	return keys
}

// Map materializes m into a new plain map.
func (m Metadata) Map() map[string]string {
	out := make(map[string]string, m.n)
	for _, k := range m.Keys() {
		out[k], _ = m.Get(k)
	}
	return out
}

// Merge returns m extended with every key of other that m does not already
// have. Values from m win on conflict.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m
	for _, k := range other.Keys() {
		if out.Has(k) {
			continue
		}
		v, _ := other.Get(k)
		out = out.With(k, v)
	}
	return out
}

// Equal reports whether m and other hold the same key/value pairs,
// regardless of insertion order.
func (m Metadata) Equal(other Metadata) bool {
	if m.head == other.head {
		return true
	}
	if m.n != other.n {
		return false
	}
	for _, k := range m.Keys() {
		a, _ := m.Get(k)
		b, ok := other.Get(k)
		if !ok || a != b {
			return false
		}
	}
	return true
}

// String renders m as {k: v, ...} in key order.
func (m Metadata) String() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteString(", ")
		}
		v, _ := m.Get(k)
		fmt.Fprintf(&buf, "%s: %q", k, v)
	}
	buf.WriteByte('}')
	return buf.String()
}

// MarshalJSON encodes m as a JSON object preserving key order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		v, _ := m.Get(k)
		vb, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of strings, keeping the key order of
// the input.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = Metadata{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata: expected object, got %v", tok)
	}

	var out Metadata
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("metadata: expected string key, got %v", kt)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("metadata: value for %q: %w", key, err)
		}
		out = out.With(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

// MarshalYAML encodes m as an ordered YAML mapping.
func (m Metadata) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v},
		)
	}
	return node, nil
}

// UnmarshalYAML decodes a YAML mapping of scalars in document order.
func (m *Metadata) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("metadata: expected mapping at line %d", node.Line)
	}
	var out Metadata
	for i := 0; i+1 < len(node.Content); i += 2 {
		out = out.With(node.Content[i].Value, node.Content[i+1].Value)
	}
	*m = out
	return nil
}
