package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

// Nested is the wire form exchanged with hosts: a payload at leaves, an
// ordered string-keyed mapping at internal nodes, or null for an empty
// brick. Key order is preserved through JSON and YAML.
type Nested struct {
	leaf     *Payload
	keys     []string
	children map[string]*Nested
}

// NestedNull returns the null form.
func NestedNull() *Nested { return &Nested{} }

// NestedLeaf wraps a payload.
func NestedLeaf(p *Payload) *Nested { return &Nested{leaf: p} }

// NestedMap returns an empty mapping.
func NestedMap() *Nested { return &Nested{children: make(map[string]*Nested)} }

// Set adds or replaces key in a mapping and returns n. New keys are
// appended; replaced keys keep their position. Set on a non-mapping turns
// it into one.
func (n *Nested) Set(key string, child *Nested) *Nested {
	if n.children == nil {
		n.leaf = nil
		n.children = make(map[string]*Nested)
	}
	if _, ok := n.children[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.children[key] = child
	return n
}

// IsNull reports whether n is the null form.
func (n *Nested) IsNull() bool { return n.leaf == nil && n.children == nil }

// IsLeaf reports whether n holds a payload.
func (n *Nested) IsLeaf() bool { return n.leaf != nil }

// IsMap reports whether n is a mapping.
func (n *Nested) IsMap() bool { return n.children != nil }

// Leaf returns the payload of a leaf, or nil.
func (n *Nested) Leaf() *Payload { return n.leaf }

// Keys returns the mapping keys in order.
func (n *Nested) Keys() []string { return slices.Clone(n.keys) }

// Child returns the value under key, or nil.
func (n *Nested) Child(key string) *Nested { return n.children[key] }

// Equal compares two nested values, including key order.
func (n *Nested) Equal(o *Nested) bool {
	if n == nil || o == nil {
		return n == o
	}
	switch {
	case n.IsNull() || o.IsNull():
		return n.IsNull() && o.IsNull()
	case n.IsLeaf() || o.IsLeaf():
		return n.leaf.Equal(o.leaf)
	}
	if !slices.Equal(n.keys, o.keys) {
		return false
	}
	for _, k := range n.keys {
		if !n.children[k].Equal(o.children[k]) {
			return false
		}
	}
	return true
}

// Value returns the nested form as plain Go values: nil, [][]any rows or
// map[string]any. Key order is lost.
func (n *Nested) Value() any {
	switch {
	case n.IsNull():
		return nil
	case n.IsLeaf():
		table := n.leaf.Table()
		rows := make([][]any, len(table))
		for i, row := range table {
			rows[i] = make([]any, len(row))
			for j, c := range row {
				rows[i][j] = c.Value()
			}
		}
		return rows
	}
	m := make(map[string]any, len(n.keys))
	for _, k := range n.keys {
		m[k] = n.children[k].Value()
	}
	return m
}

// NestedOf converts plain Go values into the wire form. Maps become
// mappings (keys sorted, since Go maps carry no order), slices of slices
// become leaves, flat slices a single-row leaf and scalars a 1x1 leaf.
func NestedOf(v any) (*Nested, error) {
	switch x := v.(type) {
	case nil:
		return NestedNull(), nil
	case *Nested:
		return x, nil
	case *Payload:
		return NestedLeaf(x), nil
	case Grid:
		p, err := NewPayload(x)
		if err != nil {
			return nil, err
		}
		return NestedLeaf(p), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := NestedMap()
		for _, k := range keys {
			child, err := NestedOf(x[k])
			if err != nil {
				return nil, err
			}
			out.Set(k, child)
		}
		return out, nil
	case [][]any:
		return nestedRows(x)
	case []any:
		if len(x) > 0 {
			if _, nestedRowsOK := x[0].([]any); nestedRowsOK {
				rows := make([][]any, len(x))
				for i, r := range x {
					row, ok := r.([]any)
					if !ok {
						return nil, &CellError{Row: i, Err: fmt.Errorf("%w: mixed rows and scalars", ErrIrregularShape)}
					}
					rows[i] = row
				}
				return nestedRows(rows)
			}
		}
		return nestedRows([][]any{x})
	default:
		return nestedRows([][]any{{v}})
	}
}

func nestedRows(rows [][]any) (*Nested, error) {
	g, err := GridOf(rows)
	if err != nil {
		return nil, err
	}
	p, err := NewPayload(g)
	if err != nil {
		return nil, err
	}
	return NestedLeaf(p), nil
}

// MarshalJSON writes null, a 2-D array, or an object in key order.
func (n *Nested) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Nested) writeJSON(buf *bytes.Buffer) error {
	switch {
	case n.IsNull():
		buf.WriteString("null")
		return nil
	case n.IsLeaf():
		b, err := json.Marshal(n.leaf.Table())
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
	buf.WriteByte('{')
	for i, k := range n.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if err := n.children[k].writeJSON(buf); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// UnmarshalJSON reads the wire form, keeping object key order.
func (n *Nested) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	out, err := decodeNested(dec)
	if err != nil {
		return err
	}
	*n = *out
	return nil
}

func decodeNested(dec *json.Decoder) (*Nested, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			out := NestedMap()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", kt)
				}
				child, err := decodeNested(dec)
				if err != nil {
					return nil, err
				}
				if _, dup := out.children[key]; dup {
					return nil, fmt.Errorf("%w: duplicate key %q", ErrKeyCollision, key)
				}
				out.Set(key, child)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return out, nil
		case '[':
			rows, err := decodeRows(dec)
			if err != nil {
				return nil, err
			}
			return nestedRows(rows)
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case nil:
		return NestedNull(), nil
	default:
		return nestedRows([][]any{{t}})
	}
}

// decodeRows reads the remainder of an array whose '[' was consumed. An
// array of arrays is a list of rows; an array of scalars is one row.
func decodeRows(dec *json.Decoder) ([][]any, error) {
	var rows [][]any
	var flat []any
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if d, ok := tok.(json.Delim); ok {
			if d != '[' {
				return nil, fmt.Errorf("%w: nested objects are not cells", ErrTypeMismatch)
			}
			if flat != nil {
				return nil, fmt.Errorf("%w: mixed rows and scalars", ErrIrregularShape)
			}
			row, err := decodeScalars(dec)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
			continue
		}
		if rows != nil {
			return nil, fmt.Errorf("%w: mixed rows and scalars", ErrIrregularShape)
		}
		flat = append(flat, tok)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if flat != nil {
		return [][]any{flat}, nil
	}
	if rows == nil {
		rows = [][]any{}
	}
	return rows, nil
}

func decodeScalars(dec *json.Decoder) ([]any, error) {
	row := []any{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if _, ok := tok.(json.Delim); ok {
			return nil, fmt.Errorf("%w: cells must be scalars", ErrTypeMismatch)
		}
		row = append(row, tok)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return row, nil
}

// GridFromJSON decodes a JSON array into a Grid without shape checks, so
// that Rules.CheckShape can reject irregular input at the boundary. A flat
// array is one row and a scalar a single cell.
func GridFromJSON(data []byte) (Grid, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Grid{}, nil
		}
		return nil, err
	}
	var rows [][]any
	switch t := tok.(type) {
	case json.Delim:
		if t != '[' {
			return nil, fmt.Errorf("%w: expected an array", ErrTypeMismatch)
		}
		rows, err = decodeRows(dec)
		if err != nil {
			return nil, err
		}
	case nil:
		return Grid{}, nil
	default:
		rows = [][]any{{t}}
	}
	return GridOf(rows)
}

// MarshalYAML renders mappings as ordered YAML maps and leaves as
// sequences of flow-style rows.
func (n *Nested) MarshalYAML() (any, error) {
	return n.yamlNode()
}

func (n *Nested) yamlNode() (*yaml.Node, error) {
	switch {
	case n.IsNull():
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	case n.IsLeaf():
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, row := range n.leaf.Table() {
			r := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
			for _, c := range row {
				var cn yaml.Node
				if err := cn.Encode(c.Value()); err != nil {
					return nil, err
				}
				r.Content = append(r.Content, &cn)
			}
			seq.Content = append(seq.Content, r)
		}
		return seq, nil
	}
	m := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range n.keys {
		child, err := n.children[k].yamlNode()
		if err != nil {
			return nil, err
		}
		m.Content = append(m.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			child)
	}
	return m, nil
}

// UnmarshalYAML reads the form written by MarshalYAML, keeping key order.
func (n *Nested) UnmarshalYAML(value *yaml.Node) error {
	out, err := nestedFromYAML(value)
	if err != nil {
		return err
	}
	*n = *out
	return nil
}

func nestedFromYAML(v *yaml.Node) (*Nested, error) {
	switch v.Kind {
	case yaml.DocumentNode:
		if len(v.Content) == 0 {
			return NestedNull(), nil
		}
		return nestedFromYAML(v.Content[0])
	case yaml.AliasNode:
		return nestedFromYAML(v.Alias)
	case yaml.MappingNode:
		out := NestedMap()
		for i := 0; i+1 < len(v.Content); i += 2 {
			key := v.Content[i].Value
			if _, dup := out.children[key]; dup {
				return nil, fmt.Errorf("%w: duplicate key %q", ErrKeyCollision, key)
			}
			child, err := nestedFromYAML(v.Content[i+1])
			if err != nil {
				return nil, err
			}
			out.Set(key, child)
		}
		return out, nil
	case yaml.SequenceNode:
		var raw any
		if err := v.Decode(&raw); err != nil {
			return nil, err
		}
		return NestedOf(raw)
	default:
		if v.Tag == "!!null" {
			return NestedNull(), nil
		}
		var raw any
		if err := v.Decode(&raw); err != nil {
			return nil, err
		}
		return NestedOf(raw)
	}
}
