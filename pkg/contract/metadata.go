// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// Metadata is an insertion-ordered map of string keys to opaque JSON values.
// Values are kept as raw JSON, so key order and number text survive round
// trips; whitespace inside values is compacted.
// A Metadata reachable from a Contract is never mutated.
type Metadata struct {
	m *orderedmap.OrderedMap[string, json.RawMessage]
}

func newMetadata() *Metadata {
	return &Metadata{m: orderedmap.New[string, json.RawMessage]()}
}

// Len returns the number of entries.
func (md *Metadata) Len() int {
	if md == nil || md.m == nil {
		return 0
	}
	return md.m.Len()
}

// Keys returns the keys in insertion order.
func (md *Metadata) Keys() []string {
	keys := make([]string, 0, md.Len())
	md.Range(func(key string, _ json.RawMessage) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Raw returns a copy of the raw JSON value stored under key.
func (md *Metadata) Raw(key string) (json.RawMessage, bool) {
	if md.Len() == 0 {
		return nil, false
	}
	v, ok := md.m.Get(key)
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

// Decode unmarshals the value stored under key into v.
func (md *Metadata) Decode(key string, v any) error {
	raw, ok := md.Raw(key)
	if !ok {
		return fmt.Errorf("metadata key %q not present", key)
	}
	return json.Unmarshal(raw, v)
}

// Range calls fn for each entry in insertion order until fn returns false.
func (md *Metadata) Range(fn func(key string, raw json.RawMessage) bool) {
	if md.Len() == 0 {
		return
	}
	for pair := md.m.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, bytes.Clone(pair.Value)) {
			return
		}
	}
}

func (md *Metadata) set(key string, raw json.RawMessage) {
	if md.m == nil {
		md.m = orderedmap.New[string, json.RawMessage]()
	}
	md.m.Set(key, bytes.Clone(raw))
}

func (md *Metadata) clone() *Metadata {
	out := newMetadata()
	md.Range(func(key string, raw json.RawMessage) bool {
		out.set(key, raw)
		return true
	})
	return out
}

// MarshalJSON writes entries in insertion order with each value compacted.
func (md *Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	i := 0
	var err error
	md.Range(func(key string, raw json.RawMessage) bool {
		if i > 0 {
			buf.WriteByte(',')
		}
		i++
		var k []byte
		if k, err = json.Marshal(key); err != nil {
			return false
		}
		buf.Write(k)
		buf.WriteByte(':')
		var compact bytes.Buffer
		if err = json.Compact(&compact, raw); err != nil {
			return false
		}
		buf.Write(compact.Bytes())
		return true
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping key order and raw values.
func (md *Metadata) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		md.m = orderedmap.New[string, json.RawMessage]()
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("metadata: expected object, got %v", tok)
	}
	m := orderedmap.New[string, json.RawMessage]()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("metadata: expected string key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("metadata %q: %w", key, err)
		}
		m.Set(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	md.m = m
	return nil
}

// MarshalYAML emits entries as an ordered YAML mapping. JSON is a YAML
// subset, so each raw value parses directly into a node.
func (md *Metadata) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	var err error
	md.Range(func(key string, raw json.RawMessage) bool {
		var doc yaml.Node
		if err = yaml.Unmarshal(raw, &doc); err != nil {
			err = fmt.Errorf("metadata %q: %w", key, err)
			return false
		}
		value := &doc
		if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
			value = doc.Content[0]
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			value,
		)
		return true
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// UnmarshalYAML reads an ordered YAML mapping, converting each value to JSON
// without reordering nested mappings.
func (md *Metadata) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		md.m = orderedmap.New[string, json.RawMessage]()
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("metadata: line %d: expected mapping", node.Line)
	}
	m := orderedmap.New[string, json.RawMessage]()
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var buf bytes.Buffer
		if err := yamlNodeToJSON(&buf, node.Content[i+1]); err != nil {
			return fmt.Errorf("metadata %q: %w", key, err)
		}
		m.Set(key, buf.Bytes())
	}
	md.m = m
	return nil
}

func yamlNodeToJSON(buf *bytes.Buffer, node *yaml.Node) error {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return yamlNodeToJSON(buf, node.Content[0])
	case yaml.AliasNode:
		return yamlNodeToJSON(buf, node.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(node.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(node.Content[i].Value)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := yamlNodeToJSON(buf, node.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range node.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := yamlNodeToJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case yaml.ScalarNode:
		return yamlScalarToJSON(buf, node)
	default:
		return fmt.Errorf("unsupported yaml node kind %d", node.Kind)
	}
}

func yamlScalarToJSON(buf *bytes.Buffer, node *yaml.Node) error {
	switch node.ShortTag() {
	case "!!null":
		buf.WriteString("null")
		return nil
	case "!!bool":
		b, err := strconv.ParseBool(node.Value)
		if err != nil {
			var v bool
			if err := node.Decode(&v); err != nil {
				return err
			}
			b = v
		}
		buf.WriteString(strconv.FormatBool(b))
		return nil
	case "!!int", "!!float":
		if json.Valid([]byte(node.Value)) {
			buf.WriteString(node.Value)
			return nil
		}
		var v any
		if err := node.Decode(&v); err != nil {
			return err
		}
		out, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(out)
		return nil
	default:
		out, err := json.Marshal(node.Value)
		if err != nil {
			return err
		}
		buf.Write(out)
		return nil
	}
}
