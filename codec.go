// codec.go: order-preserving YAML/JSON decoding and encoding of documents
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// Format is the on-disk encoding of a document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath detects the document format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch detected := argus.DetectFormat(path); detected {
	case argus.FormatYAML:
		return FormatYAML, nil
	case argus.FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config format %q for %s", detected.String(), path)
	}
}

// Decode parses data into a document. Values that cannot be represented as
// a Value (nested mappings) are quarantined with their original node. A
// missing version field yields the floor version.
func Decode(data []byte, format Format) (*Document, error) {
	root, err := parseRoot(data, format)
	if err != nil {
		return nil, err
	}

	doc := NewDocument(floorVersion)
	if root == nil {
		return doc, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("top-level value is not a mapping")
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valNode := root.Content[i], root.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: mapping key is not a scalar", keyNode.Line)
		}
		key := keyNode.Value

		if key == versionKey {
			version, err := decodeVersion(valNode)
			if err != nil {
				return nil, err
			}
			doc.Version = version
			continue
		}

		v, err := nodeValue(valNode)
		if err != nil {
			doc.Quarantine(key, valNode)
			continue
		}
		doc.Set(key, v)
	}
	return doc, nil
}

func parseRoot(data []byte, format Format) (*yaml.Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	switch format {
	case FormatJSON:
		return parseJSONNode(data)
	case FormatYAML, "":
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
			return doc.Content[0], nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

func decodeVersion(node *yaml.Node) (int, error) {
	v, err := nodeValue(node)
	if err != nil {
		return 0, fmt.Errorf("invalid version field: %w", err)
	}
	coerced, err := Coerce(TypeInt, v)
	if err != nil {
		return 0, fmt.Errorf("invalid version field: %w", err)
	}
	n, _ := coerced.AsInt()
	if n < 1 || n > math.MaxInt32 {
		return 0, fmt.Errorf("invalid version field: %d", n)
	}
	return int(n), nil
}

func nodeValue(node *yaml.Node) (Value, error) {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if node.Kind == yaml.MappingNode {
		return Value{}, errors.New("nested mappings are not supported")
	}
	var raw any
	if err := node.Decode(&raw); err != nil {
		return Value{}, err
	}
	return ValueOf(raw)
}

// parseJSONNode reads JSON into a yaml.Node tree so that both formats share
// one decoding path and object key order survives.
func parseJSONNode(data []byte) (*yaml.Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	node, err := jsonNode(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level JSON value")
	}
	return node, nil
}

func jsonNode(dec *json.Decoder) (*yaml.Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("invalid object key %v", keyTok)
				}
				val, err := jsonNode(dec)
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content, stringNode(key), val)
			}
			_, err := dec.Token()
			return node, err
		case '[':
			node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for dec.More() {
				item, err := jsonNode(dec)
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content, item)
			}
			_, err := dec.Token()
			return node, err
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	case string:
		return stringNode(t), nil
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: t.String()}, nil
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: t.String()}, nil
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(t)}, nil
	case nil:
		return nullNode(), nil
	}
	return nil, fmt.Errorf("unexpected JSON token %v", tok)
}

// Encode serializes doc. The version comes first, known keys follow in schema
// order, quarantined keys are appended as they were read.
func Encode(doc *Document, schema *SchemaRegistry, format Format) ([]byte, error) {
	root := documentNode(doc, schema)
	switch format {
	case FormatJSON:
		var compact bytes.Buffer
		if err := writeJSONNode(&compact, root); err != nil {
			return nil, err
		}
		var out bytes.Buffer
		if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
			return nil, err
		}
		out.WriteByte('\n')
		return out.Bytes(), nil
	case FormatYAML, "":
		var out bytes.Buffer
		enc := yaml.NewEncoder(&out)
		enc.SetIndent(2)
		if err := enc.Encode(root); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

func documentNode(doc *Document, schema *SchemaRegistry) *yaml.Node {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	root.Content = append(root.Content, stringNode(versionKey), valueNode(Int(int64(doc.Version))))
	for _, key := range doc.orderedKeys(schema) {
		v, _ := doc.Get(key)
		root.Content = append(root.Content, stringNode(key), valueNode(v))
	}
	for _, q := range doc.quarantine {
		root.Content = append(root.Content, stringNode(q.Key), q.Node)
	}
	return root
}

func stringNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func nullNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

func valueNode(v Value) *yaml.Node {
	switch v.kind {
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.b)}
	case KindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(v.i, 10)}
	case KindFloat:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: formatFloat(v.f)}
	case KindString:
		return stringNode(v.s)
	case KindList:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.list {
			seq.Content = append(seq.Content, valueNode(item))
		}
		return seq
	default:
		return nullNode()
	}
}

// formatFloat keeps a decimal point on integral floats so they decode as floats again.
func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	case math.IsNaN(f):
		return ".nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func writeJSONNode(w *bytes.Buffer, node *yaml.Node) error {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			w.WriteString("null")
			return nil
		}
		return writeJSONNode(w, node.Content[0])
	case yaml.AliasNode:
		return writeJSONNode(w, node.Alias)
	case yaml.MappingNode:
		w.WriteByte('{')
		for i := 0; i+1 < len(node.Content); i += 2 {
			if i > 0 {
				w.WriteByte(',')
			}
			key, err := json.Marshal(node.Content[i].Value)
			if err != nil {
				return err
			}
			w.Write(key)
			w.WriteByte(':')
			if err := writeJSONNode(w, node.Content[i+1]); err != nil {
				return err
			}
		}
		w.WriteByte('}')
		return nil
	case yaml.SequenceNode:
		w.WriteByte('[')
		for i, item := range node.Content {
			if i > 0 {
				w.WriteByte(',')
			}
			if err := writeJSONNode(w, item); err != nil {
				return err
			}
		}
		w.WriteByte(']')
		return nil
	case yaml.ScalarNode:
		return writeJSONScalar(w, node)
	}
	return fmt.Errorf("unsupported node kind %d", node.Kind)
}

func writeJSONScalar(w *bytes.Buffer, node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if f, ok := raw.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
		raw = nil
	}
	if f, ok := raw.(float64); ok {
		w.WriteString(formatFloat(f))
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	w.Write(encoded)
	return nil
}
