// Package frontmatter reads and writes the document file format: an optional
// leading YAML block delimited by "---" lines followed by a Markdown body.
package frontmatter

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Reserved metadata keys.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	// FieldTitle is the virtual key holding the first heading of the body.
	// It is computed on load and never written.
	FieldTitle = "_title"
)

const delimiter = "---"

var (
	ErrUnclosedFrontmatter = errors.New("unclosed frontmatter")
	ErrInvalidYAML         = errors.New("invalid frontmatter yaml")
)

// dateLikeRe matches scalars that a YAML parser would read as a timestamp.
var dateLikeRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([Tt ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?\s*([Zz]|[+-]\d{2}(:?\d{2})?)?)?$`)

// Parse splits data into metadata and content. Input without a leading
// delimiter line has empty metadata and is returned whole as content.
func Parse(data []byte) (map[string]any, string, error) {
	text := string(data)
	meta := map[string]any{}

	first, rest, _ := cutLine(text)
	if first != delimiter {
		return meta, text, nil
	}

	var block strings.Builder
	for {
		line, remainder, ok := cutLine(rest)
		if line == delimiter {
			rest = remainder
			break
		}
		if !ok {
			return nil, "", ErrUnclosedFrontmatter
		}
		block.WriteString(line)
		block.WriteByte('\n')
		rest = remainder
	}

	meta, err := decode(block.String())
	if err != nil {
		return nil, "", err
	}

	switch {
	case strings.HasPrefix(rest, "\r\n"):
		rest = rest[2:]
	case strings.HasPrefix(rest, "\n"):
		rest = rest[1:]
	}
	return meta, rest, nil
}

// cutLine returns the first line of s without its terminator, the remainder
// after the terminator, and whether a terminator was found.
func cutLine(s string) (string, string, bool) {
	idx := strings.IndexByte(s, '\n')
	if idx < 0 {
		return strings.TrimSuffix(s, "\r"), "", false
	}
	return strings.TrimSuffix(s[:idx], "\r"), s[idx+1:], true
}

func decode(block string) (map[string]any, error) {
	meta := map[string]any{}
	if strings.TrimSpace(block) == "" {
		return meta, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(block), &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if len(root.Content) == 0 {
		return meta, nil
	}
	if root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level is not a mapping", ErrInvalidYAML)
	}

	keepTimestampsAsStrings(&root)
	if err := root.Decode(&meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return meta, nil
}

func keepTimestampsAsStrings(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!timestamp" {
		n.Tag = "!!str"
	}
	for _, child := range n.Content {
		keepTimestampsAsStrings(child)
	}
}

// Serialize renders metadata and content back into the file format. Keys are
// written id first, created_at second, then alphabetically.
func Serialize(meta map[string]any, content string) ([]byte, error) {
	fields := make(map[string]any, len(meta))
	for k, v := range meta {
		if k == FieldTitle {
			continue
		}
		fields[k] = v
	}
	if len(fields) == 0 {
		return []byte(content), nil
	}

	mapping := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, key := range orderedKeys(fields) {
		value, err := encodeValue(fields[key])
		if err != nil {
			return nil, fmt.Errorf("frontmatter: encode %q: %w", key, err)
		}
		mapping.Content = append(mapping.Content, keyNode(key), value)
	}

	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(mapping); err != nil {
		return nil, fmt.Errorf("frontmatter: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("frontmatter: encode: %w", err)
	}
	buf.WriteString(delimiter + "\n\n")
	buf.WriteString(content)
	return buf.Bytes(), nil
}

func orderedKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == FieldID || k == FieldCreatedAt {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	head := make([]string, 0, 2)
	if _, ok := fields[FieldID]; ok {
		head = append(head, FieldID)
	}
	if _, ok := fields[FieldCreatedAt]; ok {
		head = append(head, FieldCreatedAt)
	}
	return append(head, keys...)
}

func keyNode(key string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
}

// encodeValue builds the YAML node for one metadata value so that parsing it
// back yields the same Go value: date-like strings are double quoted and whole
// floats keep a fractional part.
func encodeValue(v any) (*yaml.Node, error) {
	switch t := v.(type) {
	case map[string]any:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child, err := encodeValue(t[k])
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, keyNode(k), child)
		}
		return n, nil
	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range t {
			child, err := encodeValue(item)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, child)
		}
		return n, nil
	case float64:
		return floatNode(t), nil
	case float32:
		return floatNode(float64(t)), nil
	case time.Time:
		return encodeValue(t.Format(time.RFC3339))
	case *time.Time:
		if t == nil {
			return encodeValue(nil)
		}
		return encodeValue(t.Format(time.RFC3339))
	}

	n := &yaml.Node{}
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!str" && dateLikeRe.MatchString(n.Value) {
		n.Style = yaml.DoubleQuotedStyle
	}
	return n, nil
}

func floatNode(f float64) *yaml.Node {
	var s string
	switch {
	case math.IsInf(f, 1):
		s = ".inf"
	case math.IsInf(f, -1):
		s = "-.inf"
	case math.IsNaN(f):
		s = ".nan"
	default:
		s = strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: s}
}

// LooksLikeDate reports whether s has the shape of an ISO-8601 date or
// date-time.
func LooksLikeDate(s string) bool {
	return dateLikeRe.MatchString(s)
}
