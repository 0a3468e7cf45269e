// Package models defines the domain types for mdbase.
package models

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/starford/mdbase/internal/frontmatter"
)

// DefaultShortIDLength is the number of trailing id characters used as the
// short id when a schema does not configure one.
const DefaultShortIDLength = 6

// Metadata is the raw frontmatter of a document. It is the source of truth
// for every field, including ones no schema declares.
type Metadata map[string]any

// String returns the value of key formatted as a string, or "" when the key
// is absent or nil.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return Stringify(v)
}

// Has reports whether key is present with a non-nil value.
func (m Metadata) Has(key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Stringify formats a scalar metadata value. Lists are joined with ", ".
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, Stringify(item))
		}
		return strings.Join(parts, ", ")
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

// Document is a parsed Markdown document.
type Document struct {
	// Path is the repository-relative slash path of the file, or of the
	// directory for folder documents.
	Path     string
	Metadata Metadata
	Content  string
	IsFolder bool
}

// Collection returns the top-level directory the document lives in.
func (d *Document) Collection() string {
	return CollectionOf(d.Path)
}

// ID returns the document's unique identifier, or "" if it has none.
func (d *Document) ID() string {
	return d.Metadata.String(frontmatter.FieldID)
}

// ShortID returns the trailing n characters of the id. A non-positive n uses
// the default length; ids shorter than n are returned whole.
func (d *Document) ShortID(n int) string {
	return ShortID(d.ID(), n)
}

// Title returns the virtual first-heading field.
func (d *Document) Title() string {
	return d.Metadata.String(frontmatter.FieldTitle)
}

// Name returns the filename stem: the base name without the .md suffix.
func (d *Document) Name() string {
	return strings.TrimSuffix(path.Base(d.Path), ".md")
}

// DisplayName returns the human facing name: the configured title field,
// then "name", "title", the first heading and finally the filename stem.
func (d *Document) DisplayName(titleField string) string {
	for _, key := range []string{titleField, "name", "title", frontmatter.FieldTitle} {
		if key == "" {
			continue
		}
		if s := strings.TrimSpace(d.Metadata.String(key)); s != "" {
			return s
		}
	}
	return d.Name()
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	d.Metadata = d.Metadata.Clone()
	return d
}

// ShortID returns the trailing n characters of id.
func ShortID(id string, n int) string {
	if n <= 0 {
		n = DefaultShortIDLength
	}
	if len(id) <= n {
		return id
	}
	return id[len(id)-n:]
}

// CollectionOf returns the first segment of a repository-relative path, or ""
// for root-level paths.
func CollectionOf(p string) string {
	first, _, ok := strings.Cut(p, "/")
	if !ok {
		return ""
	}
	return first
}
