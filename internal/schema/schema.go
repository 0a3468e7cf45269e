// Package schema loads collection schemas (_schema.yaml) and validates
// document metadata against their field definitions.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/mdbase/internal/models"
	"github.com/starford/mdbase/internal/slugtmpl"
)

// FileName is the schema file inside each collection directory.
const FileName = "_schema.yaml"

// DefaultIndexFile holds the content of a folder document when the schema
// does not name one.
const DefaultIndexFile = "index.md"

// Field types.
const (
	TypeString    = "string"
	TypeEmail     = "email"
	TypeCurrency  = "currency"
	TypeCountry   = "country"
	TypeDate      = "date"
	TypeDateTime  = "datetime"
	TypeNumber    = "number"
	TypeBoolean   = "boolean"
	TypeURL       = "url"
	TypeEnum      = "enum"
	TypeReference = "reference"
	TypeArray     = "array"
)

var scalarTypes = []any{
	TypeString, TypeEmail, TypeCurrency, TypeCountry, TypeDate, TypeDateTime,
	TypeNumber, TypeBoolean, TypeURL, TypeEnum, TypeReference,
}

// Field describes one metadata field of a collection.
type Field struct {
	Type     string   `yaml:"type" json:"type"`
	Required bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Default  any      `yaml:"default,omitempty" json:"default,omitempty"`
	Enum     []string `yaml:"enum,omitempty" json:"enum,omitempty"`
	Pattern  string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Min      *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	// Items is the element type of an array field. "array<string>" in Type
	// is shorthand for Type "array" with Items "string".
	Items string `yaml:"items,omitempty" json:"items,omitempty"`
}

// Kind splits the declared type into its base type and array element type.
func (f Field) Kind() (base, item string) {
	t := strings.TrimSpace(strings.ToLower(f.Type))
	if t == "" {
		t = TypeString
	}
	if strings.HasPrefix(t, TypeArray+"<") && strings.HasSuffix(t, ">") {
		return TypeArray, strings.TrimSpace(t[len(TypeArray)+1 : len(t)-1])
	}
	if t == TypeArray {
		return TypeArray, strings.ToLower(f.Items)
	}
	return t, ""
}

// Validate checks the definition itself.
func (f Field) Validate() error {
	base, item := f.Kind()
	if base != TypeArray {
		if err := validation.Validate(base, validation.In(scalarTypes...)); err != nil {
			return fmt.Errorf("unknown type %q", f.Type)
		}
	} else if item != "" {
		if err := validation.Validate(item, validation.In(scalarTypes...)); err != nil {
			return fmt.Errorf("unknown array item type %q", item)
		}
	}
	if base == TypeEnum && len(f.Enum) == 0 {
		return fmt.Errorf("enum field needs values")
	}
	if f.Pattern != "" {
		if _, err := regexp.Compile(f.Pattern); err != nil {
			return fmt.Errorf("pattern: %w", err)
		}
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("min %v greater than max %v", *f.Min, *f.Max)
	}
	return nil
}

// Collection is the schema governing one collection.
type Collection struct {
	Slug          string            `yaml:"slug" json:"slug"`
	ShortIDLength int               `yaml:"short_id_length,omitempty" json:"short_id_length,omitempty"`
	TitleField    string            `yaml:"title_field,omitempty" json:"title_field,omitempty"`
	IndexFile     string            `yaml:"index_file,omitempty" json:"index_file,omitempty"`
	Fields        map[string]Field  `yaml:"fields,omitempty" json:"fields,omitempty"`
	References    map[string]string `yaml:"references,omitempty" json:"references,omitempty"`
}

// Parse decodes and validates a schema file.
func Parse(data []byte) (*Collection, error) {
	var c Collection
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return &c, nil
}

// Validate checks the schema definition.
func (c *Collection) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Slug, validation.By(validTemplate)),
		validation.Field(&c.ShortIDLength, validation.Min(0), validation.Max(32)),
		validation.Field(&c.IndexFile, validation.By(validIndexFile)),
		validation.Field(&c.Fields),
	)
}

func validTemplate(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	_, err := slugtmpl.ExtractPlaceholders(s)
	return err
}

func validIndexFile(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if strings.Contains(s, "/") || !strings.HasSuffix(s, ".md") {
		return fmt.Errorf("must be a plain .md file name")
	}
	return nil
}

// ShortIDLen returns the configured short id length or the default.
func (c *Collection) ShortIDLen() int {
	if c == nil || c.ShortIDLength <= 0 {
		return models.DefaultShortIDLength
	}
	return c.ShortIDLength
}

// HasIndexFile reports whether the collection uses the folder-per-document
// layout.
func (c *Collection) HasIndexFile() bool {
	return c != nil && c.IndexFile != ""
}

// IndexFileName returns the file holding a folder document's content.
func (c *Collection) IndexFileName() string {
	if c.HasIndexFile() {
		return c.IndexFile
	}
	return DefaultIndexFile
}

// Title returns the configured title field, or "".
func (c *Collection) Title() string {
	if c == nil {
		return ""
	}
	return c.TitleField
}

// ReferenceFields maps every reference field to its target collection. Fields
// typed "reference" without an entry in References map to "".
func (c *Collection) ReferenceFields() map[string]string {
	out := make(map[string]string)
	if c == nil {
		return out
	}
	for name, f := range c.Fields {
		if base, item := f.Kind(); base == TypeReference || item == TypeReference {
			out[name] = ""
		}
	}
	for name, target := range c.References {
		out[name] = target
	}
	return out
}

// ApplyDefaults sets every absent field that declares a default.
func (c *Collection) ApplyDefaults(meta map[string]any) {
	if c == nil {
		return
	}
	for name, f := range c.Fields {
		if f.Default == nil {
			continue
		}
		if v, ok := meta[name]; ok && v != nil {
			continue
		}
		meta[name] = f.Default
	}
}
