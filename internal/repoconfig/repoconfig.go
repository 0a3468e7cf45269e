// Package repoconfig reads and writes the repository configuration file
// stored at the root of a document tree.
package repoconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/mdbase/internal/storage"
)

// FileName is the configuration file at the repository root.
const FileName = ".mdbase.yaml"

// DefaultTemplatesCollection holds document templates excluded from search.
const DefaultTemplatesCollection = "templates"

// DefaultIgnore is used when the file does not list ignore patterns.
var DefaultIgnore = []string{".DS_Store", "Thumbs.db"}

// Config is the repository configuration. Keys it does not know are kept in
// Extra and written back unchanged.
type Config struct {
	Aliases             map[string]string `yaml:"aliases,omitempty"`
	Ignore              []string          `yaml:"ignore,omitempty"`
	RepositoryID        string            `yaml:"repository_id,omitempty"`
	TemplatesCollection string            `yaml:"templates_collection,omitempty"`
	Extra               map[string]any    `yaml:",inline"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Ignore:              append([]string(nil), DefaultIgnore...),
		TemplatesCollection: DefaultTemplatesCollection,
	}
}

// Validate checks alias targets and ignore patterns.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Aliases, validation.Each(validation.Required, validation.By(plainName))),
		validation.Field(&c.Ignore, validation.Each(validation.Required, validation.By(validPattern))),
		validation.Field(&c.TemplatesCollection, validation.By(plainName)),
	)
}

func plainName(v any) error {
	s, _ := v.(string)
	if strings.ContainsAny(s, `/\`) {
		return errors.New("must be a top-level collection name")
	}
	return nil
}

func validPattern(v any) error {
	s, _ := v.(string)
	if !doublestar.ValidatePattern(s) {
		return errors.New("invalid glob pattern")
	}
	return nil
}

// Parse decodes configuration bytes, filling defaults for absent keys.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("repoconfig: parse: %w", err)
	}
	if c.Ignore == nil {
		c.Ignore = append([]string(nil), DefaultIgnore...)
	}
	if c.TemplatesCollection == "" {
		c.TemplatesCollection = DefaultTemplatesCollection
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("repoconfig: %w", err)
	}
	return c, nil
}

// Load reads the configuration from fsys. A missing file yields Default.
func Load(fsys storage.FS) (*Config, error) {
	data, err := fsys.ReadFile(FileName)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("repoconfig: %w", err)
	}
	return Parse(data)
}

// Save writes c to fsys.
func Save(fsys storage.FS, c *Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("repoconfig: encode: %w", err)
	}
	if err := fsys.WriteFile(FileName, data); err != nil {
		return fmt.Errorf("repoconfig: %w", err)
	}
	return nil
}

// Resolve maps an alias to its collection. Unknown names are returned as is.
func (c *Config) Resolve(name string) string {
	if c == nil {
		return name
	}
	if target, ok := c.Aliases[name]; ok {
		return target
	}
	if target, ok := c.Aliases[strings.ToLower(name)]; ok {
		return target
	}
	return name
}

// Ignored reports whether the repository-relative slash path rel matches an
// ignore pattern. Patterns without a slash match any path segment; patterns
// with one match the whole path.
func (c *Config) Ignored(rel string) bool {
	if c == nil {
		return false
	}
	base := path.Base(rel)
	for _, p := range c.Ignore {
		if strings.Contains(p, "/") {
			if ok, _ := doublestar.Match(p, rel); ok {
				return true
			}
			continue
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}
