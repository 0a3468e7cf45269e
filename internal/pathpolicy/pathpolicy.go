// Package pathpolicy computes the canonical location of a document from its
// collection schema and metadata.
package pathpolicy

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/starford/mdbase/internal/frontmatter"
	"github.com/starford/mdbase/internal/models"
	"github.com/starford/mdbase/internal/schema"
	"github.com/starford/mdbase/internal/slugtmpl"
)

// Template value keys derived by the policy rather than read from metadata.
const (
	KeyShortID = "short_id"
	KeyDate    = "date"
)

// Policy computes canonical paths. The zero value uses the wall clock.
type Policy struct {
	// Now supplies "today" for slugs referencing {{date}} when the document
	// has no date field.
	Now func() time.Time
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Values builds the template value map for a document.
func (p Policy) Values(s *schema.Collection, id string, fields map[string]any, content string) map[string]string {
	values := make(map[string]string, len(fields)+3)
	for k, v := range fields {
		if v == nil {
			continue
		}
		values[k] = models.Stringify(v)
	}
	values[frontmatter.FieldID] = id
	values[KeyShortID] = models.ShortID(id, s.ShortIDLen())
	if d := strings.TrimSpace(values[KeyDate]); d == "" {
		values[KeyDate] = p.now().Format(time.DateOnly)
	}
	if t := frontmatter.Title(content); t != "" {
		values[frontmatter.FieldTitle] = t
	}
	return values
}

// Slugify lowercases s, collapses runs of characters that are not letters or
// digits into a single hyphen and trims hyphens at the ends. Slashes separate
// segments that are slugified independently; empty segments are dropped.
func Slugify(s string) string {
	segments := strings.Split(s, "/")
	out := segments[:0]
	for _, seg := range segments {
		if seg = slugifySegment(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/")
}

func slugifySegment(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}

// GenerateFilename renders the collection's slug template with slugified
// values. ".md" is appended unless the template already produced it.
func GenerateFilename(s *schema.Collection, values map[string]string) (string, error) {
	if s == nil || s.Slug == "" {
		return "", fmt.Errorf("pathpolicy: collection has no slug template")
	}
	slugged := make(map[string]string, len(values))
	for k, v := range values {
		slugged[k] = Slugify(v)
	}
	name, err := slugtmpl.Render(s.Slug, slugged)
	if err != nil {
		return "", fmt.Errorf("pathpolicy: render slug: %w", err)
	}
	if name == "" || name == ".md" {
		return "", fmt.Errorf("pathpolicy: slug %q rendered an empty name", s.Slug)
	}
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	return name, nil
}

// CanonicalPath returns where doc belongs inside collection. Folder
// documents and collections with an index file use the folder path without
// the ".md" suffix.
func (p Policy) CanonicalPath(collection string, s *schema.Collection, doc *models.Document) (string, error) {
	values := p.Values(s, doc.ID(), doc.Metadata, doc.Content)
	name, err := GenerateFilename(s, values)
	if err != nil {
		return "", err
	}
	canonical := path.Join(collection, name)
	if s.HasIndexFile() || doc.IsFolder {
		canonical = strings.TrimSuffix(canonical, ".md")
	}
	return canonical, nil
}

// ContentPath returns the file holding the Markdown for a canonical path.
func ContentPath(canonical string, s *schema.Collection, isFolder bool) string {
	if s.HasIndexFile() || isFolder {
		return path.Join(canonical, s.IndexFileName())
	}
	return canonical
}

// DependsOn reports which metadata fields the collection's slug template
// reads. Editing any of them can move the document.
func DependsOn(s *schema.Collection) []string {
	if s == nil || s.Slug == "" {
		return nil
	}
	fields, err := slugtmpl.ExtractPlaceholders(s.Slug)
	if err != nil {
		return nil
	}
	return fields
}
