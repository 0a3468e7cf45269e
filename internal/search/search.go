// Package search runs structured (field:value) and ranked full-text queries
// over a repository's documents.
package search

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/starford/mdbase/internal/frontmatter"
	"github.com/starford/mdbase/internal/models"
	"github.com/starford/mdbase/internal/repository"
	"github.com/starford/mdbase/internal/schema"
)

// Tiers, strongest first.
const (
	TierExactName = iota + 1
	TierNamePrefix
	TierNameSubstring
	TierNameAllTerms
	TierMetadata
	TierContent
)

// Source is the document set searched.
type Source interface {
	CollectAll(ctx context.Context, filters ...repository.Filter) ([]models.Record, error)
	Schemas(ctx context.Context) (map[string]*schema.Collection, error)
	TemplatesCollection() string
}

// Row is the tabular view of a document.
type Row struct {
	Path       string `json:"path"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Name       string `json:"name"`
}

// RowOf builds the row for rec using the collection's title field.
func RowOf(rec models.Record, titleField string) Row {
	return Row{
		Path:       rec.Path,
		Collection: rec.Document.Collection(),
		ID:         rec.Document.ID(),
		Name:       rec.Document.DisplayName(titleField),
	}
}

// Hit is one matching document.
type Hit struct {
	Row
	// Tier is 0 for structured matches.
	Tier   int           `json:"tier"`
	Record models.Record `json:"-"`
}

// Results is the answer to a query.
type Results struct {
	Query      string `json:"query"`
	Structured bool   `json:"structured"`
	Hits       []Hit  `json:"hits"`
	// Top is the single best hit, nil when none exists or several tie.
	Top *Hit `json:"top,omitempty"`
	// Ambiguous lists the hits tied for the best tier when Top is nil.
	Ambiguous []Hit `json:"ambiguous,omitempty"`
}

// Service searches a Source.
type Service struct {
	src Source
}

// NewService creates a search service.
func NewService(src Source) *Service {
	return &Service{src: src}
}

var structuredRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.-]*):(.+)$`)

// ParseStructured splits a field:value query. ok is false for free text.
func ParseStructured(q string) (field, value string, ok bool) {
	m := structuredRe.FindStringSubmatch(strings.TrimSpace(q))
	if m == nil {
		return "", "", false
	}
	value = strings.TrimSpace(m[2])
	if value == "" {
		return "", "", false
	}
	return m[1], value, true
}

// Query dispatches q to structured search when it has the field:value form
// and the field is declared by a schema or set on some document. Anything
// else, such as a URL, goes to full-text search.
func (s *Service) Query(ctx context.Context, q string) (*Results, error) {
	res := &Results{Query: q}
	field, value, ok := ParseStructured(q)
	if ok {
		known, err := s.knownField(ctx, field)
		if err != nil {
			return nil, err
		}
		ok = known
	}
	var err error
	if ok {
		res.Structured = true
		res.Hits, err = s.Structured(ctx, field, value)
	} else {
		res.Hits, err = s.FullText(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	res.Top, res.Ambiguous = TopResult(res.Hits)
	return res, nil
}

func (s *Service) knownField(ctx context.Context, field string) (bool, error) {
	schemas, err := s.src.Schemas(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range schemas {
		if c == nil {
			continue
		}
		if _, ok := c.Fields[field]; ok {
			return true, nil
		}
	}
	recs, err := s.src.CollectAll(ctx, repository.HasField(field))
	if err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}

// Structured returns documents whose field equals value exactly. Documents in
// the templates collection are excluded.
func (s *Service) Structured(ctx context.Context, field, value string) ([]Hit, error) {
	recs, err := s.src.CollectAll(ctx,
		repository.Not(repository.InCollection(s.src.TemplatesCollection())),
		repository.FieldEquals(field, value),
	)
	if err != nil {
		return nil, err
	}
	titles, err := s.titleFields(ctx)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(recs))
	for _, rec := range recs {
		hits = append(hits, Hit{Row: RowOf(rec, titles[rec.Document.Collection()]), Record: rec})
	}
	return hits, nil
}

// FullText ranks every non-template document against q. Hits are ordered by
// tier, then display name, then path.
func (s *Service) FullText(ctx context.Context, q string) ([]Hit, error) {
	needle := strings.ToLower(strings.TrimSpace(q))
	if needle == "" {
		return nil, nil
	}
	recs, err := s.src.CollectAll(ctx, repository.Not(repository.InCollection(s.src.TemplatesCollection())))
	if err != nil {
		return nil, err
	}
	titles, err := s.titleFields(ctx)
	if err != nil {
		return nil, err
	}
	terms := strings.Fields(needle)
	var hits []Hit
	for _, rec := range recs {
		row := RowOf(rec, titles[rec.Document.Collection()])
		if tier := score(rec, strings.ToLower(row.Name), needle, terms); tier > 0 {
			hits = append(hits, Hit{Row: row, Tier: tier, Record: rec})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		if an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name); an != bn {
			return an < bn
		}
		return a.Path < b.Path
	})
	return hits, nil
}

func score(rec models.Record, name, needle string, terms []string) int {
	switch {
	case name == needle:
		return TierExactName
	case strings.HasPrefix(name, needle):
		return TierNamePrefix
	case strings.Contains(name, needle):
		return TierNameSubstring
	case len(terms) > 1 && containsAll(name, terms):
		return TierNameAllTerms
	case metadataContains(rec.Document.Metadata, needle):
		return TierMetadata
	case strings.Contains(strings.ToLower(rec.Document.Content), needle):
		return TierContent
	}
	return 0
}

func containsAll(s string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(s, t) {
			return false
		}
	}
	return true
}

func metadataContains(meta models.Metadata, needle string) bool {
	for k, v := range meta {
		if k == frontmatter.FieldTitle {
			continue
		}
		if strings.Contains(strings.ToLower(models.Stringify(v)), needle) {
			return true
		}
	}
	return false
}

// TopResult returns the single best hit. When two or more hits share the
// best tier it returns nil and the tied hits.
func TopResult(hits []Hit) (*Hit, []Hit) {
	if len(hits) == 0 {
		return nil, nil
	}
	best := hits[0].Tier
	for _, h := range hits[1:] {
		best = min(best, h.Tier)
	}
	var tied []Hit
	for _, h := range hits {
		if h.Tier == best {
			tied = append(tied, h)
		}
	}
	if len(tied) == 1 {
		top := tied[0]
		return &top, nil
	}
	return nil, tied
}

func (s *Service) titleFields(ctx context.Context) (map[string]string, error) {
	schemas, err := s.src.Schemas(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(schemas))
	for col, sc := range schemas {
		out[col] = sc.Title()
	}
	return out, nil
}
