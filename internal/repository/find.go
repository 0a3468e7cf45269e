package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/mdbase/internal/apperr"
	"github.com/starford/mdbase/internal/models"
)

// Candidate names one of several records matching an ambiguous token.
type Candidate struct {
	Path string `json:"path"`
	ID   string `json:"id"`
}

// AmbiguousError is returned when a token matches more than one record.
// Callers must disambiguate; the repository never picks one.
type AmbiguousError struct {
	Token      string
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = fmt.Sprintf("%s (%s)", c.Path, c.ID)
	}
	return fmt.Sprintf("%v for %q: %s", apperr.ErrAmbiguous, e.Token, strings.Join(parts, ", "))
}

func (e *AmbiguousError) Unwrap() error { return apperr.ErrAmbiguous }

func notFound(token string) error {
	return fmt.Errorf("repository: %q: %w", token, apperr.ErrNotFound)
}

// SplitScope separates an optional "collection/" prefix from token,
// resolving aliases. Tokens without a slash have no scope.
func (r *Repository) SplitScope(token string) (collection, rest string) {
	token = strings.TrimSpace(token)
	before, after, ok := strings.Cut(token, "/")
	if !ok {
		return "", token
	}
	return r.ResolveCollection(before), after
}

// FindByID resolves token to exactly one record. The token may carry a
// collection scope and is compared case-insensitively. An id equal to the
// token wins; otherwise every record whose id or short id starts with the
// token is a candidate.
func (r *Repository) FindByID(ctx context.Context, token string) (models.Record, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return models.Record{}, err
	}
	scope, rest := r.SplitScope(token)
	needle := strings.ToLower(rest)
	if needle == "" {
		return models.Record{}, notFound(token)
	}

	var exact, prefix []int
	for i, rec := range snap.Records {
		if scope != "" && rec.Document.Collection() != scope {
			continue
		}
		id := strings.ToLower(rec.Document.ID())
		if id == "" {
			continue
		}
		short := models.ShortID(id, snap.Schemas[rec.Document.Collection()].ShortIDLen())
		switch {
		case id == needle:
			exact = append(exact, i)
		case strings.HasPrefix(id, needle), strings.HasPrefix(short, needle):
			prefix = append(prefix, i)
		}
	}

	matches := exact
	if len(matches) == 0 {
		matches = prefix
	}
	switch len(matches) {
	case 0:
		return models.Record{}, notFound(token)
	case 1:
		return snap.Records[matches[0]].Clone(), nil
	}
	amb := &AmbiguousError{Token: token}
	for _, i := range matches {
		rec := snap.Records[i]
		amb.Candidates = append(amb.Candidates, Candidate{Path: rec.Path, ID: rec.Document.ID()})
	}
	return models.Record{}, amb
}
