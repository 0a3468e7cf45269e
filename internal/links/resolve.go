package links

import (
	"strings"

	"github.com/starford/mdbase/internal/models"
)

// Strategy names one way a token can match a record.
type Strategy string

// Strategies in the order Resolve evaluates them.
const (
	ExactID        Strategy = "exact-id"
	IDPrefix       Strategy = "id-prefix"
	ShortIDPrefix  Strategy = "short-id-prefix"
	CollectionName Strategy = "collection-name"
	BareName       Strategy = "name"
)

// Strategies is the fixed evaluation order.
var Strategies = []Strategy{ExactID, IDPrefix, ShortIDPrefix, CollectionName, BareName}

// Options tune resolution.
type Options struct {
	// ShortIDLength returns the short id length of a collection. Nil uses
	// the default for every collection.
	ShortIDLength func(collection string) int
	// Alias maps a scope prefix to its collection. Nil means no aliases.
	Alias func(name string) string
	// Collection restricts candidates when the token has no scope of its own.
	Collection string
	// Exclude skips the record with this path (usually the link's source).
	Exclude string
}

func (o Options) shortLen(collection string) int {
	if o.ShortIDLength == nil {
		return models.DefaultShortIDLength
	}
	return o.ShortIDLength(collection)
}

func (o Options) alias(name string) string {
	if o.Alias == nil {
		return name
	}
	return o.Alias(name)
}

// Result is the outcome of resolving one token.
type Result struct {
	// Strategy is the first strategy that produced matches, or "" if none.
	Strategy Strategy
	// Matches are indexes into the record slice passed to Resolve.
	Matches []int
}

// Resolved reports whether exactly one record matched.
func (r Result) Resolved() bool { return len(r.Matches) == 1 }

// Ambiguous reports whether several records matched.
func (r Result) Ambiguous() bool { return len(r.Matches) > 1 }

// Resolve evaluates the strategies in order over records. The first strategy
// that matches anything decides the result; a link resolves only when that
// strategy matched exactly one record.
func Resolve(records []models.Record, token string, opts Options) Result {
	scope, rest := splitToken(token)
	if scope != "" {
		scope = opts.alias(scope)
	} else {
		scope = opts.Collection
	}
	needle := strings.ToLower(strings.TrimSpace(rest))
	if needle == "" {
		return Result{}
	}

	for _, strategy := range Strategies {
		if strategy == CollectionName && scope == "" {
			continue
		}
		var matches []int
		for i := range records {
			rec := &records[i]
			if rec.Path == opts.Exclude && opts.Exclude != "" {
				continue
			}
			col := rec.Document.Collection()
			if scope != "" && col != scope {
				continue
			}
			if matchStrategy(strategy, rec, col, needle, opts) {
				matches = append(matches, i)
			}
		}
		if len(matches) > 0 {
			return Result{Strategy: strategy, Matches: matches}
		}
	}
	return Result{}
}

func matchStrategy(s Strategy, rec *models.Record, col, needle string, opts Options) bool {
	id := strings.ToLower(rec.Document.ID())
	switch s {
	case ExactID:
		return id != "" && id == needle
	case IDPrefix:
		return id != "" && strings.HasPrefix(id, needle)
	case ShortIDPrefix:
		return id != "" && strings.HasPrefix(models.ShortID(id, opts.shortLen(col)), needle)
	case CollectionName, BareName:
		return strings.ToLower(rec.Document.Name()) == needle
	}
	return false
}

// Matches reports whether token names target: its full id, its short id, or
// its file name, optionally scoped by collection. Comparison ignores case.
func Matches(target models.Record, token string, opts Options) bool {
	scope, rest := splitToken(token)
	col := target.Document.Collection()
	if scope != "" && opts.alias(scope) != col {
		return false
	}
	needle := strings.ToLower(strings.TrimSpace(rest))
	if needle == "" {
		return false
	}
	id := strings.ToLower(target.Document.ID())
	if id != "" && (needle == id || needle == models.ShortID(id, opts.shortLen(col))) {
		return true
	}
	return needle == strings.ToLower(target.Document.Name())
}

func splitToken(token string) (scope, rest string) {
	before, after, ok := strings.Cut(strings.TrimSpace(token), "/")
	if !ok {
		return "", token
	}
	return before, after
}
