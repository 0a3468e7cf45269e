package index

import "strings"

const defaultSearchLimit = 20

// queryTerms splits a free-text query into words. All words must match.
func queryTerms(q string) []string {
	return strings.Fields(q)
}

// ftsMatch quotes every term as an FTS5 string so punctuation in user input
// is never read as query syntax. Adjacent strings are ANDed by FTS5.
func ftsMatch(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// likePattern matches term anywhere, with LIKE wildcards in term escaped by
// a backslash.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}
