//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

// Without FTS5 the documents table already holds everything Search needs.
func initFTS(_ *sql.DB) error { return nil }

func ftsUpsert(_ *sql.Tx, _, _, _, _ string) error { return nil }

func ftsDelete(_ *sql.Tx, _ string) error { return nil }

// Search returns documents whose title, body or metadata contain every
// query term, case-insensitively for ASCII. Title matches on the first term
// rank first.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	conds := make([]string, len(terms))
	args := make([]any, 0, 3*len(terms)+2)
	for i, t := range terms {
		conds[i] = `(title LIKE ? ESCAPE '\' OR body LIKE ? ESCAPE '\' OR metadata LIKE ? ESCAPE '\')`
		p := likePattern(t)
		args = append(args, p, p, p)
	}
	args = append(args, likePattern(terms[0]), limit)

	rows, err := db.conn.Query(`
		SELECT path, id, collection, title, substr(body, 1, 200)
		FROM documents
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY CASE WHEN title LIKE ? ESCAPE '\' THEN 0 ELSE 1 END, title, path
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return scanResults(rows)
}
