package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/mdbase/internal/graph"
)

// DocumentRow represents a row in the documents table.
type DocumentRow struct {
	Path       string
	ID         string
	Collection string
	Title      string
	Checksum   string
	Metadata   map[string]any
	UpdatedAt  time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path       string `json:"path"`
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
}

func scanResults(rows *sql.Rows) ([]SearchResult, error) {
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.ID, &r.Collection, &r.Title, &r.Snippet); err != nil {
			return nil, fmt.Errorf("index: scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertDocument inserts or replaces a document and its FTS entry within a
// transaction.
func (db *DB) UpsertDocument(d DocumentRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	metaJSON, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("index: encode metadata: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO documents (path, id, collection, title, checksum, metadata, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			id         = excluded.id,
			collection = excluded.collection,
			title      = excluded.title,
			checksum   = excluded.checksum,
			metadata   = excluded.metadata,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, d.Path, d.ID, d.Collection, d.Title, d.Checksum, string(metaJSON), body, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert document: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, d.Path, d.Title, body, string(metaJSON)); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteDocument removes a document, its FTS entry, and the edges it declares.
func (db *DB) DeleteDocument(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id string
	if err := tx.QueryRow(`SELECT id FROM documents WHERE path = ?`, path).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("index: lookup %s: %w", path, err)
	}
	if err := ftsDelete(tx, path); err != nil {
		return err
	}
	if id != "" {
		if _, err := tx.Exec(`DELETE FROM edges WHERE source = ?`, id); err != nil {
			return fmt.Errorf("index: delete edges of %s: %w", path, err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete %s: %w", path, err)
	}
	return tx.Commit()
}

// SetOutgoing replaces the edges declared by the document with id from.
func (db *DB) SetOutgoing(from string, edges []graph.Edge) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM edges WHERE source = ?`, from); err != nil {
		return fmt.Errorf("index: delete edges of %s: %w", from, err)
	}
	if err := insertEdges(tx, edges); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceEdges swaps the whole edge table for edges.
func (db *DB) ReplaceEdges(edges []graph.Edge) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM edges`); err != nil {
		return fmt.Errorf("index: clear edges: %w", err)
	}
	if err := insertEdges(tx, edges); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEdges(tx *sql.Tx, edges []graph.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO edges (source, target, type, field) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare edge insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range edges {
		if _, err := stmt.Exec(e.From, e.To, string(e.Type), e.Field); err != nil {
			return fmt.Errorf("index: insert edge: %w", err)
		}
	}
	return nil
}

// Edges returns every stored edge ordered by source, target, type and field.
func (db *DB) Edges() ([]graph.Edge, error) {
	rows, err := db.conn.Query(`SELECT source, target, type, field FROM edges ORDER BY source, target, type, field`)
	if err != nil {
		return nil, fmt.Errorf("index: edges: %w", err)
	}
	defer rows.Close()

	var out []graph.Edge
	for rows.Next() {
		var e graph.Edge
		var typ string
		if err := rows.Scan(&e.From, &e.To, &typ, &e.Field); err != nil {
			return nil, err
		}
		e.Type = graph.EdgeType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetChecksum returns the stored checksum for a document, or empty string if
// not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM documents WHERE path = ?`, path).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// AllChecksums returns the stored checksum of every indexed path.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// GetDocument returns one indexed document, or nil if the path is unknown.
func (db *DB) GetDocument(path string) (*DocumentRow, error) {
	row := db.conn.QueryRow(`
		SELECT path, id, collection, title, checksum, metadata, updated_at
		FROM documents WHERE path = ?`, path)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: get document: %w", err)
	}
	return d, nil
}

// ListDocuments returns a page of documents ordered by path, optionally
// restricted to one collection, and the total number of matches.
func (db *DB) ListDocuments(collection string, limit, offset int) ([]DocumentRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM documents WHERE ? = '' OR collection = ?`,
		collection, collection).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count documents: %w", err)
	}
	rows, err := db.conn.Query(`
		SELECT path, id, collection, title, checksum, metadata, updated_at
		FROM documents
		WHERE ? = '' OR collection = ?
		ORDER BY path
		LIMIT ? OFFSET ?`, collection, collection, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentRow
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *d)
	}
	return out, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (*DocumentRow, error) {
	var d DocumentRow
	var meta string
	if err := s.Scan(&d.Path, &d.ID, &d.Collection, &d.Title, &d.Checksum, &meta, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
		return nil, fmt.Errorf("index: decode metadata of %s: %w", d.Path, err)
	}
	return &d, nil
}

// Backlinks returns the paths of documents with an edge pointing at id.
func (db *DB) Backlinks(id string) ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT DISTINCT d.path
		FROM edges e JOIN documents d ON d.id = e.source
		WHERE e.target = ?
		ORDER BY d.path`, id)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
