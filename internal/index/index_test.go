package index

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/mdbase/internal/graph"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "mdbase-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func row(path, id, title, cs string) DocumentRow {
	return DocumentRow{
		Path:       path,
		ID:         id,
		Collection: "companies",
		Title:      title,
		Checksum:   cs,
		Metadata:   map[string]any{"id": id, "name": title},
		UpdatedAt:  time.Now(),
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM documents`).Scan(&count); err != nil {
		t.Fatalf("documents table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM edges`).Scan(&count); err != nil {
		t.Fatalf("edges table missing: %v", err)
	}
}

func TestUpsertAndGetChecksum(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertDocument(row("companies/acme.md", "acme01", "Acme", "abc123"), "Acme body"); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	cs, err := db.GetChecksum("companies/acme.md")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}
}

func TestGetDocument(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(row("companies/acme.md", "acme01", "Acme", "1"), "body")

	d, err := db.GetDocument("companies/acme.md")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if d == nil || d.ID != "acme01" || d.Title != "Acme" || d.Metadata["name"] != "Acme" {
		t.Errorf("document = %+v", d)
	}

	missing, err := db.GetDocument("companies/none.md")
	if err != nil || missing != nil {
		t.Errorf("GetDocument(missing) = %+v, %v", missing, err)
	}
}

func TestListDocuments(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(row("companies/b.md", "b", "B", "1"), "")
	_ = db.UpsertDocument(row("companies/a.md", "a", "A", "1"), "")
	other := row("people/c.md", "c", "C", "1")
	other.Collection = "people"
	_ = db.UpsertDocument(other, "")

	rows, total, err := db.ListDocuments("", 2, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if total != 3 || len(rows) != 2 || rows[0].Path != "companies/a.md" {
		t.Errorf("page = %+v, total = %d", rows, total)
	}

	rows, total, err = db.ListDocuments("people", 10, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if total != 1 || len(rows) != 1 || rows[0].Path != "people/c.md" {
		t.Errorf("filtered = %+v, total = %d", rows, total)
	}
}

func TestEdgesAndBacklinks(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(row("companies/a.md", "a", "A", "1"), "")
	_ = db.UpsertDocument(row("companies/b.md", "b", "B", "1"), "")
	_ = db.UpsertDocument(row("companies/c.md", "c", "C", "1"), "")

	edges := []graph.Edge{
		{From: "a", To: "b", Type: graph.EdgeWiki},
		{From: "c", To: "b", Type: graph.EdgeReference, Field: "parent_id"},
	}
	if err := db.ReplaceEdges(edges); err != nil {
		t.Fatalf("ReplaceEdges: %v", err)
	}
	bl, err := db.Backlinks("b")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if diff := cmp.Diff([]string{"companies/a.md", "companies/c.md"}, bl); diff != "" {
		t.Errorf("backlinks mismatch (-want +got):\n%s", diff)
	}

	if err := db.SetOutgoing("a", nil); err != nil {
		t.Fatalf("SetOutgoing: %v", err)
	}
	got, err := db.Edges()
	if err != nil {
		t.Fatalf("Edges: %v", err)
	}
	if diff := cmp.Diff(edges[1:], got); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
}

func TestSetOutgoing_DeleteFailure(t *testing.T) {
	db := testDB(t)
	if err := db.ReplaceEdges([]graph.Edge{{From: "a", To: "b", Type: graph.EdgeWiki}}); err != nil {
		t.Fatalf("ReplaceEdges: %v", err)
	}
	if _, err := db.conn.Exec(`CREATE TRIGGER keep_edges BEFORE DELETE ON edges
		BEGIN SELECT RAISE(ABORT, 'edges are read-only'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	if err := db.SetOutgoing("a", nil); err == nil {
		t.Fatal("SetOutgoing should report the failed delete")
	}
	got, err := db.Edges()
	if err != nil {
		t.Fatalf("Edges: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("edges = %+v", got)
	}
}

func TestDeleteDocument(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(row("companies/del.md", "del", "Del", "x"), "body")
	_ = db.UpsertDocument(row("companies/target.md", "target", "Target", "y"), "body")
	_ = db.SetOutgoing("del", []graph.Edge{{From: "del", To: "target", Type: graph.EdgeWiki}})

	if err := db.DeleteDocument("companies/del.md"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	cs, _ := db.GetChecksum("companies/del.md")
	if cs != "" {
		t.Errorf("deleted document still has checksum %q", cs)
	}
	bl, _ := db.Backlinks("target")
	if len(bl) != 0 {
		t.Errorf("expected 0 backlinks after delete, got %d", len(bl))
	}
	if err := db.DeleteDocument("companies/never.md"); err != nil {
		t.Errorf("deleting an unknown path: %v", err)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(row("companies/up.md", "up", "Old", "1"), "old body")
	_ = db.UpsertDocument(row("companies/up.md", "up", "New", "2"), "new body")

	cs, _ := db.GetChecksum("companies/up.md")
	if cs != "2" {
		t.Errorf("checksum = %q, want %q", cs, "2")
	}
	all, err := db.AllChecksums()
	if err != nil {
		t.Fatalf("AllChecksums: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("AllChecksums = %v", all)
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("nonexistent.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(row("companies/s.md", "s", "Search Me", "1"), "uniqueword appears here")

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "companies/s.md" || results[0].ID != "s" {
		t.Errorf("search results = %+v, want 1 hit for companies/s.md", results)
	}
}

func TestSearch_AllTermsAndPunctuation(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(row("companies/a.md", "a", "Alpha", "1"), "red anvils shipped")
	_ = db.UpsertDocument(row("companies/b.md", "b", "Beta", "2"), "red hammers only")

	results, err := db.Search("red anvils", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "companies/a.md" {
		t.Errorf("every term must match, got %+v", results)
	}

	for _, q := range []string{`"unbalanced`, "a%_b", "NEAR(", ""} {
		if _, err := db.Search(q, 10); err != nil {
			t.Errorf("Search(%q): %v", q, err)
		}
	}
	if results, _ := db.Search("   ", 10); len(results) != 0 {
		t.Errorf("blank query returned %+v", results)
	}
}

func TestQueryHelpers(t *testing.T) {
	if got := ftsMatch(queryTerms(` acme  "corp" `)); got != `"acme" """corp"""` {
		t.Errorf("ftsMatch = %q", got)
	}
	if got := likePattern(`50%_off\`); got != `%50\%\_off\\%` {
		t.Errorf("likePattern = %q", got)
	}
}
