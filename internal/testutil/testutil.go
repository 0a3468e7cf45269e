// Package testutil provides shared test helpers for setting up document trees
// and databases.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/mdbase/internal/index"
	"github.com/starford/mdbase/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "mdbase-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestTree creates a temporary repository directory holding files (relative
// slash path to content) and returns a storage.Disk rooted at it.
func TestTree(t *testing.T, files map[string]string) *storage.Disk {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		WriteFile(t, root, rel, content)
	}
	store, err := storage.NewDisk(root)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// WriteFile writes one file below root, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ReadFile returns the content of a file below root.
func ReadFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// Exists reports whether a file or directory exists below root.
func Exists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}

// Doc renders a document file with the given frontmatter lines and body.
func Doc(frontmatter, body string) string {
	return "---\n" + frontmatter + "---\n\n" + body
}
