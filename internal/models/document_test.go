package models

import "testing"

func TestShortID(t *testing.T) {
	cases := []struct {
		id   string
		n    int
		want string
	}{
		{"0a1b2c3d9g5fav", 6, "9g5fav"},
		{"0a1b2c3d9g5fav", 0, "9g5fav"},
		{"0a1b2c3d9g5fav", 4, "5fav"},
		{"abc", 6, "abc"},
		{"", 6, ""},
	}
	for _, tc := range cases {
		if got := ShortID(tc.id, tc.n); got != tc.want {
			t.Errorf("ShortID(%q, %d) = %q, want %q", tc.id, tc.n, got, tc.want)
		}
	}
}

func TestDocumentAccessors(t *testing.T) {
	d := Document{
		Path:     "companies/acme-corp.md",
		Metadata: Metadata{"id": "xyz9g5fav", "_title": "Heading"},
	}
	if d.Collection() != "companies" {
		t.Errorf("Collection = %q", d.Collection())
	}
	if d.ID() != "xyz9g5fav" {
		t.Errorf("ID = %q", d.ID())
	}
	if d.Name() != "acme-corp" {
		t.Errorf("Name = %q", d.Name())
	}
	if d.DisplayName("") != "Heading" {
		t.Errorf("DisplayName = %q, want heading fallback", d.DisplayName(""))
	}
	d.Metadata["name"] = "Acme Corp"
	if d.DisplayName("") != "Acme Corp" {
		t.Errorf("DisplayName = %q, want name field", d.DisplayName(""))
	}
	d.Metadata["label"] = "ACME"
	if d.DisplayName("label") != "ACME" {
		t.Errorf("DisplayName(label) = %q", d.DisplayName("label"))
	}
}

func TestDisplayNameFallsBackToFilename(t *testing.T) {
	d := Document{Path: "notes/plain-file.md", Metadata: Metadata{}}
	if got := d.DisplayName(""); got != "plain-file" {
		t.Errorf("DisplayName = %q", got)
	}
}

func TestRecordCloneIsDeep(t *testing.T) {
	r := Record{
		Path: "a/b.md",
		Document: Document{
			Metadata: Metadata{
				"tags":    []any{"x"},
				"address": map[string]any{"city": "Oslo"},
			},
		},
	}
	c := r.Clone()
	c.Document.Metadata["tags"].([]any)[0] = "changed"
	c.Document.Metadata["address"].(map[string]any)["city"] = "Bergen"
	c.Document.Metadata["new"] = 1

	if r.Document.Metadata["tags"].([]any)[0] != "x" {
		t.Error("clone shares list storage")
	}
	if r.Document.Metadata["address"].(map[string]any)["city"] != "Oslo" {
		t.Error("clone shares nested map")
	}
	if _, ok := r.Document.Metadata["new"]; ok {
		t.Error("clone shares top-level map")
	}
}

func TestCollectionOf(t *testing.T) {
	if CollectionOf("root.md") != "" {
		t.Error("root-level path should have no collection")
	}
	if CollectionOf("people/jane/index.md") != "people" {
		t.Error("nested path collection mismatch")
	}
}
