package docservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/mdbase/internal/apperr"
	"github.com/starford/mdbase/internal/checksum"
	"github.com/starford/mdbase/internal/frontmatter"
	"github.com/starford/mdbase/internal/index"
	"github.com/starford/mdbase/internal/lock"
	"github.com/starford/mdbase/internal/repository"
	"github.com/starford/mdbase/internal/testutil"
)

var baseTree = map[string]string{
	".mdbase.yaml": "aliases:\n  co: companies\n",
	"companies/_schema.yaml": `slug: "{{name}}-{{short_id}}"
fields:
  name:
    type: string
    required: true
  employees:
    type: number
  active:
    type: boolean
    default: true
`,
	"people/_schema.yaml":   "slug: \"{{name}}\"\n",
	"projects/_schema.yaml": "slug: \"{{name}}\"\nindex_file: README.md\n",
}

func ids(seq ...string) func() string {
	return func() string {
		id := seq[0]
		seq = seq[1:]
		return id
	}
}

func newService(t *testing.T, extra map[string]string, opts ...Option) (*Service, string) {
	t.Helper()
	files := make(map[string]string, len(baseTree)+len(extra))
	for k, v := range baseTree {
		files[k] = v
	}
	for k, v := range extra {
		files[k] = v
	}
	disk := testutil.TestTree(t, files)
	repo, err := repository.New(disk, nil)
	if err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	locker, err := lock.New(disk.Root(), lock.StrategyFlock)
	if err != nil {
		t.Fatalf("lock.New: %v", err)
	}
	clock := func() time.Time { return time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC) }
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(clock),
	}
	return NewService(repo, locker, append(base, opts...)...), disk.Root()
}

func TestCreate(t *testing.T) {
	svc, root := newService(t, nil, WithIDGenerator(ids("abcdef9g5fav")))

	d, err := svc.Create(context.Background(), CreateInput{
		Collection: "co",
		Fields:     map[string]any{"name": "Acme Corp", "employees": "40"},
		Content:    "# Acme\n",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d.Path != "companies/acme-corp-9g5fav.md" || d.ID != "abcdef9g5fav" || d.Title != "Acme Corp" {
		t.Errorf("detail = %+v", d)
	}

	data := testutil.ReadFile(t, root, d.Path)
	if d.Checksum != checksum.Sum([]byte(data)) {
		t.Errorf("checksum %q does not match the written file", d.Checksum)
	}
	meta, body, err := frontmatter.Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := map[string]any{
		"id":         "abcdef9g5fav",
		"name":       "Acme Corp",
		"employees":  40,
		"active":     true,
		"created_at": "2024-05-17T10:00:00Z",
	}
	if diff := cmp.Diff(want, meta); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
	if body != "# Acme\n" {
		t.Errorf("body = %q", body)
	}
}

func TestCreate_FolderLayout(t *testing.T) {
	svc, root := newService(t, nil, WithIDGenerator(ids("proj00000001")))

	d, err := svc.Create(context.Background(), CreateInput{Collection: "projects", Fields: map[string]any{"name": "Apollo"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d.Path != "projects/apollo" || d.ContentPath != "projects/apollo/README.md" || !d.IsFolder {
		t.Errorf("detail = %+v", d)
	}
	if !testutil.Exists(root, "projects/apollo/README.md") {
		t.Error("index file was not written")
	}
}

func TestCreate_Errors(t *testing.T) {
	svc, root := newService(t, map[string]string{
		"people/jane.md": testutil.Doc("id: jane00000001\nname: Jane\n", ""),
	}, WithIDGenerator(ids("new000000001", "new000000002", "new000000003")))
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"missing required field", CreateInput{Collection: "companies"}, apperr.ErrInvalid},
		{"bad number", CreateInput{Collection: "companies", Fields: map[string]any{"name": "X", "employees": "many"}}, apperr.ErrInvalid},
		{"no schema", CreateInput{Collection: "notes", Fields: map[string]any{"name": "X"}}, apperr.ErrInvalid},
		{"no collection", CreateInput{}, apperr.ErrInvalid},
		{"path taken", CreateInput{Collection: "people", Fields: map[string]any{"name": "Jane"}}, apperr.ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if testutil.Exists(root, "companies/x-000001.md") || testutil.Exists(root, "notes") {
		t.Error("a rejected create must not write")
	}
}

func TestUpdate_RenamesOnSlugChange(t *testing.T) {
	svc, root := newService(t, nil, WithIDGenerator(ids("abcdef9g5fav")))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Collection: "companies", Fields: map[string]any{"name": "Acme Corp"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	d, err := svc.Update(ctx, "abcdef9g5fav", UpdateInput{
		Fields:  map[string]any{"name": "Acme Holdings", "active": nil},
		IfMatch: created.Checksum,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if d.Path != "companies/acme-holdings-9g5fav.md" {
		t.Errorf("path = %q", d.Path)
	}
	if testutil.Exists(root, created.Path) {
		t.Error("old file still present")
	}
	meta, _, err := frontmatter.Parse([]byte(testutil.ReadFile(t, root, d.Path)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := meta["active"]; ok {
		t.Errorf("a nil field should be removed: %v", meta)
	}
	if meta["created_at"] != "2024-05-17T10:00:00Z" || meta["id"] != "abcdef9g5fav" {
		t.Errorf("identity fields changed: %v", meta)
	}
}

func TestUpdate_Content(t *testing.T) {
	svc, root := newService(t, map[string]string{
		"people/jane.md": testutil.Doc("id: jane00000001\nname: Jane\n", "old\n"),
	})
	body := "new body\n"
	d, err := svc.Update(context.Background(), "people/jane.md", UpdateInput{Content: &body})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if d.Content != body || d.Path != "people/jane.md" {
		t.Errorf("detail = %+v", d)
	}
	if got := testutil.ReadFile(t, root, "people/jane.md"); got != testutil.Doc("id: jane00000001\nname: Jane\n", body) {
		t.Errorf("file = %q", got)
	}
}

func TestUpdate_Errors(t *testing.T) {
	svc, root := newService(t, map[string]string{
		"people/jane.md": testutil.Doc("id: jane00000001\nname: Jane\n", ""),
		"people/john.md": testutil.Doc("id: john00000002\nname: John\n", ""),
		"people/jack.md": testutil.Doc("id: jack00000003\nname: Jack\n", ""),
	})
	ctx := context.Background()

	tests := []struct {
		name  string
		token string
		in    UpdateInput
		want  error
	}{
		{"stale checksum", "jane00000001", UpdateInput{IfMatch: `"deadbeef"`}, apperr.ErrConflict},
		{"rename onto existing", "jane00000001", UpdateInput{Fields: map[string]any{"name": "John"}}, apperr.ErrAlreadyExists},
		{"id change", "jane00000001", UpdateInput{Fields: map[string]any{"id": "other"}}, apperr.ErrInvalid},
		{"unknown", "nobody", UpdateInput{}, apperr.ErrNotFound},
		{"ambiguous", "people/ja", UpdateInput{}, apperr.ErrAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Update(ctx, tt.token, tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if got := testutil.ReadFile(t, root, "people/jane.md"); got != testutil.Doc("id: jane00000001\nname: Jane\n", "") {
		t.Errorf("rejected updates must not write, file = %q", got)
	}
}

func TestUpdate_RenamesFolderDocument(t *testing.T) {
	svc, root := newService(t, map[string]string{
		"projects/apollo/README.md": testutil.Doc("id: proj00000001\nname: Apollo\n", ""),
		"projects/apollo/plan.pdf":  "pdf",
	})
	d, err := svc.Update(context.Background(), "proj00000001", UpdateInput{Fields: map[string]any{"name": "Artemis"}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if d.Path != "projects/artemis" {
		t.Errorf("path = %q", d.Path)
	}
	if !testutil.Exists(root, "projects/artemis/plan.pdf") || testutil.Exists(root, "projects/apollo") {
		t.Error("attachments should move with the folder")
	}
}

func TestDelete(t *testing.T) {
	svc, root := newService(t, map[string]string{
		"people/jane.md":            testutil.Doc("id: jane00000001\nname: Jane\n", ""),
		"projects/apollo/README.md": testutil.Doc("id: proj00000001\nname: Apollo\n", ""),
		"projects/apollo/plan.pdf":  "pdf",
	})
	ctx := context.Background()

	for _, token := range []string{"jane00000001", "projects/apollo"} {
		if err := svc.Delete(ctx, token); err != nil {
			t.Fatalf("Delete(%q): %v", token, err)
		}
		if _, err := svc.Get(ctx, token); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Get(%q) after delete: err = %v", token, err)
		}
	}
	if testutil.Exists(root, "people/jane.md") || testutil.Exists(root, "projects/apollo") {
		t.Error("files remain after delete")
	}
	if err := svc.Delete(ctx, "jane00000001"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete: err = %v", err)
	}
}

func TestGet_Backlinks(t *testing.T) {
	svc, _ := newService(t, map[string]string{
		"companies/acme-corp-000001.md": testutil.Doc("id: acme00000001\nname: Acme Corp\n", ""),
		"people/jane.md":                testutil.Doc("id: jane00000001\nname: Jane\n", "Works at [[acme00000001]].\n"),
		"people/john.md":                testutil.Doc("id: john00000002\nname: John\n", "Nothing here.\n"),
	})
	d, err := svc.Get(context.Background(), "acme00000001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff([]string{"people/jane.md"}, d.Backlinks); diff != "" {
		t.Errorf("backlinks mismatch (-want +got):\n%s", diff)
	}
}

func TestList(t *testing.T) {
	svc, _ := newService(t, map[string]string{
		"people/jane.md": testutil.Doc("id: jane00000001\nname: Jane\nrole: cto\n", ""),
		"people/john.md": testutil.Doc("id: john00000002\nname: John\nrole: ceo\n", ""),
		"people/jack.md": testutil.Doc("id: jack00000003\nname: Jack\nrole: cto\n", ""),
	})
	ctx := context.Background()

	items, total, err := svc.List(ctx, ListOptions{Collection: "people", Field: "role", Value: "cto"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, it := range items {
		names = append(names, it.Title)
	}
	if total != 2 || !cmp.Equal([]string{"Jack", "Jane"}, names) {
		t.Errorf("total = %d, names = %v", total, names)
	}

	items, total, err = svc.List(ctx, ListOptions{Collection: "people", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(items) != 1 || items[0].Path != "people/jane.md" {
		t.Errorf("page = %+v (total %d)", items, total)
	}
}

func TestIndexMirror(t *testing.T) {
	db := testutil.TestDB(t)
	svc, _ := newService(t, nil,
		WithIndex(db),
		WithIDGenerator(ids("acme00000001", "jane00000002")))
	ctx := context.Background()

	acme, err := svc.Create(ctx, CreateInput{Collection: "companies", Fields: map[string]any{"name": "Acme"}})
	if err != nil {
		t.Fatalf("Create acme: %v", err)
	}
	sum, err := db.GetChecksum(acme.Path)
	if err != nil || sum != acme.Checksum {
		t.Fatalf("indexed checksum = %q, %v; want %q", sum, err, acme.Checksum)
	}

	if _, err := svc.Create(ctx, CreateInput{
		Collection: "people",
		Fields:     map[string]any{"name": "Jane"},
		Content:    "Works at [[acme00000001]].\n",
	}); err != nil {
		t.Fatalf("Create jane: %v", err)
	}
	d, err := svc.Get(ctx, acme.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff([]string{"people/jane.md"}, d.Backlinks); diff != "" {
		t.Errorf("backlinks mismatch (-want +got):\n%s", diff)
	}

	renamed, err := svc.Update(ctx, acme.ID, UpdateInput{Fields: map[string]any{"name": "Acme Two"}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if row, _ := db.GetDocument(acme.Path); row != nil {
		t.Errorf("old path still indexed: %+v", row)
	}
	if row, _ := db.GetDocument(renamed.Path); row == nil || row.Title != "Acme Two" {
		t.Errorf("renamed row = %+v", row)
	}

	if err := svc.Delete(ctx, acme.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if row, _ := db.GetDocument(renamed.Path); row != nil {
		t.Errorf("deleted document still indexed: %+v", row)
	}
}

var _ index.DocumentIndex = (*index.DB)(nil)

func TestAttachments(t *testing.T) {
	svc, root := newService(t, map[string]string{
		"projects/apollo/README.md": testutil.Doc("id: proj00000001\nname: Apollo\n", ""),
		"people/jane.md":            testutil.Doc("id: jane00000001\nname: Jane\n", ""),
	})
	ctx := context.Background()

	p, err := svc.AddAttachment(ctx, "proj00000001", "plan.pdf", []byte("pdf"))
	if err != nil {
		t.Fatalf("AddAttachment: %v", err)
	}
	if p != "projects/apollo/plan.pdf" || testutil.ReadFile(t, root, p) != "pdf" {
		t.Errorf("attachment path = %q", p)
	}
	data, err := svc.ReadAttachment(ctx, "projects/apollo", "plan.pdf")
	if err != nil || string(data) != "pdf" {
		t.Errorf("ReadAttachment = %q, %v", data, err)
	}

	tests := []struct {
		name, token, file string
		want              error
	}{
		{"traversal", "proj00000001", "../x.pdf", apperr.ErrInvalid},
		{"hidden", "proj00000001", ".secret", apperr.ErrInvalid},
		{"index file", "proj00000001", "README.md", apperr.ErrInvalid},
		{"flat document", "jane00000001", "a.png", apperr.ErrInvalid},
		{"unknown document", "nobody", "a.png", apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.AddAttachment(ctx, tt.token, tt.file, []byte("x")); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := svc.ReadAttachment(ctx, "proj00000001", "missing.pdf"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing attachment: err = %v", err)
	}
}
