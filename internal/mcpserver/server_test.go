package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/mdbase/internal/docservice"
	"github.com/starford/mdbase/internal/lock"
	"github.com/starford/mdbase/internal/repository"
	"github.com/starford/mdbase/internal/testutil"
	"github.com/starford/mdbase/internal/validate"
)

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	disk := testutil.TestTree(t, map[string]string{
		".mdbase.yaml":              "aliases:\n  co: companies\n",
		"companies/_schema.yaml":    "slug: \"{{name}}\"\nfields:\n  name:\n    type: string\n    required: true\n",
		"companies/acme.md":         testutil.Doc("id: acme00000001\nname: Acme\n", "Anvils.\n"),
		"people/jane.md":            testutil.Doc("id: jane00000001\nname: Jane\n", "Works at [[acme00000001:Old Name]].\n"),
		"people/jack.md":            testutil.Doc("id: jack00000002\nname: Jack\n", ""),
		"projects/apollo/index.md":  testutil.Doc("id: proj00000001\nname: Apollo\n", ""),
	})
	repo, err := repository.New(disk, nil)
	if err != nil {
		t.Fatal(err)
	}
	locker, err := lock.New(disk.Root(), lock.StrategyFlock)
	if err != nil {
		t.Fatal(err)
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	docs := docservice.NewService(repo, locker, docservice.WithLogger(quiet))
	srv := New(repo, docs, validate.New(repo, locker, validate.WithLogger(quiet)), "test")
	srv.logger = quiet
	return srv, disk.Root()
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"list_collections":      srv.listCollections,
		"list_documents":        srv.listDocuments,
		"find_document":         srv.findDocument,
		"read_document":         srv.readDocument,
		"search_documents":      srv.searchDocuments,
		"relationship_graph":    srv.relationshipGraph,
		"check_repository":      srv.checkRepository,
		"create_document":       srv.createDocument,
		"update_document":       srv.updateDocument,
		"upload_asset":          srv.uploadAsset,
		"get_document_contract": srv.getDocumentContract,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decodeResult[T any](t *testing.T, r *mcp.CallToolResult) T {
	t.Helper()
	if r.IsError {
		t.Fatalf("tool error: %s", resultText(r))
	}
	var v T
	if err := json.Unmarshal([]byte(resultText(r)), &v); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
	return v
}

func TestCreateAndReadDocument(t *testing.T) {
	srv, root := testServer(t)

	r := callTool(t, srv, "create_document", map[string]any{
		"collection": "co",
		"fields":     map[string]any{"name": "Beta Works"},
		"content":    "# Beta\n",
	})
	created := decodeResult[map[string]string](t, r)
	if created["path"] != "companies/beta-works.md" || created["id"] == "" {
		t.Errorf("created = %v", created)
	}
	if !testutil.Exists(root, "companies/beta-works.md") {
		t.Error("file not written")
	}

	r = callTool(t, srv, "read_document", map[string]any{"token": created["id"]})
	doc := decodeResult[docservice.Detail](t, r)
	if doc.Content != "# Beta\n" || doc.Metadata["name"] != "Beta Works" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestCreateDocument_Invalid(t *testing.T) {
	srv, _ := testServer(t)

	for _, args := range []map[string]any{
		{"collection": "companies"},
		{"collection": "companies", "fields": "name=x"},
		{},
	} {
		if r := callTool(t, srv, "create_document", args); !r.IsError {
			t.Errorf("create %v: expected error, got %q", args, resultText(r))
		}
	}
}

func TestUpdateDocument(t *testing.T) {
	srv, root := testServer(t)

	r := callTool(t, srv, "update_document", map[string]any{
		"token":  "acme00000001",
		"fields": map[string]any{"name": "Acme Tools"},
	})
	out := decodeResult[map[string]string](t, r)
	if out["path"] != "companies/acme-tools.md" || testutil.Exists(root, "companies/acme.md") {
		t.Errorf("update = %v", out)
	}

	r = callTool(t, srv, "update_document", map[string]any{"token": "acme00000001", "content": "x", "if_match": "stale"})
	if !r.IsError {
		t.Error("expected a conflict for a stale checksum")
	}
	r = callTool(t, srv, "update_document", map[string]any{"token": "acme00000001"})
	if !r.IsError {
		t.Error("expected an error without changes")
	}
}

func TestFindDocument(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "find_document", map[string]any{"token": "people/jane"})
	if row := decodeResult[map[string]string](t, r); row["path"] != "people/jane.md" || row["name"] != "Jane" {
		t.Errorf("row = %v", row)
	}

	r = callTool(t, srv, "find_document", map[string]any{"token": "people/ja"})
	if !r.IsError || !strings.Contains(resultText(r), "people/jack.md") || !strings.Contains(resultText(r), "people/jane.md") {
		t.Errorf("ambiguous result = %q", resultText(r))
	}

	r = callTool(t, srv, "find_document", map[string]any{"token": "nobody"})
	if !r.IsError {
		t.Error("expected error for unknown token")
	}
}

func TestListDocumentsAndCollections(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "list_documents", map[string]any{"collection": "people"})
	out := decodeResult[struct {
		Documents []docservice.ListItem `json:"documents"`
		Total     int                   `json:"total"`
	}](t, r)
	if out.Total != 2 || out.Documents[0].Path != "people/jack.md" {
		t.Errorf("list = %+v", out)
	}

	r = callTool(t, srv, "list_collections", map[string]any{})
	cols := decodeResult[[]struct {
		Name    string   `json:"name"`
		Aliases []string `json:"aliases"`
	}](t, r)
	var names []string
	for _, c := range cols {
		names = append(names, c.Name)
		if c.Name == "companies" && (len(c.Aliases) != 1 || c.Aliases[0] != "co") {
			t.Errorf("companies aliases = %v", c.Aliases)
		}
	}
	if strings.Join(names, ",") != "companies,people,projects" {
		t.Errorf("collections = %v", names)
	}
}

func TestSearchDocuments(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "search_documents", map[string]any{"query": "anvils"})
	res := decodeResult[struct {
		Hits []struct {
			Path string `json:"path"`
			Tier int    `json:"tier"`
		} `json:"hits"`
	}](t, r)
	if len(res.Hits) != 1 || res.Hits[0].Path != "companies/acme.md" {
		t.Errorf("hits = %+v", res.Hits)
	}

	if r := callTool(t, srv, "search_documents", map[string]any{}); !r.IsError {
		t.Error("expected error without query")
	}
}

func TestRelationshipGraph(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "relationship_graph", map[string]any{"scope": "people"})
	g := decodeResult[struct {
		Edges []struct{ From, To string } `json:"edges"`
	}](t, r)
	if len(g.Edges) != 1 || g.Edges[0].From != "jane00000001" || g.Edges[0].To != "acme00000001" {
		t.Errorf("edges = %+v", g.Edges)
	}

	r = callTool(t, srv, "relationship_graph", map[string]any{"format": "mermaid"})
	if !strings.HasPrefix(resultText(r), "flowchart") {
		t.Errorf("mermaid = %q", resultText(r))
	}
	if r := callTool(t, srv, "relationship_graph", map[string]any{"format": "png"}); !r.IsError {
		t.Error("expected error for unknown format")
	}
}

func TestCheckRepository(t *testing.T) {
	srv, root := testServer(t)

	r := callTool(t, srv, "check_repository", map[string]any{})
	rep := decodeResult[validate.Report](t, r)
	if rep.Count(validate.CodeWikiStaleTitle) != 1 {
		t.Errorf("issues = %+v", rep.Issues)
	}

	r = callTool(t, srv, "check_repository", map[string]any{"fix": true})
	if rep = decodeResult[validate.Report](t, r); rep.Fixed != 1 {
		t.Errorf("fix report = %+v", rep)
	}
	if got := testutil.ReadFile(t, root, "people/jane.md"); !strings.Contains(got, "[[acme00000001:Acme]]") {
		t.Errorf("link not refreshed: %q", got)
	}
}

func TestUploadAsset_DataURI(t *testing.T) {
	srv, root := testServer(t)

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	r := callTool(t, srv, "upload_asset", map[string]any{"document": "proj00000001", "url": uri, "filename": "logo.png"})
	res := decodeResult[uploadResult](t, r)
	if res.SavedPath != "projects/apollo/logo.png" || res.MarkdownImage != "![logo.png](logo.png)" {
		t.Errorf("result = %+v", res)
	}
	if !testutil.Exists(root, "projects/apollo/logo.png") {
		t.Error("asset not written")
	}

	r = callTool(t, srv, "upload_asset", map[string]any{"document": "proj00000001", "url": uri, "filename": "logo.png"})
	if !r.IsError {
		t.Error("expected error for existing file")
	}
	r = callTool(t, srv, "upload_asset", map[string]any{"document": "jane00000001", "url": uri, "filename": "logo.png"})
	if !r.IsError {
		t.Error("expected error for a flat document")
	}
}

func TestUploadAsset_Rejects(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		name string
		url  string
		file string
	}{
		{"loopback", "http://127.0.0.1/a.png", ""},
		{"scheme", "ftp://example.com/a.png", ""},
		{"extension", "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("x")), "a.exe"},
		{"magic bytes", "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("not a png")), "a.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]any{"document": "proj00000001", "url": tt.url}
			if tt.file != "" {
				args["filename"] = tt.file
			}
			if r := callTool(t, srv, "upload_asset", args); !r.IsError {
				t.Errorf("expected error, got %q", resultText(r))
			}
		})
	}
}

func TestDocumentContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_document_contract", nil)
	if !strings.Contains(resultText(r), "create_document") {
		t.Error("contract should explain document creation")
	}
	if srv.MCPServer() == nil {
		t.Error("MCPServer is nil")
	}
}
