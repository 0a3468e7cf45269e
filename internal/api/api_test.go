package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/mdbase/internal/docservice"
	"github.com/starford/mdbase/internal/index"
	"github.com/starford/mdbase/internal/lock"
	"github.com/starford/mdbase/internal/repository"
	"github.com/starford/mdbase/internal/search"
	"github.com/starford/mdbase/internal/sse"
	"github.com/starford/mdbase/internal/testutil"
	"github.com/starford/mdbase/internal/validate"
)

var fixture = map[string]string{
	"companies/_schema.yaml": `slug: "{{name}}"
fields:
  name:
    type: string
    required: true
`,
	"companies/acme.md":          testutil.Doc("id: acme00000001\nname: Acme\nsector: tools\n", "# Acme\nMakers of anvils.\n"),
	"companies/beta.md":          testutil.Doc("id: beta00000002\nname: Beta\nsector: tools\n", "Works with [[acme00000001]].\n"),
	"projects/_schema.yaml":      "slug: \"{{name}}\"\nindex_file: README.md\n",
	"projects/apollo/README.md":  testutil.Doc("id: proj00000001\nname: Apollo\n", "![plan](plan.pdf)\n"),
	"projects/apollo/plan.pdf":   "pdf",
	"people/_schema.yaml":        "slug: \"{{name}}\"\n",
	"people/jane.md":             testutil.Doc("id: jane00000001\nname: Jane\n", ""),
	"people/jack.md":             testutil.Doc("id: jack00000002\nname: Jack\n", ""),
	"people/misnamed-person.md":  testutil.Doc("id: mis000000003\nname: Misnamed\n", ""),
	"templates/company.md":       testutil.Doc("id: tpl000000001\nfor: companies\n", ""),
	"notes/readme-for-humans.md": testutil.Doc("id: note00000001\n", "Free-form notes.\n"),
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) Publish(e sse.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.Type)
}

func (p *fakePublisher) PublishDocumentEvent(kind, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, kind+" "+path)
}

func (p *fakePublisher) list() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type env struct {
	router http.Handler
	root   string
	events *fakePublisher
}

type envOptions struct {
	authEnabled bool
	token       string
	index       bool
	sse         http.Handler
}

// testEnv sets up a repository tree, services and a router. The index is
// only attached when requested.
func testEnv(t *testing.T, o envOptions) *env {
	t.Helper()
	disk := testutil.TestTree(t, fixture)
	repo, err := repository.New(disk, nil)
	if err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	locker, err := lock.New(disk.Root(), lock.StrategyFlock)
	if err != nil {
		t.Fatalf("lock.New: %v", err)
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	var docOpts []docservice.Option
	deps := Deps{
		Repo:      repo,
		Search:    search.NewService(repo),
		Validator: validate.New(repo, locker, validate.WithLogger(quiet)),
		SSE:       o.sse,
	}
	if o.index {
		db := testutil.TestDB(t)
		if _, err := index.Sync(context.Background(), db, repo, quiet); err != nil {
			t.Fatalf("Sync: %v", err)
		}
		deps.Index = db
		docOpts = append(docOpts, docservice.WithIndex(db))
	}
	pub := &fakePublisher{}
	deps.Events = pub
	deps.Docs = docservice.NewService(repo, locker, append(docOpts, docservice.WithLogger(quiet))...)

	return &env{router: NewRouter(deps, o.authEnabled, o.token), root: disk.Root(), events: pub}
}

func (e *env) do(t *testing.T, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestCreateAndGetDocument(t *testing.T) {
	e := testEnv(t, envOptions{})

	w := e.do(t, http.MethodPost, "/documents", map[string]any{
		"collection": "companies",
		"fields":     map[string]any{"name": "Gamma Labs"},
		"content":    "# Gamma\n",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decode[DocumentDetail](t, w)
	if created.Path != "companies/gamma-labs.md" || created.ID == "" {
		t.Errorf("created = %+v", created)
	}
	if got := w.Header().Get("ETag"); got != `"`+created.Checksum+`"` {
		t.Errorf("ETag = %q", got)
	}

	for _, token := range []string{created.ID, "companies/gamma-labs.md", "companies%2Fgamma-labs.md"} {
		w = e.do(t, http.MethodGet, "/documents/"+token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("get %q status = %d", token, w.Code)
		}
		if doc := decode[DocumentDetail](t, w); doc.Path != created.Path || doc.Title != "Gamma Labs" {
			t.Errorf("get %q = %+v", token, doc)
		}
	}
	if diff := cmp.Diff([]string{"created companies/gamma-labs.md"}, e.events.list()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestGetDocument_Backlinks(t *testing.T) {
	for _, withIndex := range []bool{false, true} {
		e := testEnv(t, envOptions{index: withIndex})
		w := e.do(t, http.MethodGet, "/documents/acme00000001", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("index=%v: status = %d", withIndex, w.Code)
		}
		if doc := decode[DocumentDetail](t, w); !cmp.Equal([]string{"companies/beta.md"}, doc.Backlinks) {
			t.Errorf("index=%v: backlinks = %v", withIndex, doc.Backlinks)
		}
	}
}

func TestCreateDocument_Errors(t *testing.T) {
	e := testEnv(t, envOptions{})

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing field", map[string]any{"collection": "companies"}, http.StatusBadRequest},
		{"no schema", map[string]any{"collection": "notes", "fields": map[string]any{"name": "x"}}, http.StatusBadRequest},
		{"existing path", map[string]any{"collection": "companies", "fields": map[string]any{"name": "Acme"}}, http.StatusConflict},
		{"bad json", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := e.do(t, http.MethodPost, "/documents", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestUpdateWithOptimisticLocking(t *testing.T) {
	e := testEnv(t, envOptions{})

	w := e.do(t, http.MethodGet, "/documents/acme00000001", nil)
	etag := w.Header().Get("ETag")

	w = e.do(t, http.MethodPatch, "/documents/acme00000001", map[string]any{"fields": map[string]any{"sector": "anvils"}}, "If-Match", etag)
	if w.Code != http.StatusOK {
		t.Fatalf("update with current checksum = %d, body = %s", w.Code, w.Body.String())
	}
	if doc := decode[DocumentDetail](t, w); doc.Metadata["sector"] != "anvils" {
		t.Errorf("metadata = %v", doc.Metadata)
	}

	w = e.do(t, http.MethodPatch, "/documents/acme00000001", map[string]any{"fields": map[string]any{"sector": "x"}}, "If-Match", etag)
	if w.Code != http.StatusConflict {
		t.Errorf("update with stale checksum = %d, want 409", w.Code)
	}
}

func TestUpdateDocument_Rename(t *testing.T) {
	e := testEnv(t, envOptions{})

	content := "# Acme Works\n"
	w := e.do(t, http.MethodPatch, "/documents/companies/acme.md", map[string]any{
		"fields":  map[string]any{"name": "Acme Works"},
		"content": content,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	doc := decode[DocumentDetail](t, w)
	if doc.Path != "companies/acme-works.md" || doc.Content != content {
		t.Errorf("doc = %+v", doc)
	}
	if testutil.Exists(e.root, "companies/acme.md") {
		t.Error("old file still present")
	}
	want := []string{"deleted companies/acme.md", "created companies/acme-works.md"}
	if diff := cmp.Diff(want, e.events.list()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateDocument_Errors(t *testing.T) {
	e := testEnv(t, envOptions{})

	tests := []struct {
		name  string
		token string
		body  any
		want  int
	}{
		{"empty body", "acme00000001", map[string]any{}, http.StatusBadRequest},
		{"not found", "nobody", map[string]any{"fields": map[string]any{"a": 1}}, http.StatusNotFound},
		{"ambiguous", "people/ja", map[string]any{"fields": map[string]any{"a": 1}}, http.StatusConflict},
		{"required removed", "acme00000001", map[string]any{"fields": map[string]any{"name": nil}}, http.StatusBadRequest},
		{"rename onto existing", "acme00000001", map[string]any{"fields": map[string]any{"name": "Beta"}}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := e.do(t, http.MethodPatch, "/documents/"+tt.token, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAmbiguousTokenListsCandidates(t *testing.T) {
	e := testEnv(t, envOptions{})

	w := e.do(t, http.MethodGet, "/documents/people/ja", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[errResponse](t, w)
	var paths []string
	for _, c := range body.Candidates {
		paths = append(paths, c.Path)
	}
	if diff := cmp.Diff([]string{"people/jack.md", "people/jane.md"}, paths); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteDocument(t *testing.T) {
	e := testEnv(t, envOptions{index: true})

	if w := e.do(t, http.MethodDelete, "/documents/jane00000001", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/documents/jane00000001", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/documents/jane00000001", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
	if diff := cmp.Diff([]string{"deleted people/jane.md"}, e.events.list()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestListDocuments(t *testing.T) {
	e := testEnv(t, envOptions{})

	w := e.do(t, http.MethodGet, "/documents?collection=companies&field=sector&value=tools", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[DocumentListResponse](t, w)
	if resp.Total != 2 || len(resp.Documents) != 2 || resp.Documents[0].Path != "companies/acme.md" {
		t.Errorf("resp = %+v", resp)
	}

	w = e.do(t, http.MethodGet, "/documents?collection=people&limit=1&offset=2", nil)
	resp = decode[DocumentListResponse](t, w)
	if resp.Total != 3 || len(resp.Documents) != 1 || resp.Documents[0].Path != "people/misnamed-person.md" {
		t.Errorf("paged resp = %+v", resp)
	}
}

func TestSearchEndpoint(t *testing.T) {
	e := testEnv(t, envOptions{})

	w := e.do(t, http.MethodGet, "/search?q=acme", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	res := decode[search.Results](t, w)
	if res.Top == nil || res.Top.Path != "companies/acme.md" {
		t.Errorf("top = %+v, hits = %+v", res.Top, res.Hits)
	}

	w = e.do(t, http.MethodGet, "/search?q=sector:tools&format=csv", nil)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	want := `"path","collection","id","name"` + "\n" +
		`"companies/acme.md","companies","acme00000001","Acme"` + "\n" +
		`"companies/beta.md","companies","beta00000002","Beta"` + "\n"
	if got := w.Body.String(); got != want {
		t.Errorf("csv = %q, want %q", got, want)
	}

	w = e.do(t, http.MethodGet, "/search?q=sector:tools&format=table", nil)
	if !strings.HasPrefix(w.Body.String(), "PATH") {
		t.Errorf("table = %q", w.Body.String())
	}
}

func TestSearchEndpoint_Errors(t *testing.T) {
	e := testEnv(t, envOptions{})

	for _, target := range []string{"/search", "/search?q=%20", "/search?q=a&format=xml", "/search?q=a&engine=index"} {
		if w := e.do(t, http.MethodGet, target, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", target, w.Code)
		}
	}
}

func TestSearchEndpoint_IndexEngine(t *testing.T) {
	e := testEnv(t, envOptions{index: true})

	w := e.do(t, http.MethodGet, "/search?q=anvils&engine=index", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[IndexSearchResponse](t, w)
	if len(resp.Results) != 1 || resp.Results[0].Path != "companies/acme.md" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestGraphEndpoint(t *testing.T) {
	e := testEnv(t, envOptions{})

	w := e.do(t, http.MethodGet, "/graph?scope=beta00000002", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	g := decode[GraphResponse](t, w)
	if len(g.Edges) != 1 || g.Edges[0].From != "beta00000002" || g.Edges[0].To != "acme00000001" {
		t.Errorf("edges = %+v", g.Edges)
	}

	w = e.do(t, http.MethodGet, "/graph?format=dot", nil)
	if !strings.HasPrefix(w.Body.String(), "digraph") {
		t.Errorf("dot = %q", w.Body.String())
	}
	w = e.do(t, http.MethodGet, "/graph?format=mermaid", nil)
	if !strings.HasPrefix(w.Body.String(), "flowchart") {
		t.Errorf("mermaid = %q", w.Body.String())
	}
	if w := e.do(t, http.MethodGet, "/graph?format=svg", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown format = %d", w.Code)
	}
}

func TestCheckEndpoint(t *testing.T) {
	e := testEnv(t, envOptions{})

	w := e.do(t, http.MethodPost, "/check", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	rep := decode[validate.Report](t, w)
	if rep.Count(validate.CodeFilenameMismatch) != 1 {
		t.Errorf("issues = %+v", rep.Issues)
	}

	w = e.do(t, http.MethodPost, "/check?fix=true", nil)
	rep = decode[validate.Report](t, w)
	if rep.Fixed != 1 || !testutil.Exists(e.root, "people/misnamed.md") {
		t.Errorf("fix report = %+v", rep)
	}
	if got := e.events.list(); len(got) != 2 || got[0] != sse.TypeCheckCompleted {
		t.Errorf("events = %v", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		header  string
		want    int
	}{
		{"valid token", true, "Bearer secret123", http.StatusOK},
		{"missing token", true, "", http.StatusUnauthorized},
		{"wrong token", true, "Bearer wrong", http.StatusUnauthorized},
		{"wrong scheme", true, "Basic secret123", http.StatusUnauthorized},
		{"disabled", false, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEnv(t, envOptions{authEnabled: tt.enabled, token: "secret123"})
			var headers []string
			if tt.header != "" {
				headers = []string{"Authorization", tt.header}
			}
			if w := e.do(t, http.MethodGet, "/documents", nil, headers...); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	called := false
	stub := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	e := testEnv(t, envOptions{authEnabled: true, token: "tok", sse: stub})

	if w := e.do(t, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized || called {
		t.Errorf("SSE without auth = %d, called = %v", w.Code, called)
	}
	if w := e.do(t, http.MethodGet, "/events", nil, "Authorization", "Bearer tok"); w.Code != http.StatusOK || !called {
		t.Errorf("SSE with auth = %d, called = %v", w.Code, called)
	}
}

func TestSSEEvents_Broker(t *testing.T) {
	broker := sse.NewBroker(time.Hour)
	defer broker.Close()
	e := testEnv(t, envOptions{sse: broker})

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func uploadFile(t *testing.T, e *env, token, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/attachments?document="+token, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestUploadAndServeAttachment(t *testing.T) {
	e := testEnv(t, envOptions{})

	w := uploadFile(t, e, "proj00000001", "budget.xlsx", []byte("numbers"))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	if resp := decode[AttachmentUploadResponse](t, w); resp.Path != "projects/apollo/budget.xlsx" || resp.Size != 7 {
		t.Errorf("upload response = %+v", resp)
	}

	w = e.do(t, http.MethodGet, "/attachments?document=proj00000001&name=budget.xlsx", nil)
	if w.Code != http.StatusOK || w.Body.String() != "numbers" {
		t.Errorf("serve = %d %q", w.Code, w.Body.String())
	}
}

func TestAttachment_Errors(t *testing.T) {
	e := testEnv(t, envOptions{})

	if w := uploadFile(t, e, "jane00000001", "a.png", []byte("x")); w.Code != http.StatusBadRequest {
		t.Errorf("upload to flat document = %d, want 400", w.Code)
	}
	if w := uploadFile(t, e, "nobody", "a.png", []byte("x")); w.Code != http.StatusNotFound {
		t.Errorf("upload to unknown document = %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/attachments?document=proj00000001&name=missing.pdf", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing attachment = %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/attachments?document=proj00000001&name=..%2FREADME.md", nil); w.Code != http.StatusBadRequest {
		t.Errorf("traversal = %d, want 400", w.Code)
	}
}
