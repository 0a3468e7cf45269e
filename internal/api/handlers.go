package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mdbase/internal/docservice"
	"github.com/starford/mdbase/internal/graph"
	"github.com/starford/mdbase/internal/search"
	"github.com/starford/mdbase/internal/sse"
	"github.com/starford/mdbase/internal/validate"
)

const maxBodyBytes = 10 << 20

// Publisher receives change notifications.
type Publisher interface {
	Publish(event sse.Event)
	PublishDocumentEvent(kind, path string)
}

// Handler holds API route handlers.
type Handler struct {
	deps Deps
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

func (h *Handler) publish(kind, path string) {
	if h.deps.Events != nil {
		h.deps.Events.PublishDocumentEvent(kind, path)
	}
}

// documentToken extracts the document token from the URL (everything after
// /api/documents/). Encoded slashes are accepted.
func documentToken(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func etag(checksum string) string { return `"` + checksum + `"` }

// ListDocuments handles GET /api/documents.
//
//	@Summary		List documents with optional filtering and pagination
//	@Tags			documents
//	@Produce		json
//	@Param			collection	query		string	false	"Collection or alias"
//	@Param			field		query		string	false	"Metadata field to filter on"
//	@Param			value		query		string	false	"Required field value"
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 {
		limit = 50
	}
	items, total, err := h.deps.Docs.List(r.Context(), docservice.ListOptions{
		Collection: q.Get("collection"),
		Field:      q.Get("field"),
		Value:      q.Get("value"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeError(w, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: items, Total: total})
}

// GetDocument handles GET /api/documents/*.
//
//	@Summary		Get a single document by path or id
//	@Tags			documents
//	@Produce		json
//	@Param			token	path		string	true	"Document path or id"
//	@Success		200		{object}	DocumentDetail
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{token} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	token := documentToken(r)
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("document token is required"))
		return
	}
	doc, err := h.deps.Docs.Get(r.Context(), token)
	if err != nil {
		writeError(w, "get document", err, slog.String("token", token))
		return
	}
	w.Header().Set("ETag", etag(doc.Checksum))
	writeJSON(w, http.StatusOK, doc)
}

// CreateDocument handles POST /api/documents.
//
//	@Summary		Create a new document in a collection
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateDocumentRequest	true	"Document to create"
//	@Success		201		{object}	DocumentDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents [post]
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	doc, err := h.deps.Docs.Create(r.Context(), req)
	if err != nil {
		writeError(w, "create document", err, slog.String("collection", req.Collection))
		return
	}
	h.publish("created", doc.Path)
	w.Header().Set("ETag", etag(doc.Checksum))
	writeJSON(w, http.StatusCreated, doc)
}

// UpdateDocument handles PATCH /api/documents/*.
//
//	@Summary		Update fields and content with optimistic concurrency
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			token		path		string					true	"Document path or id"
//	@Param			If-Match	header		string					false	"Checksum the stored file must have"
//	@Param			body		body		UpdateDocumentRequest	true	"Changes"
//	@Success		200			{object}	DocumentDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{token} [patch]
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	token := documentToken(r)
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("document token is required"))
		return
	}
	var req UpdateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Fields == nil && req.Content == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("fields or content is required"))
		return
	}

	before, err := h.deps.Docs.Resolve(r.Context(), token)
	if err != nil {
		writeError(w, "update document", err, slog.String("token", token))
		return
	}
	doc, err := h.deps.Docs.Update(r.Context(), token, docservice.UpdateInput{
		Fields:  req.Fields,
		Content: req.Content,
		IfMatch: r.Header.Get("If-Match"),
	})
	if err != nil {
		writeError(w, "update document", err, slog.String("token", token))
		return
	}
	if before.Path != doc.Path {
		h.publish("deleted", before.Path)
		h.publish("created", doc.Path)
	} else {
		h.publish("updated", doc.Path)
	}
	w.Header().Set("ETag", etag(doc.Checksum))
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/documents/*.
//
//	@Summary		Delete a document
//	@Tags			documents
//	@Param			token	path	string	true	"Document path or id"
//	@Success		204		"Document deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{token} [delete]
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	token := documentToken(r)
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("document token is required"))
		return
	}
	rec, err := h.deps.Docs.Resolve(r.Context(), token)
	if err != nil {
		writeError(w, "delete document", err, slog.String("token", token))
		return
	}
	if err := h.deps.Docs.Delete(r.Context(), rec.Path); err != nil {
		writeError(w, "delete document", err, slog.String("token", token))
		return
	}
	h.publish("deleted", rec.Path)
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
//
//	@Summary		Search documents
//	@Description	Queries of the form field:value match one metadata field exactly; anything else is ranked full-text search.
//	@Tags			search
//	@Produce		json,text/csv,text/tab-separated-values,text/plain
//	@Param			q		query		string	true	"Search query"
//	@Param			format	query		string	false	"Output format"	Enums(json, csv, tsv, table)
//	@Param			engine	query		string	false	"Search engine"	Enums(scan, index)
//	@Param			limit	query		int		false	"Max results (index engine)"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}

	if q.Get("engine") == "index" {
		if h.deps.Index == nil {
			writeJSON(w, http.StatusBadRequest, errorBody("index engine is disabled"))
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		results, err := h.deps.Index.Search(query, limit)
		if err != nil {
			writeError(w, "index search", err, slog.String("query", query))
			return
		}
		writeJSON(w, http.StatusOK, IndexSearchResponse{Results: nonNil(results)})
		return
	}

	res, err := h.deps.Search.Query(r.Context(), query)
	if err != nil {
		writeError(w, "search", err, slog.String("query", query))
		return
	}
	res.Hits = nonNil(res.Hits)

	var buf bytes.Buffer
	switch format := q.Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, res)
		return
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		err = search.WriteDelimited(&buf, search.Rows(res.Hits), ',')
	case "tsv":
		w.Header().Set("Content-Type", "text/tab-separated-values; charset=utf-8")
		err = search.WriteDelimited(&buf, search.Rows(res.Hits), '\t')
	case "table":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		err = search.WriteTable(&buf, search.Rows(res.Hits))
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("unknown format "+strconv.Quote(format)))
		return
	}
	if err != nil {
		writeError(w, "search export", err)
		return
	}
	_, _ = w.Write(buf.Bytes())
}

// Graph handles GET /api/graph.
//
//	@Summary		Get the relationship graph
//	@Tags			graph
//	@Produce		json,text/vnd.graphviz,text/plain
//	@Param			scope	query		string	false	"Collection, alias or document token"
//	@Param			format	query		string	false	"Output format"	Enums(json, dot, mermaid)
//	@Success		200		{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	corpus, err := graph.Load(r.Context(), h.deps.Repo)
	if err != nil {
		writeError(w, "graph", err)
		return
	}
	g := graph.Build(corpus, r.URL.Query().Get("scope"))
	g.Nodes, g.Edges = nonNil(g.Nodes), nonNil(g.Edges)

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, g)
	case "dot":
		w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
		_, _ = w.Write([]byte(graph.DOT(g)))
	case "mermaid":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(graph.Mermaid(g)))
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("unknown format "+strconv.Quote(format)))
	}
}

// Check handles POST /api/check.
//
//	@Summary		Validate the repository and optionally repair it
//	@Tags			check
//	@Produce		json
//	@Param			fix		query		bool	false	"Apply automatic repairs"
//	@Param			prune	query		bool	false	"Also remove unreferenced attachments"
//	@Success		200		{object}	validate.Report
//	@Security		BearerAuth
//	@Router			/check [post]
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fix, _ := strconv.ParseBool(q.Get("fix"))
	prune, _ := strconv.ParseBool(q.Get("prune"))

	rep, err := h.deps.Validator.Check(r.Context(), validate.Options{Fix: fix, PruneAttachments: prune})
	if err != nil {
		writeError(w, "check", err)
		return
	}
	rep.Issues = nonNil(rep.Issues)
	if h.deps.Events != nil {
		h.deps.Events.Publish(sse.Event{Type: sse.TypeCheckCompleted, Data: map[string]int{
			"issues": len(rep.Issues),
			"fixed":  rep.Fixed,
		}})
	}
	writeJSON(w, http.StatusOK, rep)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
