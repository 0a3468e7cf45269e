package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mdbase/internal/docservice"
	"github.com/starford/mdbase/internal/index"
	"github.com/starford/mdbase/internal/repository"
	"github.com/starford/mdbase/internal/search"
	"github.com/starford/mdbase/internal/validate"
)

// Deps are the services the API is built on.
type Deps struct {
	Repo      *repository.Repository
	Docs      *docservice.Service
	Search    *search.Service
	Validator *validate.Engine
	// Index enables engine=index searches. It may be nil.
	Index index.DocumentIndex
	// Events, if non-nil, receives document changes made through the API
	// and check results.
	Events Publisher
	// SSE, if non-nil, is mounted at GET /events inside the auth group.
	SSE http.Handler
}

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(deps Deps, authEnabled bool, token string) chi.Router {
	h := NewHandler(deps)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Documents. The token is a path, an id, an id prefix or a short id,
	// optionally scoped by collection.
	r.Get("/documents", h.ListDocuments)
	r.Post("/documents", h.CreateDocument)
	r.Get("/documents/*", h.GetDocument)
	r.Patch("/documents/*", h.UpdateDocument)
	r.Delete("/documents/*", h.DeleteDocument)

	// Attachments of folder documents.
	r.Get("/attachments", h.ServeAttachment)
	r.Post("/attachments", h.UploadAttachment)

	r.Get("/search", h.Search)
	r.Get("/graph", h.Graph)
	r.Post("/check", h.Check)

	if deps.SSE != nil {
		r.Get("/events", deps.SSE.ServeHTTP)
	}

	return r
}
