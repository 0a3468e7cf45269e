// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes mdbase tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mdbase/internal/docservice"
	"github.com/starford/mdbase/internal/graph"
	"github.com/starford/mdbase/internal/repository"
	"github.com/starford/mdbase/internal/search"
	"github.com/starford/mdbase/internal/validate"
)

const contractURI = "mdbase://document-format"

// Server wraps the MCP server with mdbase tools.
type Server struct {
	mcp       *server.MCPServer
	repo      *repository.Repository
	docs      *docservice.Service
	search    *search.Service
	validator *validate.Engine
	logger    *slog.Logger

	fetchClient *http.Client
}

// New creates a new MCP server with all mdbase tools registered.
func New(repo *repository.Repository, docs *docservice.Service, validator *validate.Engine, version string) *Server {
	s := &Server{
		repo:      repo,
		docs:      docs,
		search:    search.NewService(repo),
		validator: validator,
		logger:    slog.Default(),

		fetchClient: newFetchClient(),
	}

	s.mcp = server.NewMCPServer(
		"mdbase",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_collections",
		mcp.WithDescription("List the collections of the repository with their schemas and aliases."),
	), s.listCollections)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List documents, optionally restricted to a collection and to one metadata field value."),
		mcp.WithString("collection", mcp.Description("Collection name or alias")),
		mcp.WithString("field", mcp.Description("Metadata field to filter on")),
		mcp.WithString("value", mcp.Description("Value the field must equal")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("find_document",
		mcp.WithDescription("Resolve a path, id, id prefix or short id (optionally collection/-scoped) to exactly one document. "+
			"Ambiguous tokens return the candidates."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Path or id token")),
	), s.findDocument)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read a document: metadata, Markdown body, checksum and backlinks."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Path or id token")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Search documents. field:value matches one metadata field exactly; "+
			"anything else is ranked by name, metadata and content matches."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchDocuments)

	s.mcp.AddTool(mcp.NewTool("relationship_graph",
		mcp.WithDescription("Return wiki-link and reference relationships between documents."),
		mcp.WithString("scope", mcp.Description("Collection, alias or document token; empty for everything")),
		mcp.WithString("format", mcp.Description("json, dot or mermaid"), mcp.Enum("json", "dot", "mermaid")),
	), s.relationshipGraph)

	s.mcp.AddTool(mcp.NewTool("check_repository",
		mcp.WithDescription("Validate the repository: filenames, wiki-links, ids, fields, templates and attachments. "+
			"With fix, renames files and refreshes stale link titles."),
		mcp.WithBoolean("fix", mcp.Description("Apply automatic repairs")),
		mcp.WithBoolean("prune_attachments", mcp.Description("With fix, also delete unreferenced attachments")),
	), s.checkRepository)

	s.mcp.AddTool(mcp.NewTool("create_document",
		mcp.WithDescription("Create a document in a collection. The id, created_at and file name are assigned by mdbase. "+
			"Read the contract first via get_document_contract or the "+contractURI+" resource."),
		mcp.WithString("collection", mcp.Required(), mcp.Description("Collection name or alias")),
		mcp.WithObject("fields", mcp.Description("Frontmatter fields")),
		mcp.WithString("content", mcp.Description("Markdown body")),
	), s.createDocument)

	s.mcp.AddTool(mcp.NewTool("update_document",
		mcp.WithDescription("Merge fields into a document and optionally replace its body. A null field value removes the field. "+
			"The file is renamed when its slug changes."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Path or id token")),
		mcp.WithObject("fields", mcp.Description("Fields to set; null removes")),
		mcp.WithString("content", mcp.Description("New Markdown body")),
		mcp.WithString("if_match", mcp.Description("Checksum from read_document; rejects concurrent edits")),
	), s.updateDocument)

	s.mcp.AddTool(mcp.NewTool("upload_asset",
		mcp.WithDescription("Download a file (http/https URL or base64 data URI) into a folder document. "+
			"Returns a markdownImage ready to paste into the document body."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Folder document path or id")),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data URI")),
		mcp.WithString("filename", mcp.Description("File name to store; derived from the URL when empty")),
	), s.uploadAsset)

	s.mcp.AddTool(mcp.NewTool("get_document_contract",
		mcp.WithDescription("Returns the mdbase document format contract. "+
			"Call this before creating or updating documents."),
	), s.getDocumentContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Document Format Contract",
			mcp.WithResourceDescription("Markdown document format mdbase expects."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// errorResult reports err to the model. Ambiguous tokens list their
// candidates so the model can retry with a longer token.
func errorResult(err error) *mcp.CallToolResult {
	var amb *repository.AmbiguousError
	if errors.As(err, &amb) {
		out, _ := json.Marshal(amb.Candidates)
		return mcp.NewToolResultError(fmt.Sprintf("ambiguous token %q, candidates: %s", amb.Token, out))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listCollections(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	schemas, err := s.repo.Schemas(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	cols, err := s.repo.Collections(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	type collection struct {
		Name    string   `json:"name"`
		Schema  any      `json:"schema,omitempty"`
		Aliases []string `json:"aliases,omitempty"`
	}
	byName := make(map[string]*collection)
	for _, name := range cols {
		byName[name] = &collection{Name: name}
	}
	for name, sc := range schemas {
		if byName[name] == nil {
			byName[name] = &collection{Name: name}
		}
		byName[name].Schema = sc
	}
	for alias, target := range s.repo.Config().Aliases {
		if c := byName[target]; c != nil {
			c.Aliases = append(c.Aliases, alias)
		}
	}
	out := make([]collection, 0, len(byName))
	for _, c := range byName {
		sort.Strings(c.Aliases)
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return jsonResult(out)
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, total, err := s.docs.List(ctx, docservice.ListOptions{
		Collection: req.GetString("collection", ""),
		Field:      req.GetString("field", ""),
		Value:      req.GetString("value", ""),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"documents": items, "total": total})
}

func (s *Server) findDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.docs.Resolve(ctx, token)
	if err != nil {
		return errorResult(err), nil
	}
	sc, err := s.repo.Schema(ctx, rec.Document.Collection())
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(search.RowOf(rec, sc.Title()))
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.docs.Get(ctx, token)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(doc)
}

func (s *Server) searchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.search.Query(ctx, query)
	if err != nil {
		return errorResult(err), nil
	}
	if res.Hits == nil {
		res.Hits = []search.Hit{}
	}
	return jsonResult(res)
}

func (s *Server) relationshipGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	corpus, err := graph.Load(ctx, s.repo)
	if err != nil {
		return errorResult(err), nil
	}
	g := graph.Build(corpus, req.GetString("scope", ""))
	switch format := req.GetString("format", "json"); format {
	case "json", "":
		return jsonResult(g)
	case "dot":
		return mcp.NewToolResultText(graph.DOT(g)), nil
	case "mermaid":
		return mcp.NewToolResultText(graph.Mermaid(g)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format %q", format)), nil
	}
}

func (s *Server) checkRepository(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := s.validator.Check(ctx, validate.Options{
		Fix:              req.GetBool("fix", false),
		PruneAttachments: req.GetBool("prune_attachments", false),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(rep)
}

func fieldsArg(req mcp.CallToolRequest) (map[string]any, error) {
	v, ok := req.GetArguments()["fields"]
	if !ok || v == nil {
		return nil, nil
	}
	fields, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("fields must be an object")
	}
	return fields, nil
}

func (s *Server) createDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection, err := req.RequireString("collection")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fields, err := fieldsArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.docs.Create(ctx, docservice.CreateInput{
		Collection: collection,
		Fields:     fields,
		Content:    req.GetString("content", ""),
	})
	if err != nil {
		return errorResult(err), nil
	}
	s.logger.Info("document created via mcp", slog.String("path", doc.Path))
	return jsonResult(map[string]string{"path": doc.Path, "id": doc.ID, "checksum": doc.Checksum})
}

func (s *Server) updateDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fields, err := fieldsArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	in := docservice.UpdateInput{Fields: fields, IfMatch: req.GetString("if_match", "")}
	if content, err := req.RequireString("content"); err == nil {
		in.Content = &content
	}
	if in.Fields == nil && in.Content == nil {
		return mcp.NewToolResultError("fields or content is required"), nil
	}
	doc, err := s.docs.Update(ctx, token, in)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]string{"path": doc.Path, "id": doc.ID, "checksum": doc.Checksum})
}

func (s *Server) getDocumentContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DocumentFormatContract), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     DocumentFormatContract,
		},
	}, nil
}
