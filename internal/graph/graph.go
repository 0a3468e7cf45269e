// Package graph derives the directed relationship graph of a document set
// from wiki-links and schema reference fields.
package graph

import (
	"context"
	"sort"
	"strings"

	"github.com/starford/mdbase/internal/links"
	"github.com/starford/mdbase/internal/models"
	"github.com/starford/mdbase/internal/repository"
	"github.com/starford/mdbase/internal/schema"
)

// EdgeType distinguishes how a relationship was declared.
type EdgeType string

// Edge types.
const (
	EdgeWiki      EdgeType = "wiki"
	EdgeReference EdgeType = "reference"
)

// Edge is a directed relationship between two document ids.
type Edge struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Type  EdgeType `json:"type"`
	Field string   `json:"field,omitempty"`
}

// Node is a document taking part in the graph.
type Node struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	Collection string `json:"collection"`
	Name       string `json:"name"`
}

// Graph is a node and edge set. Edges are unique and sorted.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Corpus is the document set edges are resolved against.
type Corpus struct {
	Records []models.Record
	Schemas map[string]*schema.Collection
	Aliases map[string]string
}

// Load snapshots the records, schemas and aliases of repo.
func Load(ctx context.Context, repo *repository.Repository) (*Corpus, error) {
	recs, err := repo.CollectAll(ctx)
	if err != nil {
		return nil, err
	}
	schemas, err := repo.Schemas(ctx)
	if err != nil {
		return nil, err
	}
	return &Corpus{Records: recs, Schemas: schemas, Aliases: repo.Config().Aliases}, nil
}

// TitleField returns the display-name field of a collection.
func (c *Corpus) TitleField(collection string) string {
	return c.Schemas[collection].Title()
}

func (c *Corpus) options(exclude string) links.Options {
	return links.Options{
		ShortIDLength: func(col string) int { return c.Schemas[col].ShortIDLen() },
		Alias: func(name string) string {
			if target, ok := c.Aliases[name]; ok {
				return target
			}
			return name
		},
		Exclude: exclude,
	}
}

// resolve returns the id of the single record token names, or "".
func (c *Corpus) resolve(token string, opts links.Options) string {
	res := links.Resolve(c.Records, token, opts)
	if !res.Resolved() {
		return ""
	}
	return c.Records[res.Matches[0]].Document.ID()
}

// Outgoing returns the edges declared by rec: one per wiki-link or reference
// value that resolves to exactly one other document.
func Outgoing(c *Corpus, rec models.Record) []Edge {
	from := rec.Document.ID()
	if from == "" {
		return nil
	}
	var out []Edge
	opts := c.options(rec.Path)
	for _, tok := range links.Tokens(rec.Document.Content) {
		if to := c.resolve(tok, opts); to != "" {
			out = append(out, Edge{From: from, To: to, Type: EdgeWiki})
		}
	}
	s := c.Schemas[rec.Document.Collection()]
	for field, target := range s.ReferenceFields() {
		refOpts := opts
		refOpts.Collection = c.options("").Alias(target)
		for _, tok := range referenceTokens(rec.Document.Metadata[field]) {
			if to := c.resolve(tok, refOpts); to != "" {
				out = append(out, Edge{From: from, To: to, Type: EdgeReference, Field: field})
			}
		}
	}
	return dedupe(out)
}

// Incoming returns the edges pointing at target: wiki-links in other
// documents and "*_id" metadata fields whose token names the target.
func Incoming(c *Corpus, target models.Record) []Edge {
	to := target.Document.ID()
	if to == "" {
		return nil
	}
	opts := c.options("")
	var out []Edge
	for _, rec := range c.Records {
		if rec.Path == target.Path {
			continue
		}
		from := rec.Document.ID()
		if from == "" {
			continue
		}
		for _, tok := range links.Tokens(rec.Document.Content) {
			if links.Matches(target, tok, opts) {
				out = append(out, Edge{From: from, To: to, Type: EdgeWiki})
			}
		}
		for field, v := range rec.Document.Metadata {
			if !strings.HasSuffix(field, "_id") {
				continue
			}
			for _, tok := range referenceTokens(v) {
				if links.Matches(target, tok, opts) {
					out = append(out, Edge{From: from, To: to, Type: EdgeReference, Field: field})
				}
			}
		}
	}
	return dedupe(out)
}

// Build assembles the graph for scope. An empty scope covers every document;
// a collection name (or alias) restricts the sources while targets resolve
// against the whole set; a token naming one document centres the graph on
// its outgoing and incoming edges. Any other scope yields the full graph.
func Build(c *Corpus, scope string) Graph {
	scope = strings.TrimSpace(scope)
	switch {
	case scope == "":
		return c.collect(c.Records)
	case c.isCollection(scope):
		col := c.options("").Alias(scope)
		var sources []models.Record
		for _, rec := range c.Records {
			if rec.Document.Collection() == col {
				sources = append(sources, rec)
			}
		}
		g := c.collect(sources)
		g.Nodes = c.mergeNodes(g.Nodes, sources)
		return g
	}
	if res := links.Resolve(c.Records, scope, c.options("")); res.Resolved() {
		center := c.Records[res.Matches[0]]
		edges := dedupe(append(Outgoing(c, center), Incoming(c, center)...))
		return Graph{Nodes: c.mergeNodes(c.nodesFor(edges), []models.Record{center}), Edges: edges}
	}
	return c.collect(c.Records)
}

func (c *Corpus) isCollection(name string) bool {
	col := c.options("").Alias(name)
	if _, ok := c.Schemas[col]; ok {
		return true
	}
	for _, rec := range c.Records {
		if rec.Document.Collection() == col {
			return true
		}
	}
	return false
}

func (c *Corpus) collect(sources []models.Record) Graph {
	var edges []Edge
	for _, rec := range sources {
		edges = append(edges, Outgoing(c, rec)...)
	}
	edges = dedupe(edges)
	return Graph{Nodes: c.nodesFor(edges), Edges: edges}
}

func (c *Corpus) nodesFor(edges []Edge) []Node {
	ids := make(map[string]struct{}, len(edges)*2)
	for _, e := range edges {
		ids[e.From] = struct{}{}
		ids[e.To] = struct{}{}
	}
	var recs []models.Record
	for _, rec := range c.Records {
		if _, ok := ids[rec.Document.ID()]; ok {
			recs = append(recs, rec)
		}
	}
	return c.mergeNodes(nil, recs)
}

func (c *Corpus) mergeNodes(nodes []Node, recs []models.Record) []Node {
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		seen[n.ID] = struct{}{}
	}
	for _, rec := range recs {
		id := rec.Document.ID()
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		col := rec.Document.Collection()
		nodes = append(nodes, Node{
			ID:         id,
			Path:       rec.Path,
			Collection: col,
			Name:       rec.Document.DisplayName(c.TitleField(col)),
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// referenceTokens extracts token strings from a reference field value.
func referenceTokens(v any) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return t
	}
	return nil
}

func dedupe(edges []Edge) []Edge {
	seen := make(map[Edge]struct{}, len(edges))
	out := edges[:0:0]
	for _, e := range edges {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Field < b.Field
	})
	return out
}
