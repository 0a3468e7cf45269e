// Package repository exposes a document tree as a cached, filterable set of
// records with id resolution. Records are rebuilt from disk after any write
// made through the repository's file-system handle.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"github.com/starford/mdbase/internal/cache"
	"github.com/starford/mdbase/internal/models"
	"github.com/starford/mdbase/internal/repoconfig"
	"github.com/starford/mdbase/internal/schema"
	"github.com/starford/mdbase/internal/storage"
)

// Cache is the snapshot cache shared by repositories. Repositories built with
// the same identity and the same Cache see each other's invalidations.
type Cache = cache.Cache[*Snapshot]

// NewCache returns an empty snapshot cache.
func NewCache() *Cache { return cache.New[*Snapshot]() }

// Snapshot is one full load of the tree. It is never handed out directly;
// callers receive copies of its records.
type Snapshot struct {
	Records     []models.Record
	Schemas     map[string]*schema.Collection
	Collections []string
	LoadErrors  []LoadError
}

// LoadError is a file that could not become a record.
type LoadError struct {
	Path string
	Err  error
}

func (e LoadError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

func (e LoadError) Unwrap() error { return e.Err }

// Repository reads documents from an FS through a shared Cache.
type Repository struct {
	fsys     storage.FS
	proxy    *proxyFS
	cache    *Cache
	identity string
	config   *repoconfig.Config
	logger   *slog.Logger
	workers  int
}

// Option configures a Repository.
type Option func(*Repository)

// WithIdentity overrides the cache identity. By default it is the
// configured repository_id, or the absolute root when none is set.
func WithIdentity(id string) Option {
	return func(r *Repository) { r.identity = id }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// WithConfig supplies the repository configuration instead of reading it
// from the tree.
func WithConfig(c *repoconfig.Config) Option {
	return func(r *Repository) { r.config = c }
}

// WithWorkers bounds the number of files parsed in parallel.
func WithWorkers(n int) Option {
	return func(r *Repository) { r.workers = n }
}

// New creates a Repository over fsys. A nil cache gives the repository a
// private one.
func New(fsys storage.FS, c *Cache, opts ...Option) (*Repository, error) {
	r := &Repository{fsys: fsys, cache: c}
	for _, o := range opts {
		o(r)
	}
	if r.cache == nil {
		r.cache = NewCache()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.workers <= 0 {
		r.workers = runtime.GOMAXPROCS(0)
	}
	if r.config == nil {
		cfg, err := repoconfig.Load(fsys)
		if err != nil {
			return nil, fmt.Errorf("repository: %w", err)
		}
		r.config = cfg
	}
	if r.identity == "" {
		r.identity = r.config.RepositoryID
	}
	if r.identity == "" {
		r.identity = fsys.Root()
	}
	r.proxy = &proxyFS{FS: fsys, invalidate: r.Invalidate}
	return r, nil
}

// Identity returns the cache key of the repository.
func (r *Repository) Identity() string { return r.identity }

// Root returns the absolute directory of the tree.
func (r *Repository) Root() string { return r.fsys.Root() }

// Config returns the repository configuration.
func (r *Repository) Config() *repoconfig.Config { return r.config }

// FS returns the write-capable handle. Every mutating call made through it
// invalidates the cache for this repository's identity before returning.
func (r *Repository) FS() storage.FS { return r.proxy }

// Invalidate forces the next read to rebuild the snapshot.
func (r *Repository) Invalidate() { r.cache.Invalidate(r.identity) }

// ResolveCollection maps an alias to its collection name.
func (r *Repository) ResolveCollection(name string) string {
	return r.config.Resolve(name)
}

// TemplatesCollection returns the collection holding document templates.
func (r *Repository) TemplatesCollection() string {
	if r.config.TemplatesCollection == "" {
		return repoconfig.DefaultTemplatesCollection
	}
	return r.config.TemplatesCollection
}

func (r *Repository) snapshot(ctx context.Context) (*Snapshot, error) {
	return r.cache.Get(ctx, r.identity, r.build)
}

// CollectAll returns copies of every record that passes all filters, in path
// order.
func (r *Repository) CollectAll(ctx context.Context, filters ...Filter) ([]models.Record, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Record, 0, len(snap.Records))
	for _, rec := range snap.Records {
		if matchAll(rec, filters) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Schema returns the schema of a collection (aliases honoured), or nil when
// the collection has none.
func (r *Repository) Schema(ctx context.Context, collection string) (*schema.Collection, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Schemas[r.ResolveCollection(collection)], nil
}

// Schemas returns every loaded schema keyed by collection.
func (r *Repository) Schemas(ctx context.Context) (map[string]*schema.Collection, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*schema.Collection, len(snap.Schemas))
	for k, v := range snap.Schemas {
		out[k] = v
	}
	return out, nil
}

// Collections returns the sorted names of all collection directories.
func (r *Repository) Collections(ctx context.Context) ([]string, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), snap.Collections...), nil
}

// LoadErrors returns the files that failed to load in the current snapshot.
func (r *Repository) LoadErrors(ctx context.Context) ([]LoadError, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return append([]LoadError(nil), snap.LoadErrors...), nil
}

// FindByPath returns the record stored at the repository-relative path p. p
// may name a folder document's directory or its content file.
func (r *Repository) FindByPath(ctx context.Context, p string) (models.Record, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return models.Record{}, err
	}
	i := sort.Search(len(snap.Records), func(i int) bool { return snap.Records[i].Path >= p })
	if i < len(snap.Records) && snap.Records[i].Path == p {
		return snap.Records[i].Clone(), nil
	}
	for _, rec := range snap.Records {
		if rec.ContentPath == p {
			return rec.Clone(), nil
		}
	}
	return models.Record{}, notFound(p)
}
