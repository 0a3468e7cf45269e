// Package docservice creates, updates and deletes documents under the
// repository lock, keeping filenames canonical and the optional index in
// step.
package docservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/mdbase/internal/apperr"
	"github.com/starford/mdbase/internal/checksum"
	"github.com/starford/mdbase/internal/frontmatter"
	"github.com/starford/mdbase/internal/graph"
	"github.com/starford/mdbase/internal/index"
	"github.com/starford/mdbase/internal/lock"
	"github.com/starford/mdbase/internal/models"
	"github.com/starford/mdbase/internal/pathpolicy"
	"github.com/starford/mdbase/internal/repository"
	"github.com/starford/mdbase/internal/schema"
)

// Detail is the full representation of a document.
type Detail struct {
	Path        string         `json:"path"`
	ContentPath string         `json:"content_path"`
	Collection  string         `json:"collection"`
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	IsFolder    bool           `json:"is_folder"`
	Metadata    map[string]any `json:"metadata"`
	Content     string         `json:"content"`
	Checksum    string         `json:"checksum"`
	Backlinks   []string       `json:"backlinks"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ListItem is a lightweight item in a list response.
type ListItem struct {
	Path       string    `json:"path"`
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListOptions filter and page a listing. Field and Value filter on one
// metadata field when Field is set.
type ListOptions struct {
	Collection string
	Field      string
	Value      string
	Limit      int
	Offset     int
}

// CreateInput describes a new document.
type CreateInput struct {
	Collection string         `json:"collection"`
	Fields     map[string]any `json:"fields"`
	Content    string         `json:"content"`
}

// UpdateInput describes changes to an existing document. Fields are merged
// into the stored metadata; a nil value removes the key. A nil Content keeps
// the body.
type UpdateInput struct {
	Fields  map[string]any `json:"fields"`
	Content *string        `json:"content"`
	// IfMatch, when set, must equal the checksum of the stored file.
	IfMatch string `json:"if_match"`
}

// Service coordinates the repository, the write lock and the index.
type Service struct {
	repo   *repository.Repository
	locker lock.Locker
	db     index.DocumentIndex
	policy pathpolicy.Policy
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithIndex mirrors every mutation into db.
func WithIndex(db index.DocumentIndex) Option {
	return func(s *Service) { s.db = db }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the time source for created_at and {{date}} slugs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.policy.Now = now
	}
}

// WithIDGenerator replaces the random id source.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// NewService creates a new document service.
func NewService(repo *repository.Repository, locker lock.Locker, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		locker: locker,
		logger: slog.Default(),
		newID:  NewID,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewID returns a random document id: a UUID without dashes.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Resolve finds the record named by token: a repository-relative path
// first, then an id, id prefix or short id.
func (s *Service) Resolve(ctx context.Context, token string) (models.Record, error) {
	rec, err := s.repo.FindByPath(ctx, strings.Trim(token, "/"))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return models.Record{}, err
	}
	return s.repo.FindByID(ctx, token)
}

// Get reads a document and enriches it with backlinks.
func (s *Service) Get(ctx context.Context, token string) (*Detail, error) {
	rec, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	data, err := s.repo.FS().ReadFile(rec.ContentPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", token, apperr.ErrNotFound)
		}
		return nil, err
	}
	return s.buildDetail(ctx, rec, data)
}

// List returns documents in path order along with the total before paging.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]ListItem, int, error) {
	var filters []repository.Filter
	if opts.Collection != "" {
		filters = append(filters, repository.InCollection(s.repo.ResolveCollection(opts.Collection)))
	}
	if opts.Field != "" {
		filters = append(filters, repository.FieldEquals(opts.Field, opts.Value))
	}
	recs, err := s.repo.CollectAll(ctx, filters...)
	if err != nil {
		return nil, 0, err
	}
	schemas, err := s.repo.Schemas(ctx)
	if err != nil {
		return nil, 0, err
	}
	total := len(recs)
	start := min(max(opts.Offset, 0), total)
	end := total
	if opts.Limit > 0 {
		end = min(start+opts.Limit, total)
	}
	items := make([]ListItem, 0, end-start)
	for _, rec := range recs[start:end] {
		items = append(items, ListItem{
			Path:       rec.Path,
			Collection: rec.Document.Collection(),
			ID:         rec.Document.ID(),
			Title:      rec.Document.DisplayName(schemas[rec.Document.Collection()].Title()),
			UpdatedAt:  rec.FileInfo.ModTime,
		})
	}
	return items, total, nil
}

// Create validates and writes a new document at its canonical path.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Detail, error) {
	col := s.repo.ResolveCollection(strings.TrimSpace(in.Collection))
	if col == "" {
		return nil, fmt.Errorf("docservice: create: collection is required: %w", apperr.ErrInvalid)
	}
	sc, err := s.repo.Schema(ctx, col)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, fmt.Errorf("docservice: create: collection %q has no schema: %w", col, apperr.ErrInvalid)
	}

	meta := models.Metadata(in.Fields).Clone()
	if meta == nil {
		meta = models.Metadata{}
	}
	delete(meta, frontmatter.FieldTitle)
	sc.ApplyDefaults(meta)
	if err := validate(sc, meta); err != nil {
		return nil, fmt.Errorf("docservice: create: %w", err)
	}
	meta[frontmatter.FieldID] = s.newID()
	meta[frontmatter.FieldCreatedAt] = s.now().UTC().Format(time.RFC3339)

	var canonical string
	var data []byte
	err = lock.With(ctx, s.locker, func() error {
		doc := models.Document{Metadata: meta, Content: in.Content}
		canonical, err = s.policy.CanonicalPath(col, sc, &doc)
		if err != nil {
			return fmt.Errorf("%w: %w", apperr.ErrInvalid, err)
		}
		contentPath := pathpolicy.ContentPath(canonical, sc, false)
		if s.exists(canonical) || s.exists(contentPath) {
			return fmt.Errorf("%s: %w", canonical, apperr.ErrAlreadyExists)
		}
		data, err = frontmatter.Serialize(meta, in.Content)
		if err != nil {
			return err
		}
		return s.repo.FS().WriteFile(contentPath, data)
	})
	if err != nil {
		return nil, fmt.Errorf("docservice: create: %w", err)
	}
	s.logger.Info("created document", slog.String("path", canonical), slog.String("id", meta.String(frontmatter.FieldID)))
	return s.afterWrite(ctx, canonical, data)
}

// Update merges fields and content into a document, validates the result and
// renames it when its canonical path changes.
func (s *Service) Update(ctx context.Context, token string, in UpdateInput) (*Detail, error) {
	var oldPath, newPath string
	var data []byte
	err := lock.With(ctx, s.locker, func() error {
		rec, err := s.Resolve(ctx, token)
		if err != nil {
			return err
		}
		oldPath, newPath = rec.Path, rec.Path
		fsys := s.repo.FS()
		existing, err := fsys.ReadFile(rec.ContentPath)
		if err != nil {
			return err
		}
		if !checksum.Matches(in.IfMatch, existing) {
			return apperr.ErrConflict
		}
		meta, body, err := frontmatter.Parse(existing)
		if err != nil {
			return err
		}
		if err := merge(meta, in.Fields); err != nil {
			return err
		}
		if in.Content != nil {
			body = *in.Content
		}

		col := rec.Document.Collection()
		sc, err := s.repo.Schema(ctx, col)
		if err != nil {
			return err
		}
		target := ""
		if sc != nil && !s.isTemplate(col) {
			if err := validate(sc, meta); err != nil {
				return err
			}
			doc := models.Document{Path: rec.Path, Metadata: meta, Content: body, IsFolder: rec.Document.IsFolder}
			canonical, err := s.policy.CanonicalPath(col, sc, &doc)
			if err != nil {
				return fmt.Errorf("%w: %w", apperr.ErrInvalid, err)
			}
			if canonical != rec.Path {
				target = canonical
				if sc.HasIndexFile() && !rec.Document.IsFolder {
					target = pathpolicy.ContentPath(canonical, sc, true)
				}
				if s.exists(canonical) || s.exists(target) {
					return fmt.Errorf("%s: %w", canonical, apperr.ErrAlreadyExists)
				}
				newPath = canonical
			}
		}

		data, err = frontmatter.Serialize(meta, body)
		if err != nil {
			return err
		}
		if err := fsys.WriteFile(rec.ContentPath, data); err != nil {
			return err
		}
		if target != "" {
			return fsys.Rename(rec.Path, target)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("docservice: update: %w", err)
	}
	if newPath != oldPath {
		s.logger.Info("renamed document", slog.String("from", oldPath), slog.String("to", newPath))
		s.unindex(oldPath)
	}
	return s.afterWrite(ctx, newPath, data)
}

// Delete removes a document. Folder documents are removed with their
// attachments.
func (s *Service) Delete(ctx context.Context, token string) error {
	var path string
	err := lock.With(ctx, s.locker, func() error {
		rec, err := s.Resolve(ctx, token)
		if err != nil {
			return err
		}
		path = rec.Path
		if rec.Document.IsFolder {
			return s.repo.FS().RemoveAll(rec.Path)
		}
		return s.repo.FS().Remove(rec.Path)
	})
	if err != nil {
		return fmt.Errorf("docservice: delete: %w", err)
	}
	s.logger.Info("deleted document", slog.String("path", path))
	s.unindex(path)
	return nil
}

func (s *Service) isTemplate(col string) bool {
	return col == s.repo.TemplatesCollection()
}

func (s *Service) exists(p string) bool {
	_, err := s.repo.FS().Stat(p)
	return err == nil
}

// merge applies field changes to meta. The id cannot be changed.
func merge(meta map[string]any, fields map[string]any) error {
	for k, v := range fields {
		switch k {
		case frontmatter.FieldTitle:
			continue
		case frontmatter.FieldID:
			if v != nil && models.Stringify(v) == models.Stringify(meta[k]) {
				continue
			}
			return fmt.Errorf("id is immutable: %w", apperr.ErrInvalid)
		}
		if v == nil {
			delete(meta, k)
			continue
		}
		meta[k] = v
	}
	return nil
}

// validate coerces meta in place and checks it against sc.
func validate(sc *schema.Collection, meta map[string]any) error {
	if err := sc.CoerceAll(meta); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrInvalid, err)
	}
	return sc.CheckErr(meta)
}

// afterWrite reloads the written record, mirrors it into the index and
// builds its detail.
func (s *Service) afterWrite(ctx context.Context, path string, data []byte) (*Detail, error) {
	rec, err := s.repo.FindByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if s.db != nil {
		if err := s.reindex(ctx, rec, data); err != nil {
			s.logger.Warn("index update failed", slog.String("path", rec.Path), slog.String("error", err.Error()))
		}
	}
	return s.buildDetail(ctx, rec, data)
}

func (s *Service) reindex(ctx context.Context, rec models.Record, data []byte) error {
	corpus, err := graph.Load(ctx, s.repo)
	if err != nil {
		return err
	}
	if err := index.IndexRecord(s.db, rec, corpus.TitleField(rec.Document.Collection()), data); err != nil {
		return err
	}
	if id := rec.Document.ID(); id != "" {
		return s.db.SetOutgoing(id, graph.Outgoing(corpus, rec))
	}
	return nil
}

func (s *Service) unindex(path string) {
	if s.db == nil {
		return
	}
	if err := s.db.DeleteDocument(path); err != nil {
		s.logger.Warn("index delete failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// backlinks returns the paths of documents pointing at rec, from the index
// when attached and from the live graph otherwise.
func (s *Service) backlinks(ctx context.Context, rec models.Record) ([]string, error) {
	id := rec.Document.ID()
	if id == "" {
		return nil, nil
	}
	if s.db != nil {
		return s.db.Backlinks(id)
	}
	corpus, err := graph.Load(ctx, s.repo)
	if err != nil {
		return nil, err
	}
	paths := make(map[string]string, len(corpus.Records))
	for _, r := range corpus.Records {
		paths[r.Document.ID()] = r.Path
	}
	var out []string
	seen := make(map[string]struct{})
	for _, e := range graph.Incoming(corpus, rec) {
		p := paths[e.From]
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) buildDetail(ctx context.Context, rec models.Record, data []byte) (*Detail, error) {
	sc, err := s.repo.Schema(ctx, rec.Document.Collection())
	if err != nil {
		return nil, err
	}
	bl, err := s.backlinks(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &Detail{
		Path:        rec.Path,
		ContentPath: rec.ContentPath,
		Collection:  rec.Document.Collection(),
		ID:          rec.Document.ID(),
		Title:       rec.Document.DisplayName(sc.Title()),
		IsFolder:    rec.Document.IsFolder,
		Metadata:    rec.Document.Metadata,
		Content:     rec.Document.Content,
		Checksum:    checksum.Sum(data),
		Backlinks:   nonNilSlice(bl),
		UpdatedAt:   rec.FileInfo.ModTime,
	}, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
