package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/mdbase/internal/frontmatter"
	"github.com/starford/mdbase/internal/models"
	"github.com/starford/mdbase/internal/schema"
)

type loadJob struct {
	path        string
	contentPath string
	folder      bool
}

// build walks the tree and parses every document. Unparseable files become
// load errors; only walk failures and cancellation fail the build.
func (r *Repository) build(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	snap := &Snapshot{Schemas: make(map[string]*schema.Collection)}

	var jobs []loadJob
	err := r.fsys.Walk("", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == "." {
				return walkErr
			}
			snap.LoadErrors = append(snap.LoadErrors, LoadError{Path: p, Err: walkErr})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if p == "." {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		depth := strings.Count(p, "/") + 1

		if d.IsDir() {
			if strings.HasPrefix(name, ".") || r.config.Ignored(p) {
				return fs.SkipDir
			}
			if depth == 1 {
				snap.Collections = append(snap.Collections, name)
				r.loadSchema(snap, name)
				return nil
			}
			s := snap.Schemas[models.CollectionOf(p)]
			index := path.Join(p, s.IndexFileName())
			if info, err := r.fsys.Stat(index); err == nil && !info.IsDir() {
				jobs = append(jobs, loadJob{path: p, contentPath: index, folder: true})
				return fs.SkipDir
			}
			return nil
		}

		// Root-level files belong to no collection.
		if depth == 1 || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".md") {
			return nil
		}
		if r.config.Ignored(p) {
			return nil
		}
		jobs = append(jobs, loadJob{path: p, contentPath: p})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repository: walk: %w", err)
	}

	records := make([]models.Record, len(jobs))
	errs := make([]error, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i], errs[i] = r.load(job)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("repository: load: %w", err)
	}

	for i, rec := range records {
		if errs[i] != nil {
			snap.LoadErrors = append(snap.LoadErrors, LoadError{Path: jobs[i].contentPath, Err: errs[i]})
			continue
		}
		snap.Records = append(snap.Records, rec)
	}
	sort.Slice(snap.Records, func(i, j int) bool { return snap.Records[i].Path < snap.Records[j].Path })
	sort.Slice(snap.LoadErrors, func(i, j int) bool { return snap.LoadErrors[i].Path < snap.LoadErrors[j].Path })
	sort.Strings(snap.Collections)

	r.logger.Debug("repository: snapshot built",
		slog.String("identity", r.identity),
		slog.Int("records", len(snap.Records)),
		slog.Int("load_errors", len(snap.LoadErrors)),
		slog.Duration("took", time.Since(start)),
	)
	return snap, nil
}

func (r *Repository) loadSchema(snap *Snapshot, collection string) {
	p := path.Join(collection, schema.FileName)
	data, err := r.fsys.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err == nil {
		var s *schema.Collection
		if s, err = schema.Parse(data); err == nil {
			snap.Schemas[collection] = s
			return
		}
	}
	snap.LoadErrors = append(snap.LoadErrors, LoadError{Path: p, Err: err})
}

func (r *Repository) load(job loadJob) (models.Record, error) {
	data, err := r.fsys.ReadFile(job.contentPath)
	if err != nil {
		return models.Record{}, err
	}
	info, err := r.fsys.Stat(job.contentPath)
	if err != nil {
		return models.Record{}, err
	}
	meta, content, err := frontmatter.Parse(data)
	if err != nil {
		return models.Record{}, err
	}
	if title := frontmatter.Title(content); title != "" {
		meta[frontmatter.FieldTitle] = title
	}
	kind := models.KindFile
	if job.folder {
		kind = models.KindFolder
	}
	return models.Record{
		Path:        job.path,
		ContentPath: job.contentPath,
		Document: models.Document{
			Path:     job.path,
			Metadata: models.Metadata(meta),
			Content:  content,
			IsFolder: job.folder,
		},
		FileInfo: models.FileInfo{
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Kind:    kind,
		},
	}, nil
}

// Ignored reports whether the repository config excludes rel.
func (r *Repository) Ignored(rel string) bool {
	return r.config.Ignored(rel)
}
