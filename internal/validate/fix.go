package validate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/mdbase/internal/apperr"
	"github.com/starford/mdbase/internal/frontmatter"
	"github.com/starford/mdbase/internal/links"
	"github.com/starford/mdbase/internal/models"
)

// fix runs the repair phases. The caller holds the lock.
func (e *Engine) fix(ctx context.Context, opts Options) (*Report, error) {
	c, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	findings, err := e.detect(c)
	if err != nil {
		return nil, err
	}
	rep := newReport(findings)

	for _, f := range findings {
		if f.Code == CodeFilenameMismatch {
			rep.record(f, e.rename(f))
		}
	}

	if c, err = e.load(ctx); err != nil {
		return nil, err
	}
	for _, rec := range c.records {
		if c.isTemplate(rec) {
			continue
		}
		e.rewriteTitles(c, rec, rep)
	}

	if opts.PruneAttachments {
		if c, err = e.load(ctx); err != nil {
			return nil, err
		}
		att, err := e.attachments(c)
		if err != nil {
			return nil, err
		}
		e.prune(c, att, rep)
	}

	e.logger.Info("validation fix pass finished",
		slog.Int("issues", len(rep.Issues)),
		slog.Int("fixed", rep.Fixed),
		slog.Int("failed", len(rep.FixErrors)))
	return rep, nil
}

func (e *Engine) rename(f finding) error {
	fsys := e.repo.FS()
	if _, err := fsys.Stat(f.target); err == nil {
		return fmt.Errorf("%s: %w", f.target, apperr.ErrAlreadyExists)
	}
	if err := fsys.Rename(f.Path, f.target); err != nil {
		return err
	}
	e.logger.Info("renamed document", slog.String("from", f.Path), slog.String("to", f.target))
	return nil
}

// rewriteTitles replaces stale wiki-link titles in rec with the current
// display name of their targets. The file is written once; every rewritten
// link counts as one fix. A name that cannot be written as a link title is
// left alone and the issue stays reported.
func (e *Engine) rewriteTitles(c *corpus, rec models.Record, rep *Report) {
	var stale []finding
	content := links.Rewrite(rec.Document.Content, func(l links.Link) (string, bool) {
		code, msg, target := c.linkState(l)
		if code != CodeWikiStaleTitle {
			return "", false
		}
		name := c.displayName(*target)
		if !links.CanFormat(l.Token, name) {
			e.logger.Warn("cannot rewrite link title",
				slog.String("path", rec.Path), slog.String("link", l.Raw), slog.String("title", name))
			return "", false
		}
		stale = append(stale, newFinding(code, rec, l.Raw, msg, true))
		return links.Format(l.Token, name), true
	})
	if len(stale) == 0 {
		return
	}
	err := e.writeContent(rec, content)
	for _, f := range stale {
		rep.record(f, err)
	}
	if err == nil {
		e.logger.Info("rewrote link titles", slog.String("path", rec.Path), slog.Int("links", len(stale)))
	}
}

// writeContent replaces the body of rec's file, keeping its stored metadata.
func (e *Engine) writeContent(rec models.Record, content string) error {
	fsys := e.repo.FS()
	data, err := fsys.ReadFile(rec.ContentPath)
	if err != nil {
		return err
	}
	meta, _, err := frontmatter.Parse(data)
	if err != nil {
		return err
	}
	out, err := frontmatter.Serialize(meta, content)
	if err != nil {
		return err
	}
	return fsys.WriteFile(rec.ContentPath, out)
}

// prune removes unreferenced attachments and collapses folder documents left
// with only their index file into a flat file, unless the collection lays out
// every document as a folder.
func (e *Engine) prune(c *corpus, att []finding, rep *Report) {
	fsys := e.repo.FS()
	var folders []models.Record
	seen := make(map[string]struct{})
	for _, f := range att {
		err := fsys.Remove(f.target)
		rep.record(f, err)
		if err != nil {
			continue
		}
		e.logger.Info("removed attachment", slog.String("path", f.target))
		if _, ok := seen[f.rec.Path]; !ok {
			seen[f.rec.Path] = struct{}{}
			folders = append(folders, f.rec)
		}
	}

	for _, rec := range folders {
		if c.schemaOf(rec).HasIndexFile() {
			continue
		}
		left, err := e.folderFiles(rec)
		if err != nil || len(left) > 0 {
			continue
		}
		flat := rec.Path + ".md"
		if _, err := fsys.Stat(flat); err == nil {
			e.logger.Warn("cannot collapse folder document, target exists",
				slog.String("path", rec.Path), slog.String("target", flat))
			continue
		}
		if err := fsys.Rename(rec.ContentPath, flat); err != nil {
			rep.FixErrors = append(rep.FixErrors, FixError{Code: CodeAttachmentUnreferenced, Path: rec.Path, Err: err})
			continue
		}
		if err := fsys.RemoveAll(rec.Path); err != nil {
			rep.FixErrors = append(rep.FixErrors, FixError{Code: CodeAttachmentUnreferenced, Path: rec.Path, Err: err})
			continue
		}
		e.logger.Info("collapsed folder document", slog.String("from", rec.Path), slog.String("to", flat))
	}
}
