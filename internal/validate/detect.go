package validate

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/starford/mdbase/internal/links"
	"github.com/starford/mdbase/internal/models"
	"github.com/starford/mdbase/internal/pathpolicy"
	"github.com/starford/mdbase/internal/repository"
	"github.com/starford/mdbase/internal/schema"
)

// finding is an issue plus what a repair needs.
type finding struct {
	Issue
	rec models.Record
	// target is the rename destination or the attachment to remove.
	target string
}

// corpus is one consistent view of the tree.
type corpus struct {
	records     []models.Record
	schemas     map[string]*schema.Collection
	collections map[string]struct{}
	loadErrors  []repository.LoadError
	templates   string
	opts        links.Options
	haystack    string
}

func (e *Engine) load(ctx context.Context) (*corpus, error) {
	recs, err := e.repo.CollectAll(ctx)
	if err != nil {
		return nil, err
	}
	schemas, err := e.repo.Schemas(ctx)
	if err != nil {
		return nil, err
	}
	cols, err := e.repo.Collections(ctx)
	if err != nil {
		return nil, err
	}
	loadErrs, err := e.repo.LoadErrors(ctx)
	if err != nil {
		return nil, err
	}
	c := &corpus{
		records:     recs,
		schemas:     schemas,
		collections: make(map[string]struct{}, len(cols)+len(schemas)),
		loadErrors:  loadErrs,
		templates:   e.repo.TemplatesCollection(),
		opts: links.Options{
			ShortIDLength: func(col string) int { return schemas[col].ShortIDLen() },
			Alias:         e.repo.ResolveCollection,
		},
	}
	for _, col := range cols {
		c.collections[col] = struct{}{}
	}
	for col := range schemas {
		c.collections[col] = struct{}{}
	}
	var hay strings.Builder
	for _, rec := range recs {
		hay.WriteString(rec.Document.Content)
		hay.WriteByte('\n')
		for _, v := range rec.Document.Metadata {
			hay.WriteString(models.Stringify(v))
			hay.WriteByte('\n')
		}
	}
	c.haystack = hay.String()
	return c, nil
}

func (c *corpus) schemaOf(rec models.Record) *schema.Collection {
	return c.schemas[rec.Document.Collection()]
}

func (c *corpus) displayName(rec models.Record) string {
	return rec.Document.DisplayName(c.schemaOf(rec).Title())
}

func (c *corpus) isTemplate(rec models.Record) bool {
	return rec.Document.Collection() == c.templates
}

// ref identifies a record across renames.
func ref(rec models.Record) string {
	if id := rec.Document.ID(); id != "" {
		return id
	}
	return rec.Path
}

func newFinding(code string, rec models.Record, detail, msg string, fixable bool) finding {
	return finding{
		Issue: Issue{
			Code:    code,
			Path:    rec.Path,
			Message: msg,
			Fixable: fixable,
			key:     code + "\x00" + ref(rec) + "\x00" + detail,
		},
		rec: rec,
	}
}

func (e *Engine) detect(c *corpus) ([]finding, error) {
	var out []finding
	out = append(out, c.unreadable()...)
	out = append(out, c.ids()...)
	out = append(out, c.fields()...)
	out = append(out, e.filenames(c)...)
	out = append(out, c.wikiLinks()...)
	out = append(out, c.templateTargets()...)
	att, err := e.attachments(c)
	if err != nil {
		return nil, err
	}
	out = append(out, att...)
	sortFindings(out)
	return out, nil
}

func (c *corpus) unreadable() []finding {
	out := make([]finding, 0, len(c.loadErrors))
	for _, le := range c.loadErrors {
		rec := models.Record{Path: le.Path}
		out = append(out, newFinding(CodeDocumentUnreadable, rec, "", le.Err.Error(), false))
	}
	return out
}

func (c *corpus) ids() []finding {
	var out []finding
	byID := make(map[string][]models.Record)
	for _, rec := range c.records {
		id := strings.ToLower(rec.Document.ID())
		if id == "" {
			out = append(out, newFinding(CodeIDMissing, rec, "", "document has no id", false))
			continue
		}
		byID[id] = append(byID[id], rec)
	}
	for id, recs := range byID {
		if len(recs) < 2 {
			continue
		}
		for _, rec := range recs {
			var others []string
			for _, o := range recs {
				if o.Path != rec.Path {
					others = append(others, o.Path)
				}
			}
			msg := fmt.Sprintf("id %q is also used by %s", id, strings.Join(others, ", "))
			f := newFinding(CodeIDDuplicate, rec, "", msg, false)
			f.key = CodeIDDuplicate + "\x00" + rec.Path
			out = append(out, f)
		}
	}
	return out
}

func (c *corpus) fields() []finding {
	var out []finding
	for _, rec := range c.records {
		if c.isTemplate(rec) {
			continue
		}
		for _, fe := range c.schemaOf(rec).Check(rec.Document.Metadata) {
			code := CodeFieldInvalid
			if fe.Missing {
				code = CodeFieldRequired
			}
			out = append(out, newFinding(code, rec, fe.Field, fe.Error(), false))
		}
	}
	return out
}

// filenames compares every schema-governed record with its canonical path.
func (e *Engine) filenames(c *corpus) []finding {
	var out []finding
	for _, rec := range c.records {
		s := c.schemaOf(rec)
		if s == nil || c.isTemplate(rec) || rec.Document.ID() == "" {
			continue
		}
		canonical, err := e.policy.CanonicalPath(rec.Document.Collection(), s, &rec.Document)
		if err != nil {
			out = append(out, newFinding(CodeFilenameUnrenderable, rec, "", err.Error(), false))
			continue
		}
		if canonical == rec.Path {
			continue
		}
		target := canonical
		if s.HasIndexFile() && !rec.Document.IsFolder {
			target = pathpolicy.ContentPath(canonical, s, true)
		}
		f := newFinding(CodeFilenameMismatch, rec, "", fmt.Sprintf("expected %s", canonical), true)
		f.target = target
		out = append(out, f)
	}
	return out
}

// linkState classifies one wiki-link of rec.
func (c *corpus) linkState(l links.Link) (code, msg string, target *models.Record) {
	if !l.Valid() {
		return CodeWikiInvalid, fmt.Sprintf("%s %s", l.Raw, l.Invalid), nil
	}
	res := links.Resolve(c.records, l.Token, c.opts)
	switch {
	case len(res.Matches) == 0:
		return CodeWikiBroken, fmt.Sprintf("%s does not match any document", l.Raw), nil
	case res.Ambiguous():
		paths := make([]string, len(res.Matches))
		for i, m := range res.Matches {
			paths[i] = c.records[m].Path
		}
		return CodeWikiAmbiguous, fmt.Sprintf("%s matches %s", l.Raw, strings.Join(paths, ", ")), nil
	}
	t := c.records[res.Matches[0]]
	if l.HasTitle {
		if name := c.displayName(t); l.Title != name {
			return CodeWikiStaleTitle, fmt.Sprintf("%s should be titled %q", l.Raw, name), &t
		}
	}
	return "", "", &t
}

func (c *corpus) wikiLinks() []finding {
	var out []finding
	for _, rec := range c.records {
		if c.isTemplate(rec) {
			continue
		}
		for _, l := range links.Parse(rec.Document.Content) {
			code, msg, target := c.linkState(l)
			if code == "" {
				continue
			}
			fixable := code == CodeWikiStaleTitle && links.CanFormat(l.Token, c.displayName(*target))
			out = append(out, newFinding(code, rec, l.Raw, msg, fixable))
		}
	}
	return out
}

func (c *corpus) templateTargets() []finding {
	var out []finding
	for _, rec := range c.records {
		if !c.isTemplate(rec) {
			continue
		}
		v, ok := rec.Document.Metadata["for"]
		if !ok {
			continue
		}
		name := strings.TrimSpace(models.Stringify(v))
		if _, known := c.collections[c.opts.Alias(name)]; known && name != "" {
			continue
		}
		msg := fmt.Sprintf("for %q does not name a collection or alias", name)
		out = append(out, newFinding(CodeTemplateForInvalid, rec, "", msg, false))
	}
	return out
}

// attachments lists files inside folder documents that no document mentions
// by folder-relative or repository-relative path.
func (e *Engine) attachments(c *corpus) ([]finding, error) {
	var out []finding
	for _, rec := range c.records {
		if !rec.Document.IsFolder {
			continue
		}
		files, err := e.folderFiles(rec)
		if err != nil {
			return nil, err
		}
		for _, p := range files {
			rel := strings.TrimPrefix(p, rec.Path+"/")
			if mentions(c.haystack, p) || mentionsRelative(c.haystack, rel) {
				continue
			}
			f := newFinding(CodeAttachmentUnreferenced, rec, rel, fmt.Sprintf("%s is not referenced", p), true)
			f.Path = p
			f.target = p
			out = append(out, f)
		}
	}
	return out, nil
}

// mentions reports whether ref occurs in hay as a whole file name: not glued
// to a longer name on either side. A trailing sentence period is allowed.
func mentions(hay, ref string) bool {
	for i := 0; ; {
		j := strings.Index(hay[i:], ref)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(ref)
		if (start == 0 || !nameByte(hay[start-1])) && endsName(hay, end) {
			return true
		}
		i = start + 1
	}
}

// mentionsRelative is mentions for a folder-relative name, which may also be
// written with a leading "./" but not as part of another directory.
func mentionsRelative(hay, rel string) bool {
	for i := 0; ; {
		j := strings.Index(hay[i:], rel)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(rel)
		before := start
		if before >= 2 && hay[before-2:before] == "./" {
			before -= 2
		}
		if (before == 0 || !(nameByte(hay[before-1]) || hay[before-1] == '/')) && endsName(hay, end) {
			return true
		}
		i = start + 1
	}
}

func endsName(hay string, end int) bool {
	if end == len(hay) {
		return true
	}
	if hay[end] == '.' {
		return end+1 == len(hay) || !nameByte(hay[end+1])
	}
	return !nameByte(hay[end])
}

// nameByte reports whether b can continue a file name. Non-ASCII bytes count
// as name bytes.
func nameByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '-' || b >= 0x80:
		return true
	}
	return false
}

// folderFiles returns the files of a folder document other than its index
// file, skipping ignored and hidden entries.
func (e *Engine) folderFiles(rec models.Record) ([]string, error) {
	var files []string
	err := e.repo.FS().Walk(rec.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != rec.Path && (strings.HasPrefix(d.Name(), ".") || e.repo.Ignored(p)) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || p == rec.ContentPath {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", rec.Path, err)
	}
	sort.Strings(files)
	return files, nil
}
