// Package validate detects drift between the stored document tree and its
// schema-derived canonical state, and optionally repairs it.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/mdbase/internal/lock"
	"github.com/starford/mdbase/internal/pathpolicy"
	"github.com/starford/mdbase/internal/repository"
)

// Issue codes.
const (
	CodeFilenameMismatch       = "filename.mismatch"
	CodeFilenameUnrenderable   = "filename.unrenderable"
	CodeWikiBroken             = "wiki.broken"
	CodeWikiInvalid            = "wiki.invalid"
	CodeWikiAmbiguous          = "wiki.ambiguous"
	CodeWikiStaleTitle         = "wiki.stale-title"
	CodeTemplateForInvalid     = "template.for.invalid"
	CodeAttachmentUnreferenced = "attachment.unreferenced"
	CodeDocumentUnreadable     = "document.unreadable"
	CodeIDMissing              = "id.missing"
	CodeIDDuplicate            = "id.duplicate"
	CodeFieldRequired          = "field.required"
	CodeFieldInvalid           = "field.invalid"
)

// Issue is one detected problem.
type Issue struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
	Fixable bool   `json:"fixable"`
	// Fixed is set when a fix pass committed the repair.
	Fixed bool `json:"fixed,omitempty"`

	// key identifies the issue across reloads, where paths may change.
	key string
}

// FixError is a repair that could not be applied.
type FixError struct {
	Code string
	Path string
	Err  error
}

func (e FixError) Error() string { return fmt.Sprintf("%s %s: %v", e.Code, e.Path, e.Err) }

func (e FixError) Unwrap() error { return e.Err }

// MarshalJSON renders the error as text.
func (e FixError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Code  string `json:"code"`
		Path  string `json:"path"`
		Error string `json:"error"`
	}{e.Code, e.Path, e.Err.Error()})
}

// Report is the result of a Check.
type Report struct {
	Issues []Issue `json:"issues"`
	// Fixed counts repairs actually written.
	Fixed     int        `json:"fixed"`
	FixErrors []FixError `json:"fix_errors,omitempty"`
}

// Count returns the number of issues with code that remain unfixed.
func (r *Report) Count(code string) int {
	n := 0
	for _, is := range r.Issues {
		if is.Code == code && !is.Fixed {
			n++
		}
	}
	return n
}

// Options select what a Check does beyond reporting.
type Options struct {
	// Fix applies every automatic repair while holding the repository lock.
	Fix bool
	// PruneAttachments also removes unreferenced attachments. It has no
	// effect without Fix.
	PruneAttachments bool
}

// Engine checks and repairs one repository.
type Engine struct {
	repo   *repository.Repository
	locker lock.Locker
	policy pathpolicy.Policy
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPolicy sets the path policy used to compute canonical paths.
func WithPolicy(p pathpolicy.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// New creates an Engine. locker guards fix passes.
func New(repo *repository.Repository, locker lock.Locker, opts ...Option) *Engine {
	e := &Engine{repo: repo, locker: locker, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Check inspects the repository. Without Fix it only reads. With Fix the
// whole pass runs under the repository lock: renames first, then link title
// rewrites, then attachment pruning, reloading the tree between phases.
// Issues are those found before any repair; repaired ones have Fixed set.
func (e *Engine) Check(ctx context.Context, opts Options) (*Report, error) {
	if !opts.Fix {
		c, err := e.load(ctx)
		if err != nil {
			return nil, fmt.Errorf("validate: %w", err)
		}
		findings, err := e.detect(c)
		if err != nil {
			return nil, fmt.Errorf("validate: %w", err)
		}
		return newReport(findings), nil
	}

	var rep *Report
	err := lock.With(ctx, e.locker, func() error {
		var err error
		rep, err = e.fix(ctx, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return rep, nil
}

func newReport(findings []finding) *Report {
	rep := &Report{Issues: make([]Issue, 0, len(findings))}
	for _, f := range findings {
		rep.Issues = append(rep.Issues, f.Issue)
	}
	return rep
}

// record notes the outcome of one repair attempt.
func (r *Report) record(f finding, err error) {
	if err != nil {
		r.FixErrors = append(r.FixErrors, FixError{Code: f.Code, Path: f.Path, Err: err})
		return
	}
	r.Fixed++
	for i := range r.Issues {
		if r.Issues[i].key == f.key && !r.Issues[i].Fixed {
			r.Issues[i].Fixed = true
			return
		}
	}
	is := f.Issue
	is.Fixed = true
	r.Issues = append(r.Issues, is)
}

func sortFindings(fs []finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Message < b.Message
	})
}
