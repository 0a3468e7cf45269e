package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/starford/mdbase/internal/repository"
	"github.com/starford/mdbase/internal/validate"
)

var (
	errColor   = color.New(color.FgRed, color.Bold)
	warnColor  = color.New(color.FgYellow)
	okColor    = color.New(color.FgGreen)
	faintColor = color.New(color.Faint)
)

// unresolved counts issues a fix pass did not repair.
func unresolved(rep *validate.Report) int {
	n := 0
	for _, is := range rep.Issues {
		if !is.Fixed {
			n++
		}
	}
	return n
}

// printReport writes one line per issue, grouped by path. Fixable issues are
// yellow, the rest red, repaired ones green.
func printReport(w io.Writer, rep *validate.Report) error {
	var b strings.Builder
	last := ""
	for _, is := range rep.Issues {
		if is.Path != last {
			fmt.Fprintln(&b, color.New(color.Bold).Sprint(is.Path))
			last = is.Path
		}
		mark, c := "✗", errColor
		switch {
		case is.Fixed:
			mark, c = "✓", okColor
		case is.Fixable:
			mark, c = "!", warnColor
		}
		fmt.Fprintf(&b, "  %s %s %s\n", c.Sprint(mark), c.Sprint(is.Code), is.Message)
	}
	for _, fe := range rep.FixErrors {
		fmt.Fprintf(&b, "%s %s %s: %v\n", errColor.Sprint("fix failed"), fe.Code, fe.Path, fe.Err)
	}

	open := unresolved(rep)
	summary := fmt.Sprintf("%d issues, %d fixed, %d remaining", len(rep.Issues), rep.Fixed, open)
	switch {
	case len(rep.Issues) == 0:
		fmt.Fprintln(&b, okColor.Sprint("no issues"))
	case open == 0:
		fmt.Fprintln(&b, okColor.Sprint(summary))
	default:
		fmt.Fprintln(&b, errColor.Sprint(summary))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// describe expands an ambiguity into a candidate list the user can pick from.
func describe(err error) error {
	var amb *repository.AmbiguousError
	if !errors.As(err, &amb) {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%q matches %d documents:", amb.Token, len(amb.Candidates))
	for _, c := range amb.Candidates {
		fmt.Fprintf(&b, "\n  %s %s", c.Path, faintColor.Sprint(c.ID))
	}
	return errors.New(b.String())
}
