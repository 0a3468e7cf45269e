// Package links parses [[token]] and [[token:title]] wiki-links and resolves
// tokens against a record set.
package links

import (
	"strings"
)

// MaxLength is the longest link body accepted, in bytes.
const MaxLength = 200

// Reasons a link is invalid.
const (
	InvalidTooLong = "longer than 200 characters"
	InvalidNested  = "contains nested brackets"
	InvalidEmpty   = "empty token"
)

// Link is one wiki-link occurrence.
type Link struct {
	// Raw is the full text including the brackets.
	Raw   string
	Token string
	Title string
	// HasTitle distinguishes [[x:]] from [[x]].
	HasTitle bool
	// Start and End are byte offsets of Raw within the parsed content.
	Start, End int
	// Invalid is the reason the link cannot be resolved, or "".
	Invalid string
}

// Valid reports whether the link is well formed.
func (l Link) Valid() bool { return l.Invalid == "" }

// Scope returns the collection prefix of the token and the remainder.
func (l Link) Scope() (collection, rest string) {
	before, after, ok := strings.Cut(l.Token, "/")
	if !ok {
		return "", l.Token
	}
	return before, after
}

// Format renders a wiki-link.
func Format(token, title string) string {
	if title == "" {
		return "[[" + token + "]]"
	}
	return "[[" + token + ":" + title + "]]"
}

// CanFormat reports whether Format(token, title) parses back into a valid
// link carrying exactly token and title. Titles with brackets, surrounding
// space or an oversized body cannot be written.
func CanFormat(token, title string) bool {
	raw := Format(token, title)
	ls := Parse(raw)
	if len(ls) != 1 {
		return false
	}
	l := ls[0]
	return l.Valid() && l.Raw == raw && l.Token == token && l.Title == title
}

// Parse returns every wiki-link in content in order of appearance. Malformed
// links are returned with Invalid set rather than dropped.
func Parse(content string) []Link {
	var out []Link
	for i := 0; i < len(content); {
		start := strings.Index(content[i:], "[[")
		if start < 0 {
			break
		}
		start += i
		end := strings.Index(content[start+2:], "]]")
		if end < 0 {
			break
		}
		end += start + 2
		body := content[start+2 : end]
		l := Link{Raw: content[start : end+2], Start: start, End: end + 2}
		switch {
		case strings.ContainsAny(body, "[]"):
			l.Invalid = InvalidNested
		case len(body) > MaxLength:
			l.Invalid = InvalidTooLong
		default:
			token, title, hasTitle := strings.Cut(body, ":")
			l.Token = strings.TrimSpace(token)
			l.Title = strings.TrimSpace(title)
			l.HasTitle = hasTitle
			if l.Token == "" {
				l.Invalid = InvalidEmpty
			}
		}
		out = append(out, l)
		i = end + 2
	}
	return out
}

// Rewrite replaces links in content. fn receives each parsed link and returns
// its replacement text and whether to replace it.
func Rewrite(content string, fn func(Link) (string, bool)) string {
	parsed := Parse(content)
	if len(parsed) == 0 {
		return content
	}
	var b strings.Builder
	last := 0
	for _, l := range parsed {
		repl, ok := fn(l)
		if !ok {
			continue
		}
		b.WriteString(content[last:l.Start])
		b.WriteString(repl)
		last = l.End
	}
	b.WriteString(content[last:])
	return b.String()
}

// Tokens returns the tokens of every valid link in content.
func Tokens(content string) []string {
	var out []string
	for _, l := range Parse(content) {
		if l.Valid() {
			out = append(out, l.Token)
		}
	}
	return out
}
