// Package slugtmpl renders the small placeholder language used by collection
// slug templates: literal text with {{field}} or {{field | filter}} holes.
// A backslash before "{{" produces a literal "{{".
package slugtmpl

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingField  = errors.New("missing template field")
	ErrUnknownFilter = errors.New("unknown template filter")
	ErrUnterminated  = errors.New("unterminated template placeholder")
	ErrFilterInput   = errors.New("template filter input too short")
)

const (
	open  = "{{"
	close = "}}"
)

// Filter transforms a placeholder value.
type Filter func(string) (string, error)

var filters = map[string]Filter{
	"year":  slice("year", 0, 4),
	"month": slice("month", 5, 7),
	"day":   slice("day", 8, 10),
	"upper": func(s string) (string, error) { return strings.ToUpper(s), nil },
	"lower": func(s string) (string, error) { return strings.ToLower(s), nil },
}

// slice cuts a fixed range out of an ISO date-like string.
func slice(name string, from, to int) Filter {
	return func(s string) (string, error) {
		if len(s) < to {
			return "", fmt.Errorf("%w: %s needs %d characters, got %q", ErrFilterInput, name, to, s)
		}
		return s[from:to], nil
	}
}

type segment struct {
	literal string
	field   string
	filters []string
}

func (s segment) isPlaceholder() bool { return s.field != "" }

func parse(tmpl string) ([]segment, error) {
	var segs []segment
	var lit strings.Builder
	for i := 0; i < len(tmpl); {
		if strings.HasPrefix(tmpl[i:], `\`+open) {
			lit.WriteString(open)
			i += 1 + len(open)
			continue
		}
		if !strings.HasPrefix(tmpl[i:], open) {
			lit.WriteByte(tmpl[i])
			i++
			continue
		}
		end := strings.Index(tmpl[i+len(open):], close)
		if end < 0 {
			return nil, fmt.Errorf("%w at offset %d in %q", ErrUnterminated, i, tmpl)
		}
		body := tmpl[i+len(open) : i+len(open)+end]
		parts := strings.Split(body, "|")
		field := strings.TrimSpace(parts[0])
		if field == "" {
			return nil, fmt.Errorf("%w: empty placeholder in %q", ErrMissingField, tmpl)
		}
		seg := segment{field: field}
		for _, p := range parts[1:] {
			seg.filters = append(seg.filters, strings.TrimSpace(p))
		}
		if lit.Len() > 0 {
			segs = append(segs, segment{literal: lit.String()})
			lit.Reset()
		}
		segs = append(segs, seg)
		i += len(open) + end + len(close)
	}
	if lit.Len() > 0 {
		segs = append(segs, segment{literal: lit.String()})
	}
	return segs, nil
}

// Render substitutes values into tmpl.
func Render(tmpl string, values map[string]string) (string, error) {
	segs, err := parse(tmpl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, seg := range segs {
		if !seg.isPlaceholder() {
			b.WriteString(seg.literal)
			continue
		}
		v, ok := values[seg.field]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrMissingField, seg.field)
		}
		for _, name := range seg.filters {
			f, ok := filters[name]
			if !ok {
				return "", fmt.Errorf("%w: %q", ErrUnknownFilter, name)
			}
			if v, err = f(v); err != nil {
				return "", err
			}
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

// ExtractPlaceholders returns the field names referenced by tmpl in order of
// first appearance, without duplicates.
func ExtractPlaceholders(tmpl string) ([]string, error) {
	segs, err := parse(tmpl)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, seg := range segs {
		if !seg.isPlaceholder() {
			continue
		}
		if _, dup := seen[seg.field]; dup {
			continue
		}
		seen[seg.field] = struct{}{}
		out = append(out, seg.field)
	}
	return out, nil
}
