package schema

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/mdbase/internal/apperr"
	"github.com/starford/mdbase/internal/frontmatter"
)

// FieldError reports one metadata field that does not satisfy its definition.
type FieldError struct {
	Field   string
	Missing bool
	Err     error
}

func (e *FieldError) Error() string {
	if e.Missing {
		return fmt.Sprintf("field %q is required", e.Field)
	}
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

// Unwrap exposes apperr.ErrInvalid alongside the underlying rule error.
func (e *FieldError) Unwrap() []error {
	if e.Err == nil {
		return []error{apperr.ErrInvalid}
	}
	return []error{apperr.ErrInvalid, e.Err}
}

// Check validates meta against every declared field and returns the failures
// sorted by field name. Undeclared fields are ignored.
func (c *Collection) Check(meta map[string]any) []*FieldError {
	if c == nil {
		return nil
	}
	var out []*FieldError
	for _, name := range c.fieldNames() {
		f := c.Fields[name]
		v, present := meta[name]
		if !present || v == nil || v == "" {
			if f.Required {
				out = append(out, &FieldError{Field: name, Missing: true})
			}
			continue
		}
		if err := f.ValidateValue(v); err != nil {
			out = append(out, &FieldError{Field: name, Err: err})
		}
	}
	return out
}

// CheckErr is Check folded into a single error, or nil.
func (c *Collection) CheckErr(meta map[string]any) error {
	problems := c.Check(meta)
	if len(problems) == 0 {
		return nil
	}
	errs := make([]error, len(problems))
	for i, p := range problems {
		errs[i] = p
	}
	return errors.Join(errs...)
}

func (c *Collection) fieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateValue checks a single non-empty value against the definition.
func (f Field) ValidateValue(v any) error {
	base, item := f.Kind()
	if base != TypeArray {
		return validation.Validate(normalize(v), f.rules(base)...)
	}
	list, ok := v.([]any)
	if !ok {
		return errors.New("must be a list")
	}
	if err := validation.Validate(list, f.lengthRules()...); err != nil {
		return err
	}
	if item == "" {
		return nil
	}
	elem := f
	elem.Min, elem.Max = nil, nil
	items := make([]any, len(list))
	for i, x := range list {
		items[i] = normalize(x)
	}
	return validation.Validate(items, validation.Each(elem.rules(item)...))
}

func (f Field) rules(base string) []validation.Rule {
	var rules []validation.Rule
	switch base {
	case TypeString, TypeReference:
		rules = append(rules, validation.By(isString))
		rules = append(rules, f.lengthRules()...)
	case TypeEmail:
		rules = append(rules, validation.By(isString), is.EmailFormat)
	case TypeCurrency:
		rules = append(rules, validation.By(isString), is.CurrencyCode)
	case TypeCountry:
		rules = append(rules, validation.By(isString), is.CountryCode2)
	case TypeURL:
		rules = append(rules, validation.By(isString), is.URL)
	case TypeDate:
		rules = append(rules, validation.By(isString), validation.Date(time.DateOnly))
	case TypeDateTime:
		rules = append(rules, validation.By(isString), validation.By(isDateTime))
	case TypeNumber:
		rules = append(rules, validation.By(isNumber))
		if f.Min != nil {
			rules = append(rules, validation.Min(*f.Min))
		}
		if f.Max != nil {
			rules = append(rules, validation.Max(*f.Max))
		}
	case TypeBoolean:
		rules = append(rules, validation.By(isBool))
	case TypeEnum:
		allowed := make([]any, len(f.Enum))
		for i, e := range f.Enum {
			allowed[i] = e
		}
		rules = append(rules, validation.By(isString), validation.In(allowed...).Error("must be one of "+strings.Join(f.Enum, ", ")))
	}
	if f.Pattern != "" {
		if re, err := regexp.Compile(f.Pattern); err == nil {
			rules = append(rules, validation.By(isString), validation.Match(re))
		}
	}
	return rules
}

// lengthRules applies min/max to string or list lengths.
func (f Field) lengthRules() []validation.Rule {
	if f.Min == nil && f.Max == nil {
		return nil
	}
	lo, hi := 0, 0
	if f.Min != nil {
		lo = int(*f.Min)
	}
	if f.Max != nil {
		hi = int(*f.Max)
	}
	return []validation.Rule{validation.Length(lo, hi)}
}

// normalize widens integers to float64 so numeric thresholds compare.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}

func isString(v any) error {
	if _, ok := v.(string); !ok {
		return errors.New("must be a string")
	}
	return nil
}

func isNumber(v any) error {
	if _, ok := v.(float64); !ok {
		return errors.New("must be a number")
	}
	return nil
}

func isBool(v any) error {
	if _, ok := v.(bool); !ok {
		return errors.New("must be true or false")
	}
	return nil
}

func isDateTime(v any) error {
	s, _ := v.(string)
	if !frontmatter.LooksLikeDate(s) {
		return errors.New("must be an ISO-8601 date-time")
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly} {
		if _, err := time.Parse(layout, s); err == nil {
			return nil
		}
	}
	return errors.New("must be an ISO-8601 date-time")
}

// Coerce converts a textual input (from a CLI flag or form field) into the
// value type the field declares. Non-string inputs and undeclared fields are
// returned unchanged.
func (c *Collection) Coerce(name string, v any) (any, error) {
	if c == nil {
		return v, nil
	}
	f, ok := c.Fields[name]
	if !ok {
		return v, nil
	}
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	base, item := f.Kind()
	if base == TypeArray {
		out := []any{}
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			x, err := coerceScalar(item, part)
			if err != nil {
				return nil, &FieldError{Field: name, Err: err}
			}
			out = append(out, x)
		}
		return out, nil
	}
	x, err := coerceScalar(base, s)
	if err != nil {
		return nil, &FieldError{Field: name, Err: err}
	}
	return x, nil
}

// CoerceAll coerces every value of meta in place.
func (c *Collection) CoerceAll(meta map[string]any) error {
	var errs []error
	for k, v := range meta {
		x, err := c.Coerce(k, v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		meta[k] = x
	}
	return errors.Join(errs...)
}

func coerceScalar(kind, s string) (any, error) {
	s = strings.TrimSpace(s)
	switch kind {
	case TypeNumber:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", s)
		}
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 && !strings.ContainsAny(s, ".eE") {
			return int(n), nil
		}
		return n, nil
	case TypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", s)
		}
		return b, nil
	case TypeCurrency, TypeCountry:
		return strings.ToUpper(s), nil
	}
	return s, nil
}
