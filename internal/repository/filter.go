package repository

import (
	"github.com/starford/mdbase/internal/models"
)

// Filter is a predicate over records. CollectAll applies filters in order.
type Filter func(models.Record) bool

func matchAll(rec models.Record, filters []Filter) bool {
	for _, f := range filters {
		if !f(rec) {
			return false
		}
	}
	return true
}

// InCollection keeps records of one collection.
func InCollection(name string) Filter {
	return func(r models.Record) bool { return r.Document.Collection() == name }
}

// InCollections keeps records of any of the named collections.
func InCollections(names ...string) Filter {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(r models.Record) bool {
		_, ok := set[r.Document.Collection()]
		return ok
	}
}

// FieldEquals keeps records whose field, stringified, equals value exactly.
// List fields match when any element does.
func FieldEquals(field string, value any) Filter {
	want := models.Stringify(value)
	return func(r models.Record) bool {
		v, ok := r.Document.Metadata[field]
		if !ok || v == nil {
			return false
		}
		if list, isList := v.([]any); isList {
			for _, item := range list {
				if models.Stringify(item) == want {
					return true
				}
			}
			return false
		}
		return models.Stringify(v) == want
	}
}

// HasField keeps records where field is present and not null.
func HasField(field string) Filter {
	return func(r models.Record) bool { return r.Document.Metadata.Has(field) }
}

// Not inverts f.
func Not(f Filter) Filter {
	return func(r models.Record) bool { return !f(r) }
}
