package billing

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNoProperties is returned by Analytics when the caller selects no owned property.
	ErrNoProperties = errors.New("no properties available for analytics")
	ErrNotFound     = errors.New("not found")
	// ErrInvalidResource marks a resource type outside the known set.
	ErrInvalidResource = errors.New("invalid resource type")
)

// ValidationError reports request fields that failed validation, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Invalid builds a ValidationError for a single field.
func Invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Add records another invalid field and returns e.
func (e *ValidationError) Add(field, msg string) *ValidationError {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
	return e
}
