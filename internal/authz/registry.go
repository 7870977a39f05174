package authz

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry is the static operation→required-slug table, built at startup
// from configuration rather than discovered via runtime introspection.
type Registry struct {
	required map[string]string
}

// NewRegistry builds a registry from explicit entries.
func NewRegistry(entries map[string]string) *Registry {
	required := make(map[string]string, len(entries))
	for op, slug := range entries {
		op = strings.TrimSpace(strings.ToLower(op))
		slug = strings.TrimSpace(strings.ToLower(slug))
		if op == "" || slug == "" {
			continue
		}
		required[op] = slug
	}
	return &Registry{required: required}
}

// LoadRegistry reads an operation→slug mapping from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("authz: read registry: %w", err)
	}
	var entries map[string]string
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("authz: parse registry: %w", err)
	}
	return NewRegistry(entries), nil
}

// RequiredSlug returns the permission slug an operation demands, if any.
func (r *Registry) RequiredSlug(operation string) (string, bool) {
	if r == nil {
		return "", false
	}
	slug, ok := r.required[strings.TrimSpace(strings.ToLower(operation))]
	return slug, ok
}

// Operations returns the registered operation names.
func (r *Registry) Operations() []string {
	ops := make([]string, 0, len(r.required))
	for op := range r.required {
		ops = append(ops, op)
	}
	return ops
}
