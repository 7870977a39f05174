// Package instperm resolves or creates instance-scoped permissions from
// (slug, resourceType, resourceId) tuples. Both the "assign to role" and
// "assign to principal" flows share this factory.
package instperm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/guardpost/guardpost/internal/catalog"
	"github.com/guardpost/guardpost/internal/shared"
)

// Tuple names one requested instance permission.
type Tuple struct {
	Slug         string `json:"slug" validate:"required"`
	ResourceType string `json:"resource_type" validate:"required"`
	ResourceID   string `json:"resource_id" validate:"required"`
}

// Key returns the tuple's instance identity key.
func (t Tuple) Key() string {
	return catalog.InstanceKey(t.Slug, t.ResourceType, t.ResourceID)
}

// TxStore exposes the catalog operations the factory needs inside one
// transaction.
type TxStore interface {
	GeneralBySlugs(ctx context.Context, guardNamespace string, slugs []string) (map[string]catalog.Permission, error)
	InstanceByKeys(ctx context.Context, guardNamespace string, slugs, resourceTypes, resourceIDs []string) (map[string]catalog.Permission, error)
	InsertPermissions(ctx context.Context, perms []catalog.Permission) error
}

// Store runs factory work transactionally.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// NewStore adapts the catalog repository to the factory's Store port.
func NewStore(repo *catalog.Repository) Store {
	return pgStore{repo: repo}
}

type pgStore struct {
	repo *catalog.Repository
}

func (s pgStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx *catalog.Repository) error {
		return fn(ctx, tx)
	})
}

// Factory resolves or creates instance permissions.
type Factory struct {
	store Store
	title cases.Caser
}

// NewFactory constructs a Factory.
func NewFactory(store Store) *Factory {
	return &Factory{store: store, title: cases.Title(language.English)}
}

// ResolveOrCreate returns one permission per distinct input tuple, creating
// records that do not exist yet. Every requested slug must already have a
// general base permission; missing bases abort the whole call with one
// aggregated error before anything is written. The call is idempotent.
func (f *Factory) ResolveOrCreate(ctx context.Context, guardNamespace string, tuples []Tuple) ([]catalog.Permission, error) {
	tuples, err := normalizeTuples(tuples)
	if err != nil {
		return nil, err
	}
	if len(tuples) == 0 {
		return nil, nil
	}

	var resolved []catalog.Permission
	err = f.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		slugs := make([]string, len(tuples))
		resourceTypes := make([]string, len(tuples))
		resourceIDs := make([]string, len(tuples))
		for i, t := range tuples {
			slugs[i] = t.Slug
			resourceTypes[i] = t.ResourceType
			resourceIDs[i] = t.ResourceID
		}

		existing, err := tx.InstanceByKeys(ctx, guardNamespace, slugs, resourceTypes, resourceIDs)
		if err != nil {
			return fmt.Errorf("instperm: lookup existing: %w", err)
		}
		bases, err := tx.GeneralBySlugs(ctx, guardNamespace, uniqueSlugs(tuples))
		if err != nil {
			return fmt.Errorf("instperm: lookup bases: %w", err)
		}
		if err := requireBases(tuples, bases); err != nil {
			return err
		}

		var missing []catalog.Permission
		for _, t := range tuples {
			if _, ok := existing[t.Key()]; ok {
				continue
			}
			missing = append(missing, f.synthesize(bases[t.Slug], t))
		}
		if len(missing) > 0 {
			if err := tx.InsertPermissions(ctx, missing); err != nil {
				return fmt.Errorf("instperm: insert: %w", err)
			}
			// Re-resolve so the final mapping carries database ids for
			// both pre-existing and freshly created rows.
			existing, err = tx.InstanceByKeys(ctx, guardNamespace, slugs, resourceTypes, resourceIDs)
			if err != nil {
				return fmt.Errorf("instperm: re-resolve: %w", err)
			}
		}

		resolved = make([]catalog.Permission, 0, len(tuples))
		for _, t := range tuples {
			perm, ok := existing[t.Key()]
			if !ok {
				return fmt.Errorf("instperm: permission %q vanished after insert", t.Key())
			}
			resolved = append(resolved, perm)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// synthesize copies the base permission's attributes onto a new instance
// record with a generated display name and description.
func (f *Factory) synthesize(base catalog.Permission, t Tuple) catalog.Permission {
	resourceType := t.ResourceType
	resourceID := t.ResourceID
	metadata := make(map[string]string, len(base.Metadata))
	for k, v := range base.Metadata {
		metadata[k] = v
	}
	return catalog.Permission{
		Slug:           base.Slug,
		GuardNamespace: base.GuardNamespace,
		Name:           fmt.Sprintf("%s #%s", base.Name, t.ResourceID),
		Description:    fmt.Sprintf("%s scoped to %s #%s", base.Name, f.title.String(resourceType), t.ResourceID),
		ResourceType:   &resourceType,
		ResourceID:     &resourceID,
		Metadata:       metadata,
	}
}

// normalizeTuples trims, validates, and deduplicates by identity key,
// preserving first-seen order. Field errors aggregate into one failure.
func normalizeTuples(tuples []Tuple) ([]Tuple, error) {
	var invalid []int
	seen := make(map[string]struct{}, len(tuples))
	out := make([]Tuple, 0, len(tuples))
	for i, t := range tuples {
		t.Slug = strings.TrimSpace(strings.ToLower(t.Slug))
		t.ResourceType = strings.TrimSpace(t.ResourceType)
		t.ResourceID = strings.TrimSpace(t.ResourceID)
		if t.Slug == "" || t.ResourceType == "" || t.ResourceID == "" {
			invalid = append(invalid, i)
			continue
		}
		if _, ok := seen[t.Key()]; ok {
			continue
		}
		seen[t.Key()] = struct{}{}
		out = append(out, t)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("instperm: tuples at positions %v missing required fields: %w", invalid, shared.ErrValidation)
	}
	return out, nil
}

// requireBases fails with every missing base slug at once; partial creation
// never happens.
func requireBases(tuples []Tuple, bases map[string]catalog.Permission) error {
	missing := make(map[string]struct{})
	for _, t := range tuples {
		if _, ok := bases[t.Slug]; !ok {
			missing[t.Slug] = struct{}{}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slugs := make([]string, 0, len(missing))
	for slug := range missing {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return fmt.Errorf("instperm: no base permission for slugs %s: %w", strings.Join(slugs, ", "), shared.ErrNotFound)
}

func uniqueSlugs(tuples []Tuple) []string {
	seen := make(map[string]struct{}, len(tuples))
	var slugs []string
	for _, t := range tuples {
		if _, ok := seen[t.Slug]; ok {
			continue
		}
		seen[t.Slug] = struct{}{}
		slugs = append(slugs, t.Slug)
	}
	return slugs
}
