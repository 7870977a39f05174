package instperm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardpost/guardpost/internal/catalog"
	"github.com/guardpost/guardpost/internal/shared"
)

type memStore struct {
	general  map[string]catalog.Permission
	instance map[string]catalog.Permission
	nextID   int64
	inserted int
}

func newMemStore() *memStore {
	return &memStore{
		general:  map[string]catalog.Permission{},
		instance: map[string]catalog.Permission{},
		nextID:   100,
	}
}

func (s *memStore) addBase(slug, name string) {
	s.nextID++
	s.general[slug] = catalog.Permission{
		ID: s.nextID, Slug: slug, GuardNamespace: "api", Name: name,
		Metadata: map[string]string{"module": "docs"},
	}
}

func (s *memStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, s)
}

func (s *memStore) GeneralBySlugs(ctx context.Context, guardNamespace string, slugs []string) (map[string]catalog.Permission, error) {
	out := map[string]catalog.Permission{}
	for _, slug := range slugs {
		if perm, ok := s.general[slug]; ok && perm.GuardNamespace == guardNamespace {
			out[slug] = perm
		}
	}
	return out, nil
}

func (s *memStore) InstanceByKeys(ctx context.Context, guardNamespace string, slugs, resourceTypes, resourceIDs []string) (map[string]catalog.Permission, error) {
	out := map[string]catalog.Permission{}
	for i := range slugs {
		key := catalog.InstanceKey(slugs[i], resourceTypes[i], resourceIDs[i])
		if perm, ok := s.instance[key]; ok && perm.GuardNamespace == guardNamespace {
			out[key] = perm
		}
	}
	return out, nil
}

func (s *memStore) InsertPermissions(ctx context.Context, perms []catalog.Permission) error {
	for _, perm := range perms {
		s.nextID++
		perm.ID = s.nextID
		s.instance[perm.IdentityKey()] = perm
		s.inserted++
	}
	return nil
}

func TestResolveOrCreateSynthesizesMissing(t *testing.T) {
	store := newMemStore()
	store.addBase("docs.edit", "Edit documents")
	factory := NewFactory(store)

	perms, err := factory.ResolveOrCreate(context.Background(), "api", []Tuple{
		{Slug: "docs.edit", ResourceType: "document", ResourceID: "42"},
	})
	require.NoError(t, err)
	require.Len(t, perms, 1)

	perm := perms[0]
	assert.NotZero(t, perm.ID)
	assert.Equal(t, "docs.edit", perm.Slug)
	assert.Equal(t, "api", perm.GuardNamespace)
	assert.Equal(t, "Edit documents #42", perm.Name)
	assert.Equal(t, "Edit documents scoped to Document #42", perm.Description)
	require.NotNil(t, perm.ResourceType)
	assert.Equal(t, "document", *perm.ResourceType)
	require.NotNil(t, perm.ResourceID)
	assert.Equal(t, "42", *perm.ResourceID)
	assert.Equal(t, map[string]string{"module": "docs"}, perm.Metadata)
}

func TestResolveOrCreateIsIdempotent(t *testing.T) {
	store := newMemStore()
	store.addBase("docs.edit", "Edit documents")
	factory := NewFactory(store)

	tuples := []Tuple{{Slug: "docs.edit", ResourceType: "document", ResourceID: "42"}}
	first, err := factory.ResolveOrCreate(context.Background(), "api", tuples)
	require.NoError(t, err)
	second, err := factory.ResolveOrCreate(context.Background(), "api", tuples)
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 1, store.inserted)
}

func TestResolveOrCreateNormalizesAndDeduplicates(t *testing.T) {
	store := newMemStore()
	store.addBase("docs.edit", "Edit documents")
	factory := NewFactory(store)

	perms, err := factory.ResolveOrCreate(context.Background(), "api", []Tuple{
		{Slug: "  DOCS.EDIT ", ResourceType: " document ", ResourceID: " 42 "},
		{Slug: "docs.edit", ResourceType: "document", ResourceID: "42"},
	})
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "docs.edit", perms[0].Slug)
	assert.Equal(t, 1, store.inserted)
}

func TestResolveOrCreateAggregatesInvalidTuples(t *testing.T) {
	factory := NewFactory(newMemStore())

	_, err := factory.ResolveOrCreate(context.Background(), "api", []Tuple{
		{Slug: "docs.edit", ResourceType: "document", ResourceID: "42"},
		{Slug: "", ResourceType: "document", ResourceID: "43"},
		{Slug: "docs.edit", ResourceType: "", ResourceID: ""},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "[1 2]")
}

func TestResolveOrCreateMissingBasesAbortEverything(t *testing.T) {
	store := newMemStore()
	store.addBase("docs.edit", "Edit documents")
	factory := NewFactory(store)

	_, err := factory.ResolveOrCreate(context.Background(), "api", []Tuple{
		{Slug: "docs.edit", ResourceType: "document", ResourceID: "42"},
		{Slug: "zz.unknown", ResourceType: "document", ResourceID: "42"},
		{Slug: "aa.unknown", ResourceType: "document", ResourceID: "42"},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	// Missing slugs are sorted and reported together.
	assert.Contains(t, err.Error(), "aa.unknown, zz.unknown")
	assert.Zero(t, store.inserted)
}

func TestResolveOrCreatePreservesTupleOrder(t *testing.T) {
	store := newMemStore()
	store.addBase("docs.edit", "Edit documents")
	store.addBase("docs.view", "View documents")
	factory := NewFactory(store)

	perms, err := factory.ResolveOrCreate(context.Background(), "api", []Tuple{
		{Slug: "docs.view", ResourceType: "document", ResourceID: "2"},
		{Slug: "docs.edit", ResourceType: "document", ResourceID: "1"},
		{Slug: "docs.view", ResourceType: "folder", ResourceID: "9"},
	})
	require.NoError(t, err)
	require.Len(t, perms, 3)
	assert.Equal(t, "docs.view|document|2", perms[0].IdentityKey())
	assert.Equal(t, "docs.edit|document|1", perms[1].IdentityKey())
	assert.Equal(t, "docs.view|folder|9", perms[2].IdentityKey())
}

func TestResolveOrCreateEmptyInput(t *testing.T) {
	perms, err := NewFactory(newMemStore()).ResolveOrCreate(context.Background(), "api", nil)
	require.NoError(t, err)
	assert.Nil(t, perms)
}
