package permcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardpost/guardpost/internal/resolver"
)

type countingResolver struct {
	calls int
}

func (r *countingResolver) Resolve(ctx context.Context, principalID int64) (*resolver.EffectivePermissionSet, error) {
	r.calls++
	return &resolver.EffectivePermissionSet{
		PrincipalID:     principalID,
		General:         map[string]resolver.PermissionGrant{"docs.view": {}},
		PermissionOrder: []string{"docs.view"},
		ResolvedAt:      time.Now().UTC(),
	}, nil
}

type staticMembers struct {
	members map[int64][]int64
}

func (m staticMembers) PrincipalIDsForRole(ctx context.Context, roleID int64) ([]int64, error) {
	return m.members[roleID], nil
}

func testCache(t *testing.T, res ResolverPort, members RoleMembersPort, opts Options) (*Cache, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache, err := New(res, members, client, opts)
	require.NoError(t, err)
	return cache, client
}

func TestGetResolvesOnceAndCaches(t *testing.T) {
	res := &countingResolver{}
	cache, client := testCache(t, res, staticMembers{}, Options{})
	ctx := context.Background()

	set, err := cache.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), set.PrincipalID)
	assert.Equal(t, 1, res.calls)

	_, err = cache.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, res.calls)

	// The resolution also landed in redis.
	exists, err := client.Exists(ctx, "guardpost:perms:7").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestGetFallsBackToRedisAfterLocalEviction(t *testing.T) {
	res := &countingResolver{}
	cache, _ := testCache(t, res, staticMembers{}, Options{LocalSize: 1})
	ctx := context.Background()

	_, err := cache.Get(ctx, 7)
	require.NoError(t, err)
	// Principal 8 evicts 7 from the single-slot local layer.
	_, err = cache.Get(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, 2, res.calls)

	set, err := cache.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), set.PrincipalID)
	assert.True(t, set.HasPermission("docs.view", "", ""))
	assert.Equal(t, 2, res.calls)
}

func TestInvalidatePrincipal(t *testing.T) {
	res := &countingResolver{}
	cache, client := testCache(t, res, staticMembers{}, Options{})
	ctx := context.Background()

	_, err := cache.Get(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, cache.InvalidatePrincipal(ctx, 7))

	exists, err := client.Exists(ctx, "guardpost:perms:7").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	_, err = cache.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, res.calls)
}

func TestInvalidateRoleFansOutToMembers(t *testing.T) {
	res := &countingResolver{}
	cache, _ := testCache(t, res, staticMembers{members: map[int64][]int64{10: {7, 8}}}, Options{})
	ctx := context.Background()

	_, err := cache.Get(ctx, 7)
	require.NoError(t, err)
	_, err = cache.Get(ctx, 8)
	require.NoError(t, err)
	_, err = cache.Get(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, 3, res.calls)

	require.NoError(t, cache.InvalidateRole(ctx, 10))

	_, err = cache.Get(ctx, 7)
	require.NoError(t, err)
	_, err = cache.Get(ctx, 8)
	require.NoError(t, err)
	_, err = cache.Get(ctx, 9)
	require.NoError(t, err)
	// 7 and 8 re-resolved, 9 stayed cached.
	assert.Equal(t, 5, res.calls)
}

func TestInvalidateAll(t *testing.T) {
	res := &countingResolver{}
	cache, client := testCache(t, res, staticMembers{}, Options{})
	ctx := context.Background()

	for id := int64(1); id <= 5; id++ {
		_, err := cache.Get(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, cache.InvalidateAll(ctx))

	keys, err := client.Keys(ctx, "guardpost:perms:*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = cache.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, res.calls)
}

func TestCacheWithoutRedis(t *testing.T) {
	res := &countingResolver{}
	cache, err := New(res, staticMembers{}, nil, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cache.Get(ctx, 7)
	require.NoError(t, err)
	_, err = cache.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, res.calls)

	require.NoError(t, cache.InvalidatePrincipal(ctx, 7))
	require.NoError(t, cache.InvalidateAll(ctx))

	_, err = cache.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, res.calls)
}

func TestRedisEntriesExpireWithTTL(t *testing.T) {
	res := &countingResolver{}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache, err := New(res, staticMembers{}, client, Options{TTL: time.Minute, LocalSize: 1})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cache.Get(ctx, 7)
	require.NoError(t, err)
	_, err = cache.Get(ctx, 8)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = cache.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, res.calls)
}
