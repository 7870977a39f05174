// Package permcache memoizes permission resolution per principal. A small
// in-process LRU sits in front of Redis; concurrent resolves for the same
// principal collapse into one through singleflight. Correctness rests on
// event-driven invalidation, not expiry: TTL is whatever the operator
// configures, including none.
package permcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/guardpost/guardpost/internal/resolver"
)

const keyPrefix = "guardpost:perms:"

// ResolverPort computes a fresh effective permission set on cache miss.
type ResolverPort interface {
	Resolve(ctx context.Context, principalID int64) (*resolver.EffectivePermissionSet, error)
}

// RoleMembersPort lists principals holding a role, for invalidation fan-out.
type RoleMembersPort interface {
	PrincipalIDsForRole(ctx context.Context, roleID int64) ([]int64, error)
}

// Metrics receives cache instrumentation events.
type Metrics interface {
	CacheHit(layer string)
	CacheMiss()
	ResolveDuration(seconds float64)
}

// Cache wraps the resolver with two memoization layers keyed by principal id.
type Cache struct {
	resolver ResolverPort
	members  RoleMembersPort
	client   *redis.Client
	local    *lru.Cache[int64, *resolver.EffectivePermissionSet]
	group    singleflight.Group
	ttl      time.Duration
	metrics  Metrics
	logger   *slog.Logger
}

// Options tunes cache construction.
type Options struct {
	// TTL for Redis entries; zero means no expiry.
	TTL time.Duration
	// LocalSize bounds the in-process LRU. Defaults to 4096 entries.
	LocalSize int
	Metrics   Metrics
	Logger    *slog.Logger
}

// New constructs a Cache. The Redis client may be nil; the cache then runs
// on the in-process layer alone.
func New(res ResolverPort, members RoleMembersPort, client *redis.Client, opts Options) (*Cache, error) {
	size := opts.LocalSize
	if size <= 0 {
		size = 4096
	}
	local, err := lru.New[int64, *resolver.EffectivePermissionSet](size)
	if err != nil {
		return nil, fmt.Errorf("permcache: lru: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		resolver: res,
		members:  members,
		client:   client,
		local:    local,
		ttl:      opts.TTL,
		metrics:  opts.Metrics,
		logger:   logger,
	}, nil
}

// Get returns the memoized resolution for a principal, resolving on miss.
func (c *Cache) Get(ctx context.Context, principalID int64) (*resolver.EffectivePermissionSet, error) {
	if set, ok := c.local.Get(principalID); ok {
		c.hit("local")
		return set, nil
	}
	if set := c.fromRedis(ctx, principalID); set != nil {
		c.hit("redis")
		c.local.Add(principalID, set)
		return set, nil
	}
	c.miss()

	value, err, _ := c.group.Do(strconv.FormatInt(principalID, 10), func() (any, error) {
		start := time.Now()
		set, err := c.resolver.Resolve(ctx, principalID)
		if err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.ResolveDuration(time.Since(start).Seconds())
		}
		c.store(ctx, principalID, set)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*resolver.EffectivePermissionSet), nil
}

// InvalidatePrincipal drops the cached resolution for one principal.
func (c *Cache) InvalidatePrincipal(ctx context.Context, principalID int64) error {
	c.local.Remove(principalID)
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, key(principalID)).Err(); err != nil {
		return fmt.Errorf("permcache: del %d: %w", principalID, err)
	}
	return nil
}

// InvalidateRole fans out to every principal presently holding the role.
func (c *Cache) InvalidateRole(ctx context.Context, roleID int64) error {
	principalIDs, err := c.members.PrincipalIDsForRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("permcache: role members: %w", err)
	}
	for _, id := range principalIDs {
		if err := c.InvalidatePrincipal(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateAll flushes every cached resolution. Administrative use only;
// mutation-triggered invalidation stays principal- or role-scoped.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	c.local.Purge()
	if c.client == nil {
		return nil
	}
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("permcache: scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("permcache: flush: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *Cache) fromRedis(ctx context.Context, principalID int64) *resolver.EffectivePermissionSet {
	if c.client == nil {
		return nil
	}
	payload, err := c.client.Get(ctx, key(principalID)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		c.logger.Warn("permission cache read failed",
			slog.Int64("principal_id", principalID), slog.Any("error", err))
		return nil
	}
	var set resolver.EffectivePermissionSet
	if err := json.Unmarshal(payload, &set); err != nil {
		c.logger.Warn("permission cache payload corrupt",
			slog.Int64("principal_id", principalID), slog.Any("error", err))
		return nil
	}
	return &set
}

func (c *Cache) store(ctx context.Context, principalID int64, set *resolver.EffectivePermissionSet) {
	c.local.Add(principalID, set)
	if c.client == nil {
		return
	}
	payload, err := json.Marshal(set)
	if err != nil {
		c.logger.Error("permission cache encode failed", slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, key(principalID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("permission cache write failed",
			slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
}

func (c *Cache) hit(layer string) {
	if c.metrics != nil {
		c.metrics.CacheHit(layer)
	}
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMiss()
	}
}

func key(principalID int64) string {
	return keyPrefix + strconv.FormatInt(principalID, 10)
}
