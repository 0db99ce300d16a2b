package mrp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionPrefix = "mrp:version"
	bumpChannel        = "mrp.plan.bump"
)

// PlanCache keeps computed plans in Redis under per-workspace versioned keys.
type PlanCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPlanCache instantiates the cache helper.
func NewPlanCache(client *redis.Client, ttl time.Duration) *PlanCache {
	return &PlanCache{client: client, ttl: ttl}
}

func versionKey(workspaceID string) string {
	return cacheVersionPrefix + ":" + workspaceID
}

// Version returns the workspace's cache version, initialising when missing.
func (c *PlanCache) Version(ctx context.Context, workspaceID string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(workspaceID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// SetNX keeps a concurrent Bump from being overwritten.
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, key, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// BuildKey composes a cache key for the workspace with its current version.
func (c *PlanCache) BuildKey(ctx context.Context, workspaceID string, parts ...string) (string, error) {
	joined := strings.Join(append([]string{"mrp", workspaceID}, parts...), ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", joined, ver), nil
}

// ErrCacheUnavailable reports that Redis failed while dest was still filled
// from the loader.
var ErrCacheUnavailable = errors.New("mrp cache: unavailable")

// FetchJSON loads a cached value or populates it using the loader. When Redis
// fails the loader result is decoded into dest and the error wraps
// ErrCacheUnavailable.
func (c *PlanCache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("mrp cache: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return roundTrip(value, dest)
	}
	payload, getErr := c.client.Get(ctx, key).Bytes()
	if getErr == nil {
		return json.Unmarshal(payload, dest)
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return err
	}
	if !errors.Is(getErr, redis.Nil) {
		return fmt.Errorf("%w: get %s: %v", ErrCacheUnavailable, key, getErr)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrCacheUnavailable, key, err)
	}
	return nil
}

// Bump invalidates the workspace's cached plans and publishes the new version.
func (c *PlanCache) Bump(ctx context.Context, workspaceID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(workspaceID)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, workspaceID+":"+strconv.FormatInt(ver, 10)).Err()
}

func roundTrip(value any, dest any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
