package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const geometryTTL = 10 * time.Minute

// GeometryCache keeps rendered track geometry payloads in redis so the
// geometry batch endpoint can skip the jsonb decode for hot tracks. It is
// strictly best-effort: every method is a no-op without a redis client and
// redis errors degrade to cache misses. The database stays authoritative.
type GeometryCache struct {
	redis *redis.Client
}

func NewGeometryCache(client *redis.Client) *GeometryCache {
	return &GeometryCache{redis: client}
}

// Keys carry the same (user, map, track) scope as the database predicate,
// so a cached payload can never be served across ownership boundaries.
func geometryKey(userID, mapID, trackID string) string {
	return "geometry:" + userID + ":" + mapID + ":" + trackID
}

func (c *GeometryCache) Get(ctx context.Context, userID, mapID, trackID string) ([]byte, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}
	payload, err := c.redis.Get(ctx, geometryKey(userID, mapID, trackID)).Bytes()
	if err != nil {
		return nil, false
	}
	return payload, true
}

func (c *GeometryCache) Set(ctx context.Context, userID, mapID, trackID string, payload []byte) {
	if c == nil || c.redis == nil {
		return
	}
	_ = c.redis.Set(ctx, geometryKey(userID, mapID, trackID), payload, geometryTTL).Err()
}

func (c *GeometryCache) Invalidate(ctx context.Context, userID, mapID string, trackIDs ...string) {
	if c == nil || c.redis == nil || len(trackIDs) == 0 {
		return
	}
	keys := make([]string, len(trackIDs))
	for i, id := range trackIDs {
		keys[i] = geometryKey(userID, mapID, id)
	}
	_ = c.redis.Del(ctx, keys...).Err()
}
