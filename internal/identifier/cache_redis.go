package identifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"vouch/internal/enc"
)

// Cache is a best-effort read-through cache for identifier resolution,
// backed by Redis. A miss or a Redis error simply falls through to the
// store; resolution correctness never depends on the cache.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(did string) string {
	return "identifier:keys:" + did
}

func (c *Cache) Get(ctx context.Context, did string) ([][]byte, bool) {
	raw, err := c.client.Get(ctx, cacheKey(did)).Result()
	if err != nil {
		return nil, false
	}
	var encoded []string
	if err := json.Unmarshal([]byte(raw), &encoded); err != nil {
		return nil, false
	}
	// A registered identifier always has at least one key, so an empty
	// entry is corruption. Treat it as a miss and let the store answer.
	if len(encoded) == 0 {
		return nil, false
	}
	keys := make([][]byte, 0, len(encoded))
	for _, s := range encoded {
		key, err := enc.Read(s)
		if err != nil {
			return nil, false
		}
		keys = append(keys, key)
	}
	return keys, true
}

func (c *Cache) Set(ctx context.Context, did string, keys [][]byte) {
	encoded := make([]string, len(keys))
	for i, key := range keys {
		encoded[i] = enc.Show(key)
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, cacheKey(did), raw, c.ttl).Err()
}
