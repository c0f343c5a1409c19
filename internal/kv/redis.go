package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// casScriptSource implements CompareAndSwap atomically on the server.
// ARGV: expected ("" = must be absent), new value ("" = delete), ttl in ms.
const casScriptSource = `
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '' then
    if cur then return 0 end
else
    if cur ~= ARGV[1] then return 0 end
end
if ARGV[2] == '' then
    redis.call('DEL', KEYS[1])
else
    local ttl = tonumber(ARGV[3])
    if ttl > 0 then
        redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
    else
        redis.call('SET', KEYS[1], ARGV[2])
    end
end
return 1
`

var casScript = redis.NewScript(casScriptSource)

const scanBatchSize = 100

// RedisStore is the local backend on top of an owned go-redis client.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", backendErr("redis", "get", err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return backendErr("redis", "set", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return 0, backendErr("redis", "del", err)
	}
	return n, nil
}

// Keys walks the keyspace with SCAN rather than KEYS so a large keyspace
// does not block the server.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys := make([]string, 0)
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, backendErr("redis", "keys", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return dedupe(keys), nil
		}
		cursor = next
	}
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, key, expected, value string, ttl time.Duration) (bool, error) {
	var ttlMillis int64
	if ttl > 0 {
		ttlMillis = ttl.Milliseconds()
	}
	n, err := casScript.Run(ctx, s.client, []string{key}, expected, value, ttlMillis).Int64()
	if err != nil {
		return false, backendErr("redis", "cas", err)
	}
	return n == 1, nil
}

// Close is a no-op: the client belongs to the caller that created it.
func (s *RedisStore) Close() error {
	return nil
}

// SCAN may return a key more than once.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
