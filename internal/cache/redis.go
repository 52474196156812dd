package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"antiddos/internal/models"

	"github.com/redis/go-redis/v9"
)

// presenceField marks a cached hash so that an empty settings map is still a hit.
const presenceField = "__cached"

// fillScript replaces the hash only while the version key still holds the
// version the caller read. KEYS: version key, hash key. ARGV: version, ttl in
// milliseconds, then field/value pairs.
var fillScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[2])
redis.call('HSET', KEYS[2], unpack(ARGV, 3))
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return 1
`)

// Redis keeps snapshots in Redis hashes so that several gate processes share
// one cache and one invalidation.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg models.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	return r.prefix + "settings:" + k
}

func (r *Redis) versionKey(k string) string {
	return r.prefix + "settings-version:" + k
}

func (r *Redis) Get(ctx context.Context, key string) (map[string]string, bool, error) {
	values, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis hgetall: %w", err)
	}
	if _, ok := values[presenceField]; !ok {
		return nil, false, nil
	}
	delete(values, presenceField)
	return values, true, nil
}

func (r *Redis) Version(ctx context.Context, key string) (uint64, error) {
	v, err := r.client.Get(ctx, r.versionKey(key)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get version: %w", err)
	}
	return v, nil
}

// Fill replaces the hash and its expiry atomically, provided the shared version
// still matches.
func (r *Redis) Fill(ctx context.Context, key string, value map[string]string, ttl time.Duration, version uint64) (bool, error) {
	args := make([]any, 0, 2+2*(len(value)+1))
	args = append(args, strconv.FormatUint(version, 10), ttl.Milliseconds())
	for f, v := range value {
		args = append(args, f, v)
	}
	args = append(args, presenceField, "1")

	stored, err := fillScript.Run(ctx, r.client, []string{r.versionKey(key), r.key(key)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("redis fill snapshot: %w", err)
	}
	return stored == 1, nil
}

// Invalidate bumps the version and drops the hash in one transaction. The
// version key never expires.
func (r *Redis) Invalidate(ctx context.Context, key string) error {
	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, r.versionKey(key))
	pipe.Del(ctx, r.key(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
