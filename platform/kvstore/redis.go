package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTimeout = 3 * time.Second

// incrScript increments and applies the TTL only when the key was created by
// this call (a fresh key has no expiry yet).
var incrScript = redis.NewScript(`
local value = redis.call('INCRBY', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 and redis.call('PTTL', KEYS[1]) == -1 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return value
`)

// casScript swaps the value when the current one matches. ARGV[3] == '1'
// means the key must be absent.
var casScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if ARGV[3] == '1' then
	if current then
		return 0
	end
elseif (not current) or current ~= ARGV[1] then
	return 0
end
local remaining = redis.call('PTTL', KEYS[1])
redis.call('SET', KEYS[1], ARGV[2])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
elseif remaining > 0 then
	redis.call('PEXPIRE', KEYS[1], remaining)
end
return 1
`)

// KeyPrefix namespaces every coordination key the services share.
const KeyPrefix = "leadflow:"

// RedisStore implements Store on top of Redis.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisStore creates a store. Every call is bounded by timeout (fail-fast).
func NewRedisStore(client redis.UniversalClient, prefix string, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &RedisStore{client: client, prefix: prefix, timeout: timeout}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// IncrBy implements Store.
func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64, ttlOnCreate time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, err := incrScript.Run(ctx, s.client, []string{s.key(key)}, delta, ttlOnCreate.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable("incr", key, err)
	}
	return value, nil
}

// PutIfAbsent implements Store.
func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	created, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, unavailable("put-if-absent", key, err)
	}
	return created, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", key, err)
	}
	return value, nil
}

// CompareAndSwap implements Store.
func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	mustBeAbsent := "0"
	if expected == nil {
		mustBeAbsent = "1"
	}

	swapped, err := casScript.Run(ctx, s.client, []string{s.key(key)},
		string(expected), string(next), mustBeAbsent, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, unavailable("compare-and-swap", key, err)
	}
	return swapped == 1, nil
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, key, err)
}

func parseInt(raw []byte) (int64, error) {
	value, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kvstore: counter is not an integer: %w", err)
	}
	return value, nil
}
