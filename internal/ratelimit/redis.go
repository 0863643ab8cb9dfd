package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript charges one point atomically.
//
// KEYS[1] counter, KEYS[2] block marker
// ARGV[1] points, ARGV[2] window ms, ARGV[3] block ms
// Returns {consumed, ms until reset or unblock, blocked(0|1)}.
var consumeScript = redis.NewScript(`
local points = tonumber(ARGV[1])
local blockTTL = redis.call('PTTL', KEYS[2])
if blockTTL > 0 then
  return {points + 1, blockTTL, 1}
end
local consumed = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
if consumed > points then
  local block = tonumber(ARGV[3])
  if block > 0 then
    redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
    redis.call('DEL', KEYS[1])
    return {points + 1, block, 1}
  end
  return {consumed, ttl, 1}
end
return {consumed, ttl, 0}
`)

// RedisStore shares buckets across processes through Redis. Window expiry is
// driven by Redis key TTLs, so the now argument to Consume is ignored.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	opTimeout time.Duration
}

// NewRedisStore returns a store using keys under prefix (e.g. "rl").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisStore{client: client, prefix: prefix, opTimeout: 500 * time.Millisecond}
}

func (s *RedisStore) keys(key string) []string {
	// Hash tag keeps both keys in one cluster slot.
	base := s.prefix + ":{" + key + "}"
	return []string{base, base + ":blk"}
}

// Consume implements Store.
//
// The charge is bounded by the store's own timeout only: a caller that goes
// away mid-request must not turn into a store failure.
func (s *RedisStore) Consume(ctx context.Context, key string, p Policy, _ time.Time) (Usage, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opTimeout)
	defer cancel()

	vals, err := consumeScript.Run(ctx, s.client, s.keys(key),
		p.Points, p.Window.Milliseconds(), p.Block.Milliseconds()).Int64Slice()
	if err != nil {
		return Usage{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(vals) != 3 {
		return Usage{}, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, vals)
	}
	return Usage{
		Consumed: int(vals[0]),
		ResetIn:  time.Duration(vals[1]) * time.Millisecond,
		Blocked:  vals[2] == 1,
	}, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
