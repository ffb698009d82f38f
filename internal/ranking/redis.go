package ranking

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Each ranked set is a sorted set (member -> score) plus a hash holding the
// submission time of every member in unix milliseconds. The scripts below
// keep the two in step and apply the same tie-break as MemoryStore.

var upsertScript = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

var removeScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
if redis.call('ZCARD', KEYS[1]) == 0 then
  redis.call('DEL', KEYS[2])
end
return 1
`)

// trimScript removes the worst member until ZCARD <= n. Among members tied
// on the worst score the latest submission goes first, then the
// lexically greatest id.
var trimScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local removed = 0
while redis.call('ZCARD', KEYS[1]) > n do
  local worst = redis.call('ZREVRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  local tied = redis.call('ZRANGEBYSCORE', KEYS[1], worst[2], worst[2])
  local victim = nil
  local victimAt = nil
  for _, m in ipairs(tied) do
    local at = tonumber(redis.call('HGET', KEYS[2], m) or '0')
    if victim == nil or at > victimAt or (at == victimAt and m > victim) then
      victim = m
      victimAt = at
    end
  end
  redis.call('ZREM', KEYS[1], victim)
  redis.call('HDEL', KEYS[2], victim)
  removed = removed + 1
end
if redis.call('ZCARD', KEYS[1]) == 0 then
  redis.call('DEL', KEYS[2])
end
return removed
`)

// RedisStore keeps ranked sets in Redis so every server instance shares
// one view of the live leaderboards.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func seqKey(key string) string {
	return key + ":seq"
}

func (s *RedisStore) Upsert(ctx context.Context, key, member string, score int64, submittedAt time.Time) error {
	at := normalizeTime(submittedAt).UnixMilli()
	if err := upsertScript.Run(ctx, s.client, []string{key, seqKey(key)}, score, member, at).Err(); err != nil {
		return fmt.Errorf("ranking: upsert %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key, member string) error {
	if err := removeScript.Run(ctx, s.client, []string{key, seqKey(key)}, member).Err(); err != nil {
		return fmt.Errorf("ranking: remove %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Trim(ctx context.Context, key string, n int) error {
	if n < 0 {
		n = 0
	}
	if err := trimScript.Run(ctx, s.client, []string{key, seqKey(key)}, n).Err(); err != nil {
		return fmt.Errorf("ranking: trim %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) RangeAscending(ctx context.Context, key string, start, end int) ([]Entry, error) {
	var zs *redis.ZSliceCmd
	var seqs *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		zs = pipe.ZRangeWithScores(ctx, key, 0, -1)
		seqs = pipe.HGetAll(ctx, seqKey(key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ranking: range %s: %w", key, err)
	}

	at := seqs.Val()
	all := make([]Entry, 0, len(zs.Val()))
	for _, z := range zs.Val() {
		member, _ := z.Member.(string)
		millis, _ := strconv.ParseInt(at[member], 10, 64)
		all = append(all, Entry{
			Member:      member,
			Score:       int64(z.Score),
			SubmittedAt: time.UnixMilli(millis).UTC(),
		})
	}
	slices.SortFunc(all, compareEntries)

	start, end = window(start, end, len(all))
	return ranked(all[start:end], start), nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("ranking: exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key, seqKey(key)).Err(); err != nil {
		return fmt.Errorf("ranking: clear %s: %w", key, err)
	}
	return nil
}
