package kvstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yoockh/yoobatch/internal/utils"
)

var (
	incrExpireScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

	maxFloatScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or tonumber(ARGV[1]) > tonumber(cur) then
  redis.call('SET', KEYS[1], ARGV[1])
  return ARGV[1]
end
return cur
`)

	compareAndDeleteScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
)

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// classify turns a driver error into the coordination error taxonomy.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) {
		return utils.E(utils.CodeTimeout, op, "coordination call abandoned", err)
	}
	return utils.E(utils.CodeUnavailable, op, "coordination store unavailable", err)
}

func (s *RedisStore) AppendWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	const op = "RedisStore.AppendWithTTL"

	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, value)
		if ttl > 0 {
			p.PExpire(ctx, key, ttl)
		}
		return nil
	})
	return classify(ctx, op, err)
}

func (s *RedisStore) Range(ctx context.Context, key string) ([]string, error) {
	const op = "RedisStore.Range"

	out, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, classify(ctx, op, err)
	}
	return out, nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	const op = "RedisStore.SetNX"

	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, classify(ctx, op, err)
	}
	return ok, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	const op = "RedisStore.Set"

	if ttl < 0 {
		ttl = 0
	}
	return classify(ctx, op, s.rdb.Set(ctx, key, value, ttl).Err())
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	const op = "RedisStore.Get"

	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(ctx, op, err)
	}
	return v, true, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	const op = "RedisStore.Exists"

	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, classify(ctx, op, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	const op = "RedisStore.Del"

	if len(keys) == 0 {
		return nil
	}
	return classify(ctx, op, s.rdb.Del(ctx, keys...).Err())
}

func (s *RedisStore) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	const op = "RedisStore.IncrWithExpire"

	n, err := incrExpireScript.Run(ctx, s.rdb, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, classify(ctx, op, err)
	}
	return n, nil
}

func (s *RedisStore) MaxFloat(ctx context.Context, key string, v float64) (float64, error) {
	const op = "RedisStore.MaxFloat"

	raw, err := maxFloatScript.Run(ctx, s.rdb, []string{key}, strconv.FormatFloat(v, 'f', -1, 64)).Text()
	if err != nil {
		return 0, classify(ctx, op, err)
	}
	kept, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "stored value is not a number", err)
	}
	return kept, nil
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	const op = "RedisStore.CompareAndDelete"

	n, err := compareAndDeleteScript.Run(ctx, s.rdb, []string{key}, value).Int64()
	if err != nil {
		return false, classify(ctx, op, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return classify(ctx, "RedisStore.Ping", s.rdb.Ping(ctx).Err())
}
