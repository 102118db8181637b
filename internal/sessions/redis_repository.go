package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository implements Repository using Redis as the backing store.
// Records are stored as JSON under "<prefix><refreshToken>" with TTL = expiresAt - now;
// "<prefix>owner:<uid>" is a set of the owner's token values.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// rotateScript removes the old record and writes the new one in a single
// server-side step. Returns 0 when the old token is not held by the owner.
var rotateScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[3], ARGV[1]) == 0 then
  return 0
end
redis.call('SREM', KEYS[3], ARGV[1])
if redis.call('DEL', KEYS[1]) == 0 then
  return 0
end
redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[4])
redis.call('SADD', KEYS[3], ARGV[2])
return 1
`)

// deleteOwnerScript removes every record listed in the owner set, then the set.
var deleteOwnerScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, t in ipairs(members) do
  n = n + redis.call('DEL', ARGV[1] .. t)
end
redis.call('DEL', KEYS[1])
return n
`)

// NewRedisRepository creates a Redis-based token store. Prefix may be empty.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "rt:"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) key(token string) string {
	return r.prefix + token
}

func (r *RedisRepository) ownerKey(owner string) string {
	return r.prefix + "owner:" + owner
}

func ttlFor(rt *RefreshToken) time.Duration {
	exp := time.Until(rt.ExpiresAt)
	if exp <= 0 {
		// ensure a minimal TTL so Redis won't store expired records indefinitely
		exp = time.Second
	}
	return exp
}

func (r *RedisRepository) Insert(ctx context.Context, rt *RefreshToken) error {
	if err := rt.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(rt)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.key(rt.Token), b, ttlFor(rt))
		p.SAdd(ctx, r.ownerKey(rt.UserUID), rt.Token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *RedisRepository) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	b, err := r.client.Get(ctx, r.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return decodeRecord(b)
}

func (r *RedisRepository) FindByOwner(ctx context.Context, owner string) ([]*RefreshToken, error) {
	members, err := r.client.SMembers(ctx, r.ownerKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("list owner tokens: %w", err)
	}
	out := []*RefreshToken{}
	for _, tok := range members {
		rt, err := r.FindByToken(ctx, tok)
		if err != nil {
			return nil, err
		}
		if rt == nil {
			// record expired; drop the stale index entry
			_ = r.client.SRem(ctx, r.ownerKey(owner), tok).Err()
			continue
		}
		out = append(out, rt)
	}
	return out, nil
}

func (r *RedisRepository) Rotate(ctx context.Context, owner, oldToken string, next *RefreshToken) error {
	if err := next.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(next)
	if err != nil {
		return err
	}
	keys := []string{r.key(oldToken), r.key(next.Token), r.ownerKey(owner)}
	ok, err := rotateScript.Run(ctx, r.client, keys, oldToken, next.Token, string(b), ttlFor(next).Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if ok == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (r *RedisRepository) DeleteByOwner(ctx context.Context, owner string) (int64, error) {
	n, err := deleteOwnerScript.Run(ctx, r.client, []string{r.ownerKey(owner)}, r.prefix).Int64()
	if err != nil {
		return 0, fmt.Errorf("delete refresh tokens by owner: %w", err)
	}
	return n, nil
}

// DeleteExpired is a no-op: Redis expires records through their TTL.
func (r *RedisRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func decodeRecord(b []byte) (*RefreshToken, error) {
	var rt RefreshToken
	if err := json.Unmarshal(b, &rt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	return &rt, nil
}
