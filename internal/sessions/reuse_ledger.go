package sessions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReuseLedger remembers refresh tokens that were rotated out so a replayed
// token can be told apart from one that never existed. Only a hash of the
// token is stored. A nil ledger or a ledger without a client is a no-op.
type ReuseLedger struct {
	client *redis.Client
	prefix string
}

func NewReuseLedger(client *redis.Client) *ReuseLedger {
	return &ReuseLedger{client: client, prefix: "rt:retired:"}
}

func (l *ReuseLedger) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return l.prefix + hex.EncodeToString(sum[:])
}

// Remember records token as retired by owner for ttl.
func (l *ReuseLedger) Remember(ctx context.Context, token, owner string, ttl time.Duration) error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Set(ctx, l.key(token), owner, ttl).Err()
}

// Lookup returns the owner of a retired token, if it is still remembered.
func (l *ReuseLedger) Lookup(ctx context.Context, token string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, nil
	}
	owner, err := l.client.Get(ctx, l.key(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return owner, true, nil
}
