package sessions

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRefreshToken covers unknown, revoked and expired refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	// ErrTokenNotFound is returned by Rotate when the old token no longer resolves,
	// typically because a concurrent refresh already rotated it.
	ErrTokenNotFound = errors.New("old refresh token not found")
	// ErrMalformedRecord is returned when a stored record fails validation on decode.
	ErrMalformedRecord = errors.New("malformed refresh token record")
)

// RefreshToken is one persisted refresh credential in the refresh_tokens collection.
type RefreshToken struct {
	UserUID   string    `bson:"user_uid" json:"user_uid"`
	Token     string    `bson:"refresh_token" json:"refresh_token"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	IsRevoked bool      `bson:"is_revoked" json:"is_revoked"`
}

// Validate checks the fields every stored record must carry.
func (r *RefreshToken) Validate() error {
	switch {
	case r.UserUID == "":
		return fmt.Errorf("%w: missing user_uid", ErrMalformedRecord)
	case r.Token == "":
		return fmt.Errorf("%w: missing refresh_token", ErrMalformedRecord)
	case r.ExpiresAt.IsZero():
		return fmt.Errorf("%w: missing expires_at", ErrMalformedRecord)
	}
	return nil
}

// Active reports whether the record can still be exchanged at now.
func (r *RefreshToken) Active(now time.Time) bool {
	return !r.IsRevoked && !r.ExpiresAt.Before(now)
}

func newRecord(owner, token string, now time.Time, ttl time.Duration) *RefreshToken {
	now = now.UTC()
	return &RefreshToken{
		UserUID:   owner,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}
