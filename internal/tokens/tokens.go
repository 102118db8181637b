package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/cacatua/cacatua/backend/go-services/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for every verification failure. Callers cannot
// tell a malformed token from an expired or forged one.
var ErrInvalidToken = errors.New("invalid token")

// Claims carried by an access token.
type Claims struct {
	jwt.RegisteredClaims
}

// Codec signs and verifies short-lived HS256 access tokens.
type Codec struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewCodec builds a codec from the JWT section of the config.
func NewCodec(cfg config.JWTConfig) *Codec {
	return &Codec{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.AccessTokenTTL,
		now:      time.Now,
	}
}

// WithClock replaces the time source; used to simulate expiry.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// Issue creates a signed access token for the given user id.
func (c *Codec) Issue(subject string) (string, error) {
	if len(c.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	if subject == "" {
		return "", errors.New("subject is required")
	}
	now := c.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer, audience and expiry.
func (c *Codec) Verify(raw string) (*Claims, error) {
	if len(c.secret) == 0 || raw == "" {
		return nil, ErrInvalidToken
	}
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !tok.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// Valid reports whether raw verifies.
func (c *Codec) Valid(raw string) bool {
	_, err := c.Verify(raw)
	return err == nil
}
