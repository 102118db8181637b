package sessions

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/cacatua/cacatua/backend/go-services/pkg/logger"
	"github.com/cacatua/cacatua/backend/go-services/pkg/metrics"
)

// tokenBytes is the amount of randomness in a refresh token (512 bits).
const tokenBytes = 64

// Manager owns the refresh token lifecycle on top of a Repository.
type Manager struct {
	repo   Repository
	ttl    time.Duration
	now    func() time.Time
	ledger *ReuseLedger
}

func NewManager(r Repository, ttl time.Duration) *Manager {
	return &Manager{repo: r, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source used for creation and expiry checks.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithReuseLedger enables replay detection for rotated tokens.
func (m *Manager) WithReuseLedger(l *ReuseLedger) *Manager {
	m.ledger = l
	return m
}

// Generate returns a new opaque refresh token value.
func (m *Manager) Generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Persist stores token for owner, valid for the configured TTL.
func (m *Manager) Persist(ctx context.Context, owner, token string) (*RefreshToken, error) {
	rt := newRecord(owner, token, m.now(), m.ttl)
	if err := m.repo.Insert(ctx, rt); err != nil {
		return nil, err
	}
	return rt, nil
}

// Issue generates and persists a new refresh token for owner.
func (m *Manager) Issue(ctx context.Context, owner string) (string, error) {
	tok, err := m.Generate()
	if err != nil {
		return "", err
	}
	if _, err := m.Persist(ctx, owner, tok); err != nil {
		return "", err
	}
	return tok, nil
}

// Validate resolves token to its record. Unknown, revoked and expired tokens
// all yield ErrInvalidRefreshToken; other errors come from the store.
func (m *Manager) Validate(ctx context.Context, token string) (*RefreshToken, error) {
	if token == "" {
		return nil, ErrInvalidRefreshToken
	}
	rt, err := m.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if rt == nil {
		m.checkReuse(ctx, token)
		return nil, ErrInvalidRefreshToken
	}
	if !rt.Active(m.now()) {
		return nil, ErrInvalidRefreshToken
	}
	return rt, nil
}

func (m *Manager) checkReuse(ctx context.Context, token string) {
	owner, found, err := m.ledger.Lookup(ctx, token)
	if err != nil {
		logger.Warnf("reuse ledger lookup failed: %v", err)
		return
	}
	if found {
		metrics.RefreshTokenReuse.Inc()
		logger.Warnf("rotated refresh token presented again for user %s", owner)
	}
}

// Rotate atomically replaces oldToken with newToken for owner.
func (m *Manager) Rotate(ctx context.Context, owner, oldToken, newToken string) error {
	next := newRecord(owner, newToken, m.now(), m.ttl)
	if err := m.repo.Rotate(ctx, owner, oldToken, next); err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			metrics.RefreshRotationConflicts.Inc()
		}
		return err
	}
	if err := m.ledger.Remember(ctx, oldToken, owner, m.ttl); err != nil {
		logger.Warnf("reuse ledger write failed: %v", err)
	}
	return nil
}

// RevokeAll deletes every refresh token held by owner. Calling it for an
// owner without tokens is not an error.
func (m *Manager) RevokeAll(ctx context.Context, owner string) error {
	n, err := m.repo.DeleteByOwner(ctx, owner)
	if err != nil {
		return err
	}
	logger.Debugf("revoked %d refresh token(s) for user %s", n, owner)
	return nil
}

// Sweep deletes records that expired before now.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, err
	}
	metrics.RefreshTokensSwept.Add(float64(n))
	return n, nil
}
