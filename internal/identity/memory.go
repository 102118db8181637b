package identity

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/cacatua/cacatua/backend/go-services/internal/models"
)

// StaticProvider is an in-process Provider with a fixed account table. It
// backs local development and tests when no identity endpoint is configured.
type StaticProvider struct {
	mu       sync.RWMutex
	accounts map[string]staticAccount
}

type staticAccount struct {
	password string
	account  models.Account
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{accounts: map[string]staticAccount{}}
}

// Add registers an account under its email.
func (p *StaticProvider) Add(a models.Account, password string) {
	p.mu.Lock()
	p.accounts[a.Email] = staticAccount{password: password, account: a}
	p.mu.Unlock()
}

func (p *StaticProvider) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	p.mu.RLock()
	acc, ok := p.accounts[email]
	p.mu.RUnlock()
	if !ok || subtle.ConstantTimeCompare([]byte(acc.password), []byte(password)) != 1 {
		return nil, ErrInvalidCredentials
	}
	return &SignInResult{Account: acc.account}, nil
}
