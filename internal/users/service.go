package users

import (
	"context"
	"errors"
	"time"

	"github.com/cacatua/cacatua/backend/go-services/internal/models"
)

var ErrMissingSubject = errors.New("missing subject")

// Service encapsulates user-related business logic
type Service struct {
	repo UserRepository
	now  func() time.Time
}

func NewService(r UserRepository) *Service {
	return &Service{repo: r, now: time.Now}
}

// EnsureProfile returns the stored profile for a signed-in account, creating it on first login.
func (s *Service) EnsureProfile(ctx context.Context, a models.Account) (*models.User, error) {
	if a.UID == "" {
		return nil, ErrMissingSubject
	}
	return s.repo.Upsert(ctx, models.NewUserFromAccount(a, s.now()))
}

// AccountFromClaims maps verified ID token claims onto an Account.
func AccountFromClaims(claims map[string]interface{}) (models.Account, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return models.Account{}, ErrMissingSubject
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	picture, _ := claims["picture"].(string)
	return models.Account{UID: sub, Email: email, DisplayName: name, PhotoURL: picture}, nil
}

func (s *Service) GetByUID(ctx context.Context, uid string) (*models.User, error) {
	return s.repo.GetByUID(ctx, uid)
}
