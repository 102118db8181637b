package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// IDToken is a minimal interface for token payloads that allows extracting claims
// It is satisfied by *oidc.IDToken and by test fakes.
type IDToken interface {
	Claims(v interface{}) error
}

// TokenVerifier verifies an identity-provider ID token.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (IDToken, error)
}

// Verifier checks ID tokens issued by the identity provider against its
// discovered signing keys.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewVerifier discovers the provider at issuer and verifies tokens for audience.
func NewVerifier(ctx context.Context, issuer, audience string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return &Verifier{verifier: provider.Verifier(&oidc.Config{ClientID: audience})}, nil
}

func (v *Verifier) Verify(ctx context.Context, raw string) (IDToken, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}

// VerifyClaims verifies raw and decodes its claims into a map.
func VerifyClaims(ctx context.Context, v TokenVerifier, raw string) (map[string]interface{}, error) {
	tok, err := v.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	claims := map[string]interface{}{}
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id token claims: %w", err)
	}
	return claims, nil
}
