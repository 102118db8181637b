package oidc

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeJWT(payload string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + enc.EncodeToString([]byte(payload)) + ".sig"
}

func TestInsecureVerifier_VerifyClaims(t *testing.T) {
	claims, err := VerifyClaims(context.Background(), NewInsecureVerifier(), fakeJWT(`{"sub":"u-1","email":"u@e.com"}`))
	require.NoError(t, err)
	require.Equal(t, "u-1", claims["sub"])
	require.Equal(t, "u@e.com", claims["email"])
}

func TestInsecureVerifier_Rejects(t *testing.T) {
	v := NewInsecureVerifier()
	for _, raw := range []string{"", "nodots", "a.!!!.c", fakeJWT("not json")} {
		_, err := v.Verify(context.Background(), raw)
		require.Error(t, err, raw)
	}
}
