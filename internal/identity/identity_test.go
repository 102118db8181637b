package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cacatua/cacatua/backend/go-services/internal/config"
	"github.com/cacatua/cacatua/backend/go-services/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k-123", r.URL.Query().Get("key"))
		var req signInRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.ReturnSecureToken)
		switch {
		case req.Email == "down@example.com":
			w.WriteHeader(http.StatusServiceUnavailable)
		case req.Email == "ann@example.com" && req.Password == "s3cret":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"localId":     "uid-ann",
				"email":       "ann@example.com",
				"displayName": "Ann",
				"idToken":     "id.token.value",
			})
		case req.Email == "ann@example.com":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":400,"message":"INVALID_PASSWORD"}}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":400,"message":"EMAIL_NOT_FOUND"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSignIn(t *testing.T) {
	srv := newProviderServer(t)
	c := NewClient(config.IdentityConfig{LoginURL: srv.URL + "/v1/accounts:signInWithPassword", APIKey: "k-123"})
	ctx := context.Background()

	res, err := c.SignIn(ctx, "ann@example.com", "s3cret")
	require.NoError(t, err)
	require.Equal(t, "uid-ann", res.Account.UID)
	require.Equal(t, "Ann", res.Account.DisplayName)
	require.Equal(t, "id.token.value", res.IDToken)
}

func TestClientSignIn_CredentialFailuresLookAlike(t *testing.T) {
	srv := newProviderServer(t)
	c := NewClient(config.IdentityConfig{LoginURL: srv.URL, APIKey: "k-123"})
	ctx := context.Background()

	_, wrongPassword := c.SignIn(ctx, "ann@example.com", "nope")
	_, unknownEmail := c.SignIn(ctx, "bob@example.com", "whatever")
	require.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	require.ErrorIs(t, unknownEmail, ErrInvalidCredentials)
	require.Equal(t, wrongPassword.Error(), unknownEmail.Error())

	_, err := c.SignIn(ctx, "", "x")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestClientSignIn_ProviderDown(t *testing.T) {
	srv := newProviderServer(t)
	c := NewClient(config.IdentityConfig{LoginURL: srv.URL, APIKey: "k-123"})

	_, err := c.SignIn(context.Background(), "down@example.com", "x")
	require.ErrorIs(t, err, ErrUnavailable)
	require.NotErrorIs(t, err, ErrInvalidCredentials)

	unreachable := NewClient(config.IdentityConfig{LoginURL: "http://127.0.0.1:1/signin"})
	_, err = unreachable.SignIn(context.Background(), "a@b.c", "x")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider()
	p.Add(models.Account{UID: "u1", Email: "u1@example.com"}, "pw")

	res, err := p.SignIn(context.Background(), "u1@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, "u1", res.Account.UID)

	_, err = p.SignIn(context.Background(), "u1@example.com", "bad")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = p.SignIn(context.Background(), "x@example.com", "pw")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
