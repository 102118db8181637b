// Package identity signs users in against the hosted identity provider's
// password endpoint.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cacatua/cacatua/backend/go-services/internal/config"
	"github.com/cacatua/cacatua/backend/go-services/internal/models"
)

var (
	// ErrInvalidCredentials is returned for any rejected email/password pair.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUnavailable covers transport failures and unexpected provider replies.
	ErrUnavailable = errors.New("identity provider unavailable")
)

// credentialErrors are provider error codes that mean the pair was rejected.
var credentialErrors = map[string]bool{
	"EMAIL_NOT_FOUND":           true,
	"INVALID_PASSWORD":          true,
	"INVALID_LOGIN_CREDENTIALS": true,
	"INVALID_EMAIL":             true,
	"USER_DISABLED":             true,
	"MISSING_PASSWORD":          true,
}

// SignInResult is a successful password sign-in.
type SignInResult struct {
	Account models.Account
	IDToken string
}

// Provider authenticates an email/password pair.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*SignInResult, error)
}

// Client calls a signInWithPassword style REST endpoint.
type Client struct {
	loginURL string
	apiKey   string
	http     *http.Client
}

func NewClient(cfg config.IdentityConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		loginURL: cfg.LoginURL,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
	}
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID     string `json:"localId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	ProfilePic  string `json:"profilePicture"`
	IDToken     string `json:"idToken"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) endpoint() string {
	if c.apiKey == "" {
		return c.loginURL
	}
	u, err := url.Parse(c.loginURL)
	if err != nil {
		return c.loginURL
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	body, err := json.Marshal(signInRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		_ = json.Unmarshal(raw, &er)
		code := er.Error.Message
		// messages look like "INVALID_PASSWORD : details"
		if i := strings.IndexByte(code, ' '); i > 0 {
			code = code[:i]
		}
		if resp.StatusCode == http.StatusBadRequest && credentialErrors[code] {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var sr signInResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("%w: decode sign-in response: %v", ErrUnavailable, err)
	}
	if sr.LocalID == "" {
		return nil, fmt.Errorf("%w: sign-in response missing localId", ErrUnavailable)
	}
	if sr.Email == "" {
		sr.Email = email
	}
	return &SignInResult{
		Account: models.Account{
			UID:         sr.LocalID,
			Email:       sr.Email,
			DisplayName: sr.DisplayName,
			PhotoURL:    sr.ProfilePic,
		},
		IDToken: sr.IDToken,
	}, nil
}
