// Package authclient is the client half of the session lifecycle: it keeps the
// token pair in one of two storage scopes and sends authenticated requests,
// refreshing once on 401.
package authclient

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

	"github.com/cacatua/cacatua/backend/go-services/pkg/logger"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrSessionExpired means the refresh exchange was rejected; the session is gone.
	ErrSessionExpired = errors.New("session expired")
	// ErrTransport wraps network failures. Session state is left untouched.
	ErrTransport          = errors.New("transport error")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNoSession          = errors.New("not signed in")
)

const (
	DefaultRefreshTimeout = 15 * time.Second
	maxBody               = 10 << 20
)

// HTTPError is a non-2xx answer to a call made outside Do.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// Response is a fully read reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

type Option func(*Gateway)

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.http = c }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.refreshTimeout = d }
}

// Gateway sends requests to the API on behalf of a Session.
type Gateway struct {
	base           string
	http           *http.Client
	session        *Session
	refreshTimeout time.Duration
	group          singleflight.Group
}

func New(baseURL string, s *Session, opts ...Option) *Gateway {
	g := &Gateway{
		base:           strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		session:        s,
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) Session() *Session { return g.session }

type loginResponse struct {
	Message string  `json:"message"`
	User    Profile `json:"user"`
	JWT     string  `json:"jwt"`
	Refresh string  `json:"refresh"`
}

type refreshResponse struct {
	JWT          string `json:"jwt"`
	RefreshToken string `json:"refreshToken"`
}

type messageBody struct {
	Message string `json:"message"`
}

// Login signs in with a password and stores the session in the durable scope
// when rememberMe is set, otherwise in the ephemeral one.
func (g *Gateway) Login(ctx context.Context, email, password string, rememberMe bool) (*Profile, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := g.send(ctx, http.MethodPost, "/api/Auth/login", body, "")
	if err != nil {
		return nil, err
	}
	switch {
	case resp.Status == http.StatusUnauthorized, resp.Status == http.StatusBadRequest:
		return nil, ErrInvalidCredentials
	case resp.Status != http.StatusOK:
		return nil, httpError(resp)
	}
	var lr loginResponse
	if err := resp.Decode(&lr); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if lr.JWT == "" || lr.Refresh == "" || lr.User.UID == "" {
		return nil, fmt.Errorf("login response is missing tokens")
	}
	lr.User.RememberMe = rememberMe
	if err := g.session.establish(lr.JWT, lr.Refresh, lr.User); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	logger.Debugf("signed in as %s (remember=%v)", lr.User.UID, rememberMe)
	p := lr.User
	return &p, nil
}

// Logout revokes the server-side refresh tokens and always clears local state.
func (g *Gateway) Logout(ctx context.Context) error {
	snap := g.session.Snapshot()
	if !snap.Authenticated() {
		return g.session.clear()
	}
	body, _ := json.Marshal(snap.Profile.UID)
	resp, err := g.Do(ctx, http.MethodPost, "/api/Auth/logout", body)
	clearErr := g.session.clear()
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return clearErr
		}
		return err
	}
	if resp.Status != http.StatusOK {
		return httpError(resp)
	}
	return clearErr
}

// CheckJWT asks the server whether the current access token is still valid.
func (g *Gateway) CheckJWT(ctx context.Context) (bool, error) {
	tok := g.session.AccessToken()
	if tok == "" {
		return false, ErrNoSession
	}
	resp, err := g.send(ctx, http.MethodGet, "/api/Auth/check-jwt?jwtToken="+url.QueryEscape(tok), nil, "")
	if err != nil {
		return false, err
	}
	return resp.Status == http.StatusOK, nil
}

// Do sends an authenticated request. On 401 it refreshes the token pair once
// and retries once; the retry's result is returned whatever it is.
func (g *Gateway) Do(ctx context.Context, method, endpoint string, body []byte) (*Response, error) {
	access := g.session.AccessToken()
	resp, err := g.send(ctx, method, endpoint, body, access)
	if err != nil || resp.Status != http.StatusUnauthorized {
		return resp, err
	}
	next, err := g.refresh(ctx, access)
	if err != nil {
		return nil, err
	}
	return g.send(ctx, method, endpoint, body, next)
}

// Stream opens a long-lived authenticated GET, with the same single refresh on
// 401. The caller closes the returned body.
func (g *Gateway) Stream(ctx context.Context, endpoint string) (*EventStream, error) {
	access := g.session.AccessToken()
	resp, err := g.open(ctx, endpoint, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		next, err := g.refresh(ctx, access)
		if err != nil {
			return nil, err
		}
		if resp, err = g.open(ctx, endpoint, next); err != nil {
			return nil, err
		}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		return nil, httpError(&Response{Status: resp.StatusCode, Body: raw})
	}
	return NewEventStream(resp.Body), nil
}

func (g *Gateway) open(ctx context.Context, endpoint, access string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.base+endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return resp, nil
}

// refresh exchanges the refresh token for a new pair. Concurrent callers share
// one exchange; a caller whose token was already replaced gets the current one.
func (g *Gateway) refresh(ctx context.Context, stale string) (string, error) {
	ch := g.group.DoChan("refresh", func() (interface{}, error) {
		if cur := g.session.AccessToken(); cur != "" && cur != stale {
			return cur, nil
		}
		rt := g.session.refreshToken()
		if rt == "" {
			_ = g.session.clear()
			return "", ErrSessionExpired
		}
		rctx, cancel := context.WithTimeout(context.Background(), g.refreshTimeout)
		defer cancel()
		body, _ := json.Marshal(rt)
		resp, err := g.send(rctx, http.MethodPost, "/api/Auth/refresh", body, "")
		if err != nil {
			return "", err
		}
		var rr refreshResponse
		if resp.Status != http.StatusOK || resp.Decode(&rr) != nil || rr.JWT == "" || rr.RefreshToken == "" {
			logger.Warnf("token refresh rejected (status %d); signing out", resp.Status)
			_ = g.session.clear()
			return "", ErrSessionExpired
		}
		if err := g.session.rotate(rr.JWT, rr.RefreshToken); err != nil {
			_ = g.session.clear()
			return "", fmt.Errorf("%w: store rotated tokens: %v", ErrSessionExpired, err)
		}
		return rr.JWT, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
	}
}

func (g *Gateway) send(ctx context.Context, method, endpoint string, body []byte, access string) (*Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.base+endpoint, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

func httpError(resp *Response) error {
	var mb messageBody
	_ = json.Unmarshal(resp.Body, &mb)
	if mb.Message == "" {
		mb.Message = http.StatusText(resp.Status)
	}
	return &HTTPError{Status: resp.Status, Message: mb.Message}
}
