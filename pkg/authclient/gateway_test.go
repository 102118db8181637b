package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI mimics the /api/Auth endpoints and one protected route.
type fakeAPI struct {
	mu        sync.Mutex
	access    map[string]bool
	refresh   map[string]bool
	seq       int
	refreshes atomic.Int32
	protected atomic.Int32
	logouts   atomic.Int32

	alwaysUnauthorized atomic.Bool
	rejectRefresh      atomic.Bool
	refreshDelay       atomic.Int64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{access: map[string]bool{}, refresh: map[string]bool{}}
}

func (f *fakeAPI) pair() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	a, r := fmt.Sprintf("access-%d", f.seq), fmt.Sprintf("refresh-%d", f.seq)
	f.access[a] = true
	f.refresh[r] = true
	return a, r
}

// expireAccess invalidates every access token issued so far.
func (f *fakeAPI) expireAccess() {
	f.mu.Lock()
	f.access = map[string]bool{}
	f.mu.Unlock()
}

func (f *fakeAPI) bearerOK(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/Auth/login":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "alice@example.com" || body["password"] != "wonderland" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid email or password"}`))
			return
		}
		a, rt := f.pair()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"message": "Login successful",
			"user":    map[string]string{"uid": "uid-alice", "email": "alice@example.com", "displayName": "Alice"},
			"jwt":     a,
			"refresh": rt,
		})
	case "/api/Auth/refresh":
		f.refreshes.Add(1)
		time.Sleep(time.Duration(f.refreshDelay.Load()))
		var old string
		_ = json.NewDecoder(r.Body).Decode(&old)
		f.mu.Lock()
		ok := f.refresh[old] && !f.rejectRefresh.Load()
		delete(f.refresh, old)
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid or expired refresh token"}`))
			return
		}
		a, rt := f.pair()
		_ = json.NewEncoder(w).Encode(map[string]string{"jwt": a, "refreshToken": rt})
	case "/api/Auth/check-jwt":
		f.mu.Lock()
		ok := f.access[r.URL.Query().Get("jwtToken")]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
		}
	case "/api/Auth/logout":
		f.logouts.Add(1)
		if !f.bearerOK(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"message":"Logout successful"}`))
	case "/api/Message/general/stream":
		f.protected.Add(1)
		if f.alwaysUnauthorized.Load() || !f.bearerOK(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event:ready\ndata:{\"channel\":\"general\"}\n\n"))
	case "/api/Message/general":
		f.protected.Add(1)
		if f.alwaysUnauthorized.Load() || !f.bearerOK(r) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"messages":[]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type gatewayFixture struct {
	api       *fakeAPI
	srv       *httptest.Server
	durable   *MemoryStorage
	ephemeral *MemoryStorage
	gw        *Gateway
}

func newGatewayFixture(t *testing.T, opts ...Option) *gatewayFixture {
	t.Helper()
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	d, e := NewMemoryStorage(), NewMemoryStorage()
	return &gatewayFixture{api: api, srv: srv, durable: d, ephemeral: e, gw: New(srv.URL, NewSession(d, e), opts...)}
}

func (f *gatewayFixture) login(t *testing.T, remember bool) {
	t.Helper()
	_, err := f.gw.Login(context.Background(), "alice@example.com", "wonderland", remember)
	require.NoError(t, err)
}

func hasSession(s Storage) bool {
	for _, k := range sessionKeys {
		if _, ok := s.Get(k); ok {
			return true
		}
	}
	return false
}

func TestLogin_RememberMeSelectsScope(t *testing.T) {
	t.Run("remember", func(t *testing.T) {
		f := newGatewayFixture(t)
		f.login(t, true)
		assert.True(t, hasSession(f.durable))
		assert.False(t, hasSession(f.ephemeral))
		snap := f.gw.Session().Snapshot()
		assert.True(t, snap.Durable)
		assert.Equal(t, "uid-alice", snap.Profile.UID)
		assert.True(t, snap.Profile.RememberMe)
	})
	t.Run("session only", func(t *testing.T) {
		f := newGatewayFixture(t)
		f.login(t, false)
		assert.False(t, hasSession(f.durable))
		assert.True(t, hasSession(f.ephemeral))
	})
	t.Run("switching scope empties the other", func(t *testing.T) {
		f := newGatewayFixture(t)
		f.login(t, true)
		f.login(t, false)
		assert.False(t, hasSession(f.durable))
		assert.True(t, hasSession(f.ephemeral))
	})
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newGatewayFixture(t)
	_, err := f.gw.Login(context.Background(), "alice@example.com", "nope", true)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.False(t, f.gw.Session().Authenticated())
}

func TestDo_RefreshesOnceAndRetries(t *testing.T) {
	f := newGatewayFixture(t)
	f.login(t, true)
	before := f.gw.Session().Snapshot()
	f.api.expireAccess()

	resp, err := f.gw.Do(context.Background(), http.MethodGet, "/api/Message/general", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.EqualValues(t, 1, f.api.refreshes.Load())
	assert.EqualValues(t, 2, f.api.protected.Load())

	after := f.gw.Session().Snapshot()
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken)
	// rotated tokens stay in the scope the session was established in
	jwt, _ := f.durable.Get(KeyJWT)
	assert.Equal(t, after.AccessToken, jwt)
	assert.False(t, hasSession(f.ephemeral))
}

func TestDo_RefreshKeepsEphemeralScope(t *testing.T) {
	f := newGatewayFixture(t)
	f.login(t, false)
	f.api.expireAccess()

	resp, err := f.gw.Do(context.Background(), http.MethodGet, "/api/Message/general", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.EqualValues(t, 1, f.api.refreshes.Load())

	after := f.gw.Session().Snapshot()
	assert.False(t, after.Durable)
	jwt, _ := f.ephemeral.Get(KeyJWT)
	refresh, _ := f.ephemeral.Get(KeyRefresh)
	assert.Equal(t, after.AccessToken, jwt)
	assert.Equal(t, after.RefreshToken, refresh)
	assert.False(t, hasSession(f.durable))
}

func TestStream_RefreshesOnceOn401(t *testing.T) {
	f := newGatewayFixture(t)
	f.login(t, true)
	f.api.expireAccess()

	stream, err := f.gw.Stream(context.Background(), "/api/Message/general/stream")
	require.NoError(t, err)
	defer stream.Close()
	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "ready", ev.Name)
	assert.EqualValues(t, 1, f.api.refreshes.Load())
	assert.EqualValues(t, 2, f.api.protected.Load())
}

func TestStream_SecondUnauthorizedFails(t *testing.T) {
	f := newGatewayFixture(t)
	f.login(t, true)
	f.api.alwaysUnauthorized.Store(true)

	_, err := f.gw.Stream(context.Background(), "/api/Message/general/stream")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Status)
	assert.EqualValues(t, 1, f.api.refreshes.Load())
	assert.EqualValues(t, 2, f.api.protected.Load())
}

func TestDo_SecondUnauthorizedIsReturnedWithoutThirdAttempt(t *testing.T) {
	f := newGatewayFixture(t)
	f.login(t, false)
	f.api.alwaysUnauthorized.Store(true)

	resp, err := f.gw.Do(context.Background(), http.MethodGet, "/api/Message/general", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.EqualValues(t, 1, f.api.refreshes.Load())
	assert.EqualValues(t, 2, f.api.protected.Load())
}

func TestDo_RefreshRejectedClearsBothScopes(t *testing.T) {
	f := newGatewayFixture(t)
	f.login(t, true)
	require.NoError(t, f.gw.Session().SetTheme("dark"))
	require.NoError(t, f.ephemeral.Set(KeyJWT, "leftover"))
	f.api.expireAccess()
	f.api.rejectRefresh.Store(true)

	_, err := f.gw.Do(context.Background(), http.MethodGet, "/api/Message/general", nil)
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, hasSession(f.durable))
	assert.False(t, hasSession(f.ephemeral))
	assert.False(t, f.gw.Session().Authenticated())
	assert.Equal(t, "dark", f.gw.Session().Theme())
	assert.EqualValues(t, 1, f.api.protected.Load())
}

func TestDo_TransportErrorKeepsSession(t *testing.T) {
	f := newGatewayFixture(t)
	f.login(t, true)
	f.srv.Close()

	_, err := f.gw.Do(context.Background(), http.MethodGet, "/api/Message/general", nil)
	require.ErrorIs(t, err, ErrTransport)
	assert.True(t, f.gw.Session().Authenticated())
	assert.True(t, hasSession(f.durable))
}

func TestDo_RefreshTimeoutIsTransportError(t *testing.T) {
	f := newGatewayFixture(t, WithRefreshTimeout(50*time.Millisecond))
	f.login(t, true)
	f.api.expireAccess()
	f.api.refreshDelay.Store(int64(300 * time.Millisecond))

	_, err := f.gw.Do(context.Background(), http.MethodGet, "/api/Message/general", nil)
	require.ErrorIs(t, err, ErrTransport)
	assert.True(t, f.gw.Session().Authenticated())
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	f := newGatewayFixture(t)
	f.login(t, true)
	f.api.expireAccess()
	f.api.refreshDelay.Store(int64(50 * time.Millisecond))

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.gw.Do(context.Background(), http.MethodGet, "/api/Message/general", nil)
			if assert.NoError(t, err) {
				codes[i] = resp.Status
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, f.api.refreshes.Load())
	for _, c := range codes {
		assert.Equal(t, http.StatusOK, c)
	}
}

func TestDo_WithoutSessionExpires(t *testing.T) {
	f := newGatewayFixture(t)
	_, err := f.gw.Do(context.Background(), http.MethodGet, "/api/Message/general", nil)
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Zero(t, f.api.refreshes.Load())
}

func TestCheckJWT(t *testing.T) {
	f := newGatewayFixture(t)
	_, err := f.gw.CheckJWT(context.Background())
	require.ErrorIs(t, err, ErrNoSession)

	f.login(t, false)
	ok, err := f.gw.CheckJWT(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	f.api.expireAccess()
	ok, err = f.gw.CheckJWT(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLogout_AlwaysClears(t *testing.T) {
	f := newGatewayFixture(t)
	f.login(t, true)
	require.NoError(t, f.gw.Logout(context.Background()))
	assert.EqualValues(t, 1, f.api.logouts.Load())
	assert.False(t, hasSession(f.durable))

	f.login(t, true)
	f.srv.Close()
	err := f.gw.Logout(context.Background())
	require.ErrorIs(t, err, ErrTransport)
	assert.False(t, f.gw.Session().Authenticated())
	assert.False(t, hasSession(f.durable))

	// signed out already: nothing to send
	require.NoError(t, f.gw.Logout(context.Background()))
}

func TestSession_RestoreFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	durable, err := NewFileStorage(path)
	require.NoError(t, err)

	api := newFakeAPI()
	srv := httptest.NewServer(api)
	defer srv.Close()
	gw := New(srv.URL, NewSession(durable, NewMemoryStorage()))
	_, err = gw.Login(context.Background(), "alice@example.com", "wonderland", true)
	require.NoError(t, err)
	want := gw.Session().Snapshot()

	reopened, err := NewFileStorage(path)
	require.NoError(t, err)
	s := NewSession(reopened, NewMemoryStorage())
	require.NoError(t, s.Restore())
	got := s.Snapshot()
	assert.True(t, got.Authenticated())
	assert.True(t, got.Durable)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.Equal(t, "uid-alice", got.Profile.UID)
}

func TestSession_RestoreWipesPartialScope(t *testing.T) {
	d, e := NewMemoryStorage(), NewMemoryStorage()
	require.NoError(t, d.Set(KeyJWT, "only-jwt"))
	require.NoError(t, d.Set(KeyTheme, "light"))
	s := NewSession(d, e)
	require.NoError(t, s.Restore())
	assert.False(t, s.Authenticated())
	assert.False(t, hasSession(d))
	assert.Equal(t, "light", s.Theme())
}
