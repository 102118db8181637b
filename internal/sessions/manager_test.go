package sessions

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

const ttl = 30 * 24 * time.Hour

func TestGenerate(t *testing.T) {
	m := NewManager(NewMemoryRepository(), ttl)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		tok, err := m.Generate()
		require.NoError(t, err)
		raw, err := base64.StdEncoding.DecodeString(tok)
		require.NoError(t, err)
		require.Len(t, raw, tokenBytes)
		require.False(t, seen[tok], "token reused")
		seen[tok] = true
	}
}

func TestPersistAndValidate(t *testing.T) {
	clock := newFakeClock()
	repo := NewMemoryRepository()
	m := NewManager(repo, ttl).WithClock(clock.Now)
	ctx := context.Background()

	tok, err := m.Generate()
	require.NoError(t, err)
	rec, err := m.Persist(ctx, "uid-1", tok)
	require.NoError(t, err)
	require.Equal(t, clock.Now(), rec.CreatedAt)
	require.Equal(t, clock.Now().Add(ttl), rec.ExpiresAt)
	require.False(t, rec.IsRevoked)

	got, err := m.Validate(ctx, tok)
	require.NoError(t, err)
	require.Equal(t, "uid-1", got.UserUID)

	_, err = m.Validate(ctx, "unknown")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = m.Validate(ctx, "")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestValidate_ExpiredAndRevoked(t *testing.T) {
	clock := newFakeClock()
	repo := NewMemoryRepository()
	m := NewManager(repo, ttl).WithClock(clock.Now)
	ctx := context.Background()

	tok, err := m.Issue(ctx, "uid-2")
	require.NoError(t, err)

	clock.Advance(ttl + time.Second)
	_, err = m.Validate(ctx, tok)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	revoked := newRecord("uid-2", "revoked-token", clock.Now(), ttl)
	revoked.IsRevoked = true
	require.NoError(t, repo.Insert(ctx, revoked))
	_, err = m.Validate(ctx, "revoked-token")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRotate_RetiresOldAndActivatesNew(t *testing.T) {
	m := NewManager(NewMemoryRepository(), ttl)
	ctx := context.Background()

	old, err := m.Issue(ctx, "uid-3")
	require.NoError(t, err)
	next, err := m.Generate()
	require.NoError(t, err)

	require.NoError(t, m.Rotate(ctx, "uid-3", old, next))

	_, err = m.Validate(ctx, old)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
	rec, err := m.Validate(ctx, next)
	require.NoError(t, err)
	require.Equal(t, "uid-3", rec.UserUID)

	// rotating a token that is gone fails with the domain error
	again, _ := m.Generate()
	require.ErrorIs(t, m.Rotate(ctx, "uid-3", old, again), ErrTokenNotFound)
}

func TestRotate_WrongOwnerFails(t *testing.T) {
	m := NewManager(NewMemoryRepository(), ttl)
	ctx := context.Background()

	old, err := m.Issue(ctx, "owner-a")
	require.NoError(t, err)
	require.ErrorIs(t, m.Rotate(ctx, "owner-b", old, "whatever"), ErrTokenNotFound)

	_, err = m.Validate(ctx, old)
	require.NoError(t, err, "failed rotation must leave the old token intact")
}

func TestRotate_ConcurrentSameOldToken(t *testing.T) {
	repo := NewMemoryRepository()
	assertSingleRotationWinner(t, NewManager(repo, ttl), repo)
}

func TestRevokeAll_Idempotent(t *testing.T) {
	repo := NewMemoryRepository()
	m := NewManager(repo, ttl)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Issue(ctx, "multi-device")
		require.NoError(t, err)
	}
	keep, err := m.Issue(ctx, "someone-else")
	require.NoError(t, err)

	require.NoError(t, m.RevokeAll(ctx, "multi-device"))
	require.NoError(t, m.RevokeAll(ctx, "multi-device"))

	left, err := repo.FindByOwner(ctx, "multi-device")
	require.NoError(t, err)
	require.Empty(t, left)

	_, err = m.Validate(ctx, keep)
	require.NoError(t, err)
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	clock := newFakeClock()
	repo := NewMemoryRepository()
	m := NewManager(repo, time.Hour).WithClock(clock.Now)
	ctx := context.Background()

	oldTok, err := m.Issue(ctx, "uid-s")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	freshTok, err := m.Issue(ctx, "uid-s")
	require.NoError(t, err)

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	gone, err := repo.FindByToken(ctx, oldTok)
	require.NoError(t, err)
	require.Nil(t, gone)
	_, err = m.Validate(ctx, freshTok)
	require.NoError(t, err)
}

func TestSweeper_StopsOnCancel(t *testing.T) {
	clock := newFakeClock()
	repo := NewMemoryRepository()
	m := NewManager(repo, time.Minute).WithClock(clock.Now)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := m.Issue(ctx, "uid-w")
	require.NoError(t, err)
	clock.Advance(time.Hour)

	done := make(chan struct{})
	go func() {
		NewSweeper(m, time.Hour).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		left, _ := repo.FindByOwner(context.Background(), "uid-w")
		return len(left) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

// assertSingleRotationWinner races several rotations of the same old token.
func assertSingleRotationWinner(t *testing.T, m *Manager, repo Repository) {
	t.Helper()
	ctx := context.Background()
	old, err := m.Issue(ctx, "racer")
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		next, err := m.Generate()
		require.NoError(t, err)
		wg.Add(1)
		go func(i int, next string) {
			defer wg.Done()
			results[i] = m.Rotate(ctx, "racer", old, next)
		}(i, next)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, ErrTokenNotFound)
	}
	require.Equal(t, 1, wins)

	left, err := repo.FindByOwner(ctx, "racer")
	require.NoError(t, err)
	require.Len(t, left, 1, "exactly one active token must remain")
	require.NotEqual(t, old, left[0].Token)
}
