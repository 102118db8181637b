package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeIndexed struct {
	calls int
	err   error
}

func (f *fakeIndexed) EnsureIndexes(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestEnsureIndexes_StopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeIndexed{}
	b := &fakeIndexed{err: boom}
	c := &fakeIndexed{}

	err := EnsureIndexes(context.Background(), a, b, c)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, a.calls)
	require.Equal(t, 1, b.calls)
	require.Zero(t, c.calls)
}

func TestConnectMongoWithRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ConnectMongoWithRetry(ctx, "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=50", 0, 3)
	require.Error(t, err)
}
