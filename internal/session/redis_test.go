package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	return &Manager{client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
}

func TestPutGetRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	rec := Record{SessionID: "sess-1", PlatformID: "kiosk-1", Token: "tok-abc", CreatedAt: time.Now()}
	require.NoError(t, m.Put(ctx, rec, time.Minute))

	got, err := m.Get(ctx, "kiosk-1")
	require.NoError(t, err)
	require.Equal(t, rec.SessionID, got.SessionID)
	require.Equal(t, rec.Token, got.Token)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Get(context.Background(), "unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutReplacesPriorRecordForSamePlatform(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, Record{SessionID: "sess-1", PlatformID: "kiosk-1"}, time.Minute))
	require.NoError(t, m.Put(ctx, Record{SessionID: "sess-2", PlatformID: "kiosk-1"}, time.Minute))

	got, err := m.Get(ctx, "kiosk-1")
	require.NoError(t, err)
	require.Equal(t, "sess-2", got.SessionID)
}

func TestDeleteRemovesRecord(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, Record{SessionID: "sess-1", PlatformID: "kiosk-1"}, time.Minute))
	require.NoError(t, m.Delete(ctx, "kiosk-1"))

	_, err := m.Get(ctx, "kiosk-1")
	require.ErrorIs(t, err, ErrNotFound)
}
