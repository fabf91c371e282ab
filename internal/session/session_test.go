package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chis/regview/internal/storage"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		token  string
		expiry time.Time
		want   bool
	}{
		{"no token", "", now.Add(-time.Hour), false},
		{"no expiry", "abc", time.Time{}, false},
		{"future expiry", "abc", now.Add(time.Minute), false},
		{"exactly now", "abc", now, false},
		{"past expiry", "abc", now.Add(-time.Millisecond), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpired(tt.token, tt.expiry, now))
		})
	}
}

func newTestStore(t *testing.T) (*Store, storage.Storage) {
	t.Helper()
	kv, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return NewStore(kv), kv
}

func TestBearer(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	token, err := s.Bearer(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, s.Save(ctx, "secret", now.Add(time.Hour)))
	token, err = s.Bearer(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, "secret", token)

	raw, found, err := kv.Get(ctx, ExpiryKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1704114000000", raw)

	_, err = s.Bearer(ctx, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, found, err = kv.Get(ctx, TokenKey)
	require.NoError(t, err)
	assert.False(t, found, "expired token must be cleared")
	_, found, err = kv.Get(ctx, ExpiryKey)
	require.NoError(t, err)
	assert.False(t, found, "expiry must be cleared")
}

func TestSaveWithoutExpiry(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "first", time.Now().Add(time.Minute)))
	require.NoError(t, s.Save(ctx, "forever", time.Time{}))

	token, expiry, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "forever", token)
	assert.True(t, expiry.IsZero())

	token, err = s.Bearer(ctx, time.Now().Add(100*365*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "forever", token)
}

func TestSaveRequiresToken(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Error(t, s.Save(context.Background(), "", time.Time{}))
}

func TestClear(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "secret", time.Now().Add(time.Hour)))
	require.NoError(t, s.Clear(ctx))

	token, expiry, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.True(t, expiry.IsZero())
}
