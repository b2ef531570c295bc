package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	s := NewMemoryStore(5*time.Minute, func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "u1", `{"mode":"WAITING_COMMENT"}`))
	v, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"mode":"WAITING_COMMENT"}`, v)

	now = now.Add(5 * time.Minute)
	_, ok, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute, nil)
	require.NoError(t, s.Set(ctx, "u1", "x"))
	require.NoError(t, s.Delete(ctx, "u1"))
	_, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	_, err := NewRedisStore("not-a-redis-url", time.Minute)
	assert.Error(t, err)

	s, err := NewRedisStore("redis://localhost:6379/2", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}
