package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	m := NewManager("secret", time.Hour)
	token, err := m.GenerateJWT("u1")
	require.NoError(t, err)

	id, err := m.ParseJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
}

func TestParseJWTRejectsForeignAndExpiredTokens(t *testing.T) {
	m := NewManager("secret", time.Hour)
	other := NewManager("other", time.Hour)
	token, err := other.GenerateJWT("u1")
	require.NoError(t, err)
	_, err = m.ParseJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, err = m.GenerateJWT("u1")
	require.NoError(t, err)
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.ParseJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ParseJWT("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPinHashing(t *testing.T) {
	hash, err := HashPin("1234")
	require.NoError(t, err)
	assert.True(t, CheckPin(hash, "1234"))
	assert.False(t, CheckPin(hash, "4321"))
	assert.False(t, CheckPin("", "1234"))
}

func TestUserIDContext(t *testing.T) {
	_, ok := GetUserIDFromContext(context.Background())
	assert.False(t, ok)
	id, ok := GetUserIDFromContext(WithUserID(context.Background(), "u9"))
	assert.True(t, ok)
	assert.Equal(t, "u9", id)
}
