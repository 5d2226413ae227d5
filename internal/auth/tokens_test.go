package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type refresherMock struct {
	mock.Mock
}

func (m *refresherMock) RefreshToken(ctx context.Context, refreshToken string) (Tokens, error) {
	args := m.Called(ctx, refreshToken)
	return args.Get(0).(Tokens), args.Error(1)
}

type unauthorizedErr struct{}

func (unauthorizedErr) Error() string      { return "unauthorized" }
func (unauthorizedErr) Unauthorized() bool { return true }

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestAccessTokenLoggedOut(t *testing.T) {
	store := NewTokenStore(nil)

	token, err := store.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.False(t, store.LoggedIn())
}

func TestAccessTokenValidIsReturnedAsIs(t *testing.T) {
	refresher := new(refresherMock)
	store := NewTokenStore(refresher)
	access := signToken(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()})
	store.SetTokens(Tokens{AccessToken: access, RefreshToken: "r1"})

	token, err := store.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, token)
	refresher.AssertNotCalled(t, "RefreshToken", mock.Anything, mock.Anything)
}

func TestAccessTokenRefreshesWhenExpiring(t *testing.T) {
	refresher := new(refresherMock)
	store := NewTokenStore(refresher)
	expired := signToken(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(10 * time.Second).Unix()})
	fresh := signToken(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()})
	store.SetTokens(Tokens{AccessToken: expired, RefreshToken: "r1"})

	refresher.On("RefreshToken", mock.Anything, "r1").Return(Tokens{AccessToken: fresh}, nil).Once()

	token, err := store.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, token)

	// the refresh token is kept when the server does not rotate it
	token, err = store.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, token)
	assert.Equal(t, "r1", store.tokens.RefreshToken)
	refresher.AssertExpectations(t)
}

func TestAccessTokenRejectedRefreshClearsSession(t *testing.T) {
	refresher := new(refresherMock)
	store := NewTokenStore(refresher)
	expired := signToken(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Minute).Unix()})
	store.SetTokens(Tokens{AccessToken: expired, RefreshToken: "r1"})

	refresher.On("RefreshToken", mock.Anything, "r1").Return(Tokens{}, unauthorizedErr{}).Once()

	_, err := store.AccessToken(context.Background())
	require.Error(t, err)
	assert.False(t, store.LoggedIn())
	refresher.AssertExpectations(t)
}

func TestAccessTokenExpiredWithoutRefreshToken(t *testing.T) {
	store := NewTokenStore(new(refresherMock))
	expired := signToken(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Minute).Unix()})
	store.SetTokens(Tokens{AccessToken: expired})

	_, err := store.AccessToken(context.Background())
	require.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestUserID(t *testing.T) {
	store := NewTokenStore(nil)

	store.SetTokens(Tokens{AccessToken: signToken(t, jwt.MapClaims{"sub": "u42"})})
	id, err := store.UserID()
	require.NoError(t, err)
	assert.Equal(t, "u42", id)

	store.SetTokens(Tokens{AccessToken: signToken(t, jwt.MapClaims{"user_id": float64(7)})})
	id, err = store.UserID()
	require.NoError(t, err)
	assert.Equal(t, "7", id)

	store.SetTokens(Tokens{AccessToken: signToken(t, jwt.MapClaims{"role": "x"})})
	_, err = store.UserID()
	require.ErrorIs(t, err, ErrNoSubject)

	store.Clear()
	_, err = store.UserID()
	require.Error(t, err)
}
