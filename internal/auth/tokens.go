// Package auth keeps the session credentials and refreshes the access token
// before it expires.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoRefreshToken is returned when the access token expired and there is
	// nothing to refresh it with.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrNoSubject is returned when the access token carries no user id.
	ErrNoSubject = errors.New("access token has no subject")
)

// Tokens is an access/refresh token pair.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Refresher exchanges a refresh token for a new pair.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (Tokens, error)
}

// TokenStore is the session's credential provider.
type TokenStore struct {
	refresher Refresher
	skew      time.Duration
	now       func() time.Time

	mu      sync.Mutex
	tokens  Tokens
	refresh sync.Mutex
}

// NewTokenStore creates an empty (logged out) store.
func NewTokenStore(refresher Refresher) *TokenStore {
	return &TokenStore{
		refresher: refresher,
		skew:      30 * time.Second,
		now:       time.Now,
	}
}

// SetTokens installs credentials after a login or refresh.
func (s *TokenStore) SetTokens(tokens Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = tokens
}

// Clear forgets the credentials.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = Tokens{}
}

// LoggedIn reports whether an access token is present.
func (s *TokenStore) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.AccessToken != ""
}

// AccessToken returns a usable access token, refreshing it first when it is
// about to expire. It returns "" and no error when logged out.
func (s *TokenStore) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	current := s.tokens
	s.mu.Unlock()

	if current.AccessToken == "" {
		return "", nil
	}
	if !s.expiring(current.AccessToken) {
		return current.AccessToken, nil
	}

	s.refresh.Lock()
	defer s.refresh.Unlock()

	// another caller may have refreshed while we waited
	s.mu.Lock()
	current = s.tokens
	s.mu.Unlock()
	if current.AccessToken == "" {
		return "", nil
	}
	if !s.expiring(current.AccessToken) {
		return current.AccessToken, nil
	}

	if current.RefreshToken == "" || s.refresher == nil {
		return "", ErrNoRefreshToken
	}

	fresh, err := s.refresher.RefreshToken(ctx, current.RefreshToken)
	if err != nil {
		var unauthorized interface{ Unauthorized() bool }
		if errors.As(err, &unauthorized) && unauthorized.Unauthorized() {
			log.Printf("auth: refresh token rejected, clearing session")
			s.Clear()
		}
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = current.RefreshToken
	}
	s.SetTokens(fresh)
	log.Printf("auth: access token refreshed")
	return fresh.AccessToken, nil
}

// UserID returns the subject of the current access token.
func (s *TokenStore) UserID() (string, error) {
	s.mu.Lock()
	token := s.tokens.AccessToken
	s.mu.Unlock()

	claims, err := parseClaims(token)
	if err != nil {
		return "", err
	}
	if sub, _ := claims.GetSubject(); sub != "" {
		return sub, nil
	}
	switch v := claims["user_id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	}
	return "", ErrNoSubject
}

// expiring reports whether token expires within the skew window. Tokens
// without an exp claim never expire; unparsable tokens are handed to the
// server as is.
func (s *TokenStore) expiring(token string) bool {
	claims, err := parseClaims(token)
	if err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return s.now().Add(s.skew).After(exp.Time)
}

// parseClaims reads claims without verifying the signature; the server is the
// one that validates tokens.
func parseClaims(token string) (jwt.MapClaims, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	return claims, nil
}
