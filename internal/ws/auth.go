package ws

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Close codes some servers use to reject a session after the handshake.
const (
	closeUnauthorized    = 4001
	closeHTTPUnauthorize = 4401
)

var errNoCredentials = errors.New("no access token available")

// authError marks failures that retrying with the same token cannot fix.
type authError struct {
	msg string
}

func (e *authError) Error() string {
	return "authentication failed: " + e.msg
}

var authHints = []string{
	"unauthorized",
	"unauthenticated",
	"invalid token",
	"token invalid",
	"token expired",
	"jwt expired",
	"authentication",
}

// isAuthMessage reports whether a server supplied error message indicates a
// rejected credential.
func isAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, hint := range authHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// isAuthFailure classifies dial, credential and read errors.
func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var ae *authError
	if errors.As(err, &ae) {
		return true
	}
	var unauthorized interface{ Unauthorized() bool }
	if errors.As(err, &unauthorized) && unauthorized.Unauthorized() {
		return true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case closeUnauthorized, closeHTTPUnauthorize:
			return true
		case websocket.ClosePolicyViolation:
			return isAuthMessage(closeErr.Text)
		}
		return false
	}
	return isAuthMessage(err.Error())
}

func isAuthStatus(resp *http.Response) bool {
	return resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden)
}
