package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Identity is the logged in user behind the adapter.
type Identity interface {
	LoggedIn() bool
	UserID() (string, error)
}

// RequireSession rejects adapter calls while no user is logged in and puts
// the user id in the context under "userID".
func RequireSession(identity Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !identity.LoggedIn() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
			return
		}

		userID, err := identity.UserID()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}
