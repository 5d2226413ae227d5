package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type identity struct {
	loggedIn bool
	userID   string
	err      error
}

func (i identity) LoggedIn() bool          { return i.loggedIn }
func (i identity) UserID() (string, error) { return i.userID, i.err }

func setupRouter(id identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/state", RequireSession(id), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("userID"))
	})
	return r
}

func TestRequireSessionPassesUserID(t *testing.T) {
	router := setupRouter(identity{loggedIn: true, userID: "u1"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())
}

func TestRequireSessionRejectsLoggedOut(t *testing.T) {
	router := setupRouter(identity{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "not logged in")
}

func TestRequireSessionRejectsUnreadableToken(t *testing.T) {
	router := setupRouter(identity{loggedIn: true, err: assert.AnError})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
