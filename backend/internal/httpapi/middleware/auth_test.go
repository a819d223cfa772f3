package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(secret, nil))
	r.GET("/me", func(c *gin.Context) {
		id, _ := UserID(c)
		c.String(http.StatusOK, id)
	})
	return r
}

func do(r http.Handler, target, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_BearerHeader(t *testing.T) {
	token, err := SignAccessToken(secret, "user-1", "alice", time.Minute)
	require.NoError(t, err)

	w := do(newRouter(), "/me", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", w.Body.String())
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	token, err := SignAccessToken(secret, "user-2", "", time.Minute)
	require.NoError(t, err)

	w := do(newRouter(), "/me?token="+token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-2", w.Body.String())
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	expired, err := SignAccessToken(secret, "user-1", "", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := SignAccessToken([]byte("other"), "user-1", "", time.Minute)
	require.NoError(t, err)
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Type:             "refresh",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString(secret)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{Type: "access"}).SignedString(secret)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":    "",
		"not bearer": "Basic abc",
		"expired":    "Bearer " + expired,
		"wrong key":  "Bearer " + wrongKey,
		"refresh":    "Bearer " + refresh,
		"no subject": "Bearer " + noSubject,
	} {
		t.Run(name, func(t *testing.T) {
			w := do(newRouter(), "/me", header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "UNAUTHENTICATED")
		})
	}
}

func TestExtractBearer(t *testing.T) {
	assert.Equal(t, "abc", extractBearer("bearer abc"))
	assert.Equal(t, "abc", extractBearer("Bearer  abc "))
	assert.Equal(t, "", extractBearer("Bearer "))
	assert.Equal(t, "", extractBearer("Token abc"))
}
