package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func authRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTAuth(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(UserKey))
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	r := authRouter("secret")

	valid, err := IssueToken("secret", "alice", time.Now())
	require.NoError(t, err)
	expired, err := IssueToken("secret", "alice", time.Now().Add(-2*TokenTTL))
	require.NoError(t, err)
	foreign, err := IssueToken("other", "alice", time.Now())
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, "alice"},
		{"missing", "", http.StatusUnauthorized, "bearer token required"},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, "bearer token required"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "token expired"},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, "invalid token"},
		{"garbage", "Bearer not-a-token", http.StatusUnauthorized, "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, tt.status, w.Code)
			require.Contains(t, w.Body.String(), tt.body)
		})
	}
}
