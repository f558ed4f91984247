package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuthenticatorRoundTrip(t *testing.T) {
	auth := NewJWTAuthenticator("secret", "identity")
	token, err := auth.Issue(42, time.Minute)
	require.NoError(t, err)

	userID, err := auth.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 42, userID)
}

func TestJWTAuthenticatorRejects(t *testing.T) {
	auth := NewJWTAuthenticator("secret", "identity")

	expired, err := auth.Issue(42, -time.Minute)
	require.NoError(t, err)
	_, err = auth.Authenticate(context.Background(), expired)
	assert.Error(t, err)

	foreign, err := NewJWTAuthenticator("other", "identity").Issue(42, time.Minute)
	require.NoError(t, err)
	_, err = auth.Authenticate(context.Background(), foreign)
	assert.Error(t, err)

	wrongIssuer, err := NewJWTAuthenticator("secret", "elsewhere").Issue(42, time.Minute)
	require.NoError(t, err)
	_, err = auth.Authenticate(context.Background(), wrongIssuer)
	assert.Error(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "identity",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = auth.Authenticate(context.Background(), noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := NewJWTAuthenticator("secret", "")
	router := gin.New()
	router.GET("/me", AuthMiddleware(auth), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})

	token, err := auth.Issue(7, time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token abc", http.StatusUnauthorized},
		{"invalid", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}
