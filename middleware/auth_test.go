package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func setupAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AuthMiddleware(testSecret))
	router.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	return router
}

func signToken(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims, key any) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func TestAuthMiddleware(t *testing.T) {
	valid := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 7,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}, []byte(testSecret))
	expired := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 7,
		"exp":     time.Now().Add(-time.Hour).Unix(),
	}, []byte(testSecret))
	wrongKey := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 7}, []byte("other"))
	noUser := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "7"}, []byte(testSecret))
	hs512 := signToken(t, jwt.SigningMethodHS512, jwt.MapClaims{"user_id": 7}, []byte(testSecret))

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, `{"user_id":7}`},
		{"missing header", "", http.StatusUnauthorized, `{"error":"Missing bearer token"}`},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, `{"error":"Missing bearer token"}`},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, `{"error":"Invalid token"}`},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized, `{"error":"Invalid token"}`},
		{"no user claim", "Bearer " + noUser, http.StatusUnauthorized, `{"error":"Invalid token"}`},
		{"other algorithm", "Bearer " + hs512, http.StatusUnauthorized, `{"error":"Invalid token"}`},
	}

	router := setupAuthRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
			if w.Body.String() != tt.body {
				t.Errorf("Expected body %s, got %s", tt.body, w.Body.String())
			}
		})
	}
}
