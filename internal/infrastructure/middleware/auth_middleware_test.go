package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type staticValidator struct {
	enabled bool
	token   string
}

func (v staticValidator) Enabled() bool { return v.enabled }

func (v staticValidator) ValidateAPIToken(token string) (string, error) {
	if token != v.token {
		return "", errors.New("invalid token")
	}
	return "operator", nil
}

func authRouter(v APITokenValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AuthMiddleware(v))
	router.GET("/api", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(SubjectKey))
	})
	return router
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		validator APITokenValidator
		header    string
		status    int
		body      string
	}{
		{"nil validator", nil, "", http.StatusOK, ""},
		{"disabled", staticValidator{enabled: false}, "", http.StatusOK, ""},
		{"missing header", staticValidator{enabled: true, token: "t"}, "", http.StatusUnauthorized, "authorization header required"},
		{"wrong scheme", staticValidator{enabled: true, token: "t"}, "Basic t", http.StatusUnauthorized, "invalid authorization header format"},
		{"bad token", staticValidator{enabled: true, token: "t"}, "Bearer nope", http.StatusUnauthorized, "invalid token"},
		{"valid token", staticValidator{enabled: true, token: "t"}, "Bearer t", http.StatusOK, "operator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			authRouter(tt.validator).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}
