package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "studiolink/pkg/errors"
	"studiolink/pkg/logger"
)

// APITokenValidator checks bearer tokens for the control API.
type APITokenValidator interface {
	Enabled() bool
	ValidateAPIToken(token string) (string, error)
}

// SubjectKey is where the authenticated token subject is stored.
const SubjectKey = "subject"

// AuthMiddleware requires a bearer token when the validator is enabled and
// lets every request through otherwise.
func AuthMiddleware(validator APITokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator == nil || !validator.Enabled() {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		subject, err := validator.ValidateAPIToken(parts[1])
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}

		c.Set(SubjectKey, subject)
		c.Request = c.Request.WithContext(logger.WithPeerKey(c.Request.Context(), subject))
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	writeAppError(c, apperrors.NewUnauthorizedError(message))
}
