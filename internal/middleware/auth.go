package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"conversation-service/internal/auth"
)

const (
	IdentityKey = "identity"
	UserIDKey   = "userID"
	IsAdminKey  = "isAdmin"
)

// Auth validates the Authorization header and stores the caller identity on
// the request context.
func Auth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		identity, err := verifier.FromBearer(header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(IdentityKey, identity)
		c.Set(UserIDKey, identity.UserID)
		c.Set(IsAdminKey, identity.IsAdmin)
		c.Next()
	}
}

// RequireAdmin rejects non-admin callers. Must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(IsAdminKey) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin privileges required"})
			return
		}
		c.Next()
	}
}
