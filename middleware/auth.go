package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	auth "github.com/phillip/schoolfund-go/auth"
)

// Context keys set by AuthMiddleware.
const (
	KeyUserID   = "user_id"
	KeyRole     = "role"
	KeySchoolID = "school_id"
	KeyName     = "name"
)

// AuthMiddleware accepts a Bearer token or the "token" cookie and stores
// the caller's identity on the context.
func AuthMiddleware(tokens *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := tokens.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(KeyUserID, claims.Subject)
		c.Set(KeyRole, claims.Role)
		c.Set(KeySchoolID, claims.SchoolID)
		c.Set(KeyName, claims.Name)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := c.Cookie("token"); err == nil {
		return cookie
	}
	return ""
}

// RequireRole must run after AuthMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, c.GetString(KeyRole)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "you do not have access to this resource"})
			return
		}
		c.Next()
	}
}
