package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bracket-engine/internal/auth"
)

// RequireAuth validates the bearer token and stores its claims in the
// context. When roles are given, the bearer must hold one of them.
func RequireAuth(authService *auth.Service, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(authHeader[7:])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		if len(roles) > 0 && !hasRole(claims.Role, roles) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient role"})
			c.Abort()
			return
		}

		c.Set("operator_id", claims.OperatorID)
		c.Set("role", claims.Role)
		c.Set("guild_id", claims.GuildID)
		c.Next()
	}
}

func hasRole(have string, want []string) bool {
	for _, r := range want {
		if have == r {
			return true
		}
	}
	return false
}

// RequireGuildAccess restricts guild-scoped routes: admins reach every
// guild, TOs only the guild their token names. Must run after RequireAuth.
func RequireGuildAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") == auth.RoleAdmin {
			c.Next()
			return
		}
		if c.GetString("guild_id") != c.Param("guild") {
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden for this guild"})
			c.Abort()
			return
		}
		c.Next()
	}
}
