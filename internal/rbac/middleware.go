package rbac

import (
	"net/http"

	"callintel/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireRole admits callers whose role ranks at least min.
// A token with a role this service does not know is forbidden, not unauthenticated.
func RequireRole(min string) gin.HandlerFunc {
	if !IsKnown(min) {
		panic("rbac: unknown minimum role " + min)
	}
	return func(c *gin.Context) {
		id := auth.IdentityFrom(c.Request.Context())
		if id.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !AtLeast(id.Role, min) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "required": min})
			return
		}
		c.Next()
	}
}
