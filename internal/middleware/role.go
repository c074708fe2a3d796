package middleware

import (
	"net/http"

	"github.com/fleetbridge/backend/internal/models"
	"github.com/gin-gonic/gin"
)

// RequireRole gates a route group to the given roles. ADMIN always passes.
func RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles)+1)
	allowed[models.RoleAdmin] = struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		v, exists := c.Get("user_role")
		role, ok := v.(string)
		if !exists || !ok {
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Role not resolved",
			})
			c.Abort()
			return
		}
		if _, ok := allowed[models.UserRole(role)]; !ok {
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Insufficient role",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
