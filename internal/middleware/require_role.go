// require_role.go
package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"order-tracking-service/internal/model"
)

// RequireRole corta la request si el usuario no tiene alguno de los roles.
// Va siempre después de AuthMiddleware.
func RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		if !slices.Contains(roles, user.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": string(user.Role) + " cannot access this resource"})
			return
		}
		c.Next()
	}
}
