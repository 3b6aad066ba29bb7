// auth_middleware.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"order-tracking-service/internal/model"
)

const (
	userKey  = "user"
	actorKey = "actor"
)

// TokenValidator resuelve un token en el usuario autenticado.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*model.User, error)
}

// Middleware que valida el token y guarda el usuario y el actor en el contexto.
// Los websockets del navegador no pueden mandar headers, así que se acepta ?token=.
func AuthMiddleware(auth TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		user, err := auth.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		actor, err := model.NewActor(*user)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}

		c.Set(userKey, *user)
		c.Set(actorKey, actor)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(c.Query("token"))
}

// CurrentUser devuelve el usuario que dejó AuthMiddleware.
func CurrentUser(c *gin.Context) (model.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return model.User{}, false
	}
	u, ok := v.(model.User)
	return u, ok
}

// CurrentActor devuelve el actor con el que se firman los cambios de estado.
func CurrentActor(c *gin.Context) (model.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return nil, false
	}
	a, ok := v.(model.Actor)
	return a, ok
}
