package authorization

import (
	"net/http"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
)

// Guard wraps the JWT middleware for use by other modules.
type Guard struct {
	jwt *jwt.GinJWTMiddleware
}

// NewGuard builds a guard around the given JWT middleware.
func NewGuard(jwtMiddleware *jwt.GinJWTMiddleware) *Guard {
	if jwtMiddleware == nil {
		return nil
	}
	return &Guard{jwt: jwtMiddleware}
}

// Guard returns the guard instance shared with other route groups.
func (m *Module) Guard() *Guard {
	if m == nil {
		return nil
	}
	return NewGuard(m.jwtMiddleware)
}

// RequireAuthenticated ensures the request carries a valid JWT.
func (g *Guard) RequireAuthenticated() gin.HandlerFunc {
	if g == nil || g.jwt == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		}
	}
	return g.jwt.MiddlewareFunc()
}
