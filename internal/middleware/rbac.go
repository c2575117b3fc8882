package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/aits-api/internal/models"
	appErrors "github.com/noah-isme/aits-api/pkg/errors"
	"github.com/noah-isme/aits-api/pkg/response"
)

// RequireRoles admits only callers holding one of roles. Object-level
// checks stay with the policy engine.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "you do not have permission to perform this action"))
			c.Abort()
			return
		}
		c.Next()
	}
}
