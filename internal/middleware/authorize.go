package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/parroquia-tech/catequesis-api/internal/access"
	appErrors "github.com/parroquia-tech/catequesis-api/pkg/errors"
	"github.com/parroquia-tech/catequesis-api/pkg/response"
)

// Authorize gates a route on the policy table: the caller's role must carry
// the named action. Requires JWT to have run first.
func Authorize(policy *access.Policy, action access.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !policy.Can(claims.Role, action) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// AuthorizeAny passes when the role carries at least one of the actions.
func AuthorizeAny(policy *access.Policy, actions ...access.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		for _, action := range actions {
			if policy.Can(claims.Role, action) {
				c.Next()
				return
			}
		}
		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
