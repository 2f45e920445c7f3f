package middleware

import (
	"github.com/gin-gonic/gin"

	"backoffice/internal/auth"
)

// Authenticate resolves the caller once per request. It never rejects: an
// absent header leaves the request anonymous and an invalid one is recorded
// for the guards to report.
func Authenticate(resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := resolver.Resolve(c.GetHeader("Authorization"))
		ctx := c.Request.Context()
		if err != nil {
			ctx = auth.WithResolveError(ctx, err)
		} else if user != nil {
			ctx = auth.WithUser(ctx, user)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CurrentUser returns the resolved user or nil.
func CurrentUser(c *gin.Context) *auth.User {
	return auth.FromContext(c.Request.Context())
}
