package middleware

import (
	"github.com/gin-gonic/gin"

	"backoffice/internal/auth"
)

// Require aborts the request unless every guard in opts passes.
func Require(opts auth.Options) gin.HandlerFunc {
	guards := opts.Guards()
	return func(c *gin.Context) {
		if err := check(c, guards); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// Wrap guards a single handler with opts.
func Wrap(handler gin.HandlerFunc, opts auth.Options) gin.HandlerFunc {
	guards := opts.Guards()
	return func(c *gin.Context) {
		if err := check(c, guards); err != nil {
			AbortWithError(c, err)
			return
		}
		handler(c)
	}
}

// RequireGuard runs an ad-hoc guard, e.g. one that needs a path parameter.
func RequireGuard(build func(c *gin.Context) auth.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := check(c, []auth.Guard{build(c)}); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func check(c *gin.Context, guards []auth.Guard) error {
	_, err := auth.Authorize(c.Request.Context(), guards...)
	return err
}
