package middleware

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"backoffice/internal/apperr"
)

// Recovery turns a panic into a 500 envelope. When the client has already
// gone away nothing is written back.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			if brokenConnection(r) {
				log.Warn().
					Interface("panic", r).
					Str("request_id", RequestIDFrom(c)).
					Msg("client connection lost")
				c.Abort()
				return
			}

			log.Error().
				Interface("panic", r).
				Str("request_id", RequestIDFrom(c)).
				Str("path", c.Request.URL.Path).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")
			AbortWithError(c, apperr.Internal("panic", fmt.Errorf("%v", r)))
		}()
		c.Next()
	}
}

func brokenConnection(r any) bool {
	err, ok := r.(error)
	if !ok {
		return false
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	var syscallErr *os.SyscallError
	if !errors.As(opErr, &syscallErr) {
		return false
	}
	msg := strings.ToLower(syscallErr.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
