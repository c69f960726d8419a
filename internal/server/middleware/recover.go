package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/looplj/agentpay/internal/log"
)

// Recovery turns a handler panic into a 500 and logs it with the stack.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		log.Error(c.Request.Context(), "panic recovered",
			log.String("panic", fmt.Sprint(recovered)),
			log.String("method", c.Request.Method),
			log.String("path", c.Request.URL.Path),
			log.String("stack", string(debug.Stack())),
		)

		AbortWithError(c, http.StatusInternalServerError, fmt.Errorf("internal server error"))
	})
}
