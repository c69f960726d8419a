package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/looplj/agentpay/internal/contexts"
	"github.com/looplj/agentpay/internal/objects"
	"github.com/looplj/agentpay/internal/server/biz"
)

// WithJWTAuth authenticates the owner principal and stores its user id in the request context.
func WithJWTAuth(auth *biz.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := ExtractTokenFromRequest(c.Request, DefaultTokenConfig)
		if err != nil {
			AbortWithError(c, http.StatusUnauthorized, err)
			return
		}

		userID, err := auth.AuthenticateJWTToken(c.Request.Context(), token)
		if err != nil {
			_ = c.Error(err)

			if errors.Is(err, biz.ErrInvalidJWT) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, objects.ErrorResponse{
					Error: objects.Error{
						Type:    http.StatusText(http.StatusUnauthorized),
						Message: "Invalid token",
					},
				})
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, objects.ErrorResponse{
					Error: objects.Error{
						Type:    http.StatusText(http.StatusInternalServerError),
						Message: "Failed to validate token",
					},
				})
			}

			return
		}

		c.Request = c.Request.WithContext(contexts.WithPrincipal(c.Request.Context(), userID))

		c.Next()
	}
}
