package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Aidin1998/optigate/common/apiutil"
	"github.com/Aidin1998/optigate/internal/auth"
)

const identityKey = "identity"

// identityMiddleware resolves the caller and stores it on the context.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.resolver.Resolve(c.Request.Context(), c.GetHeader("Authorization"), c.ClientIP())
		if err != nil {
			detail := "invalid credentials"
			if errors.Is(err, auth.ErrAuthRequired) {
				detail = "Authorization header required"
			}
			s.logger.Debug("identity rejected", zap.Error(err))
			apiutil.RFC7807UnauthorizedResponse(c, detail)
			c.Abort()
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identityFrom(c *gin.Context) auth.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(auth.Identity); ok {
			return id
		}
	}
	return auth.Identity{Key: "anonymous"}
}
