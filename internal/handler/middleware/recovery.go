package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cortexguard/scanhub/pkg/response"
)

func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(ContextKeyRequestID)))
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.ErrorResponse{
					RequestID:  c.GetString(ContextKeyRequestID),
					Error:      "internal server error",
					Reason:     "internal_error",
					StartedAt:  started,
					FinishedAt: time.Now(),
				})
			}
		}()
		c.Next()
	}
}
