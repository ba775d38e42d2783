package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/logger"
)

// RequestLogger stamps every request with an id and logs its outcome.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		if log != nil {
			log.Info("request completed",
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
				zap.Int("status", c.Writer.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
		}
	}
}

// ErrorHandler translates an *errors.AppError left on the gin context into
// its {code, message} JSON shape; anything else becomes a generic 500.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		if appErr, ok := err.(*agerrors.AppError); ok {
			if log != nil {
				log.Error("request error", zap.String("code", appErr.Code), zap.String("message", appErr.Message))
			}
			c.JSON(appErr.HTTPStatus, gin.H{"error": gin.H{"code": appErr.Code, "message": appErr.Message}})
			return
		}
		if log != nil {
			log.Error("internal server error", zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": agerrors.ErrCodeInternalError, "message": "an internal server error occurred"}})
	}
}
