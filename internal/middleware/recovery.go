package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/response"
)

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.GetLogger().WithFields(logrus.Fields{
					"error":  err,
					"method": c.Request.Method,
					"path":   c.Request.URL.Path,
					"actor":  c.GetString(ActorKey),
					"stack":  string(debug.Stack()),
				}).Error("Panic recovered")
				response.InternalError(c, "Internal server error", "An unexpected error occurred")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// ErrorHandler answers requests that recorded an error without writing a response
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last()
		logger.GetLogger().WithError(err.Err).WithField("path", c.Request.URL.Path).Error("Request error")

		if !c.Writer.Written() {
			response.InternalError(c, "Request failed", err.Error())
		}
	}
}
