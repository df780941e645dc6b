package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
)

// Logger writes one access log line per request. Route params (job or report id) are
// logged alongside so a request can be tied to the entity it touched.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"route":   c.FullPath(),
			"path":    c.Request.URL.Path,
			"ip":      c.ClientIP(),
			"actor":   ActorFrom(c),
			"latency": time.Since(start).Milliseconds(),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			fields["query"] = q
		}
		for _, p := range c.Params {
			fields["param_"+p.Key] = p.Value
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		entry := logger.GetLogger().WithFields(fields)
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request processed")
		}
	}
}
