package middleware

import (
	"klineflow/internal/consts"
	"klineflow/pkg/logger"
	"time"

	"github.com/gin-gonic/gin"
)

func Logger(c *gin.Context) {
	t := time.Now()
	c.Next()
	logger.With(
		consts.RequestId, c.GetString(consts.RequestId),
		"host", c.ClientIP(),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"cost", time.Since(t),
	).Infof("[request]")
}
