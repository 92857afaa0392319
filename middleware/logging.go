package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// Logging returns a logging middleware for HTTP requests
func Logging() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(params gin.LogFormatterParams) string {
		line := fmt.Sprintf("%s %s %s %d %s",
			params.TimeStamp.Format(time.RFC3339),
			params.Method,
			params.Path,
			params.StatusCode,
			params.Latency,
		)
		if params.ErrorMessage != "" {
			line += " " + params.ErrorMessage
		}
		return line + "\n"
	})
}
