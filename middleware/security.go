package middleware

import "github.com/gin-gonic/gin"

// Security sets response headers that keep browsers from sniffing or framing API responses
func Security() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}
