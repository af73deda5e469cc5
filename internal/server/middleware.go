// Package server exposes the gateway's HTTP front-end: an Anthropic
// Messages-compatible endpoint for driving the dispatch loop, plus a
// small operational surface (health, models, pool status) — the
// OpenAI-compatible chat-completions/image-generation surface a
// broader proxy might expose is an explicitly out-of-scope external
// collaborator here, so this package only speaks the one wire shape
// the dispatch engine already understands natively.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lattice-run/cloudcode-gateway/internal/config"
	"github.com/lattice-run/cloudcode-gateway/internal/logging"
)

// CORSMiddleware permits browser-based clients (e.g. a local web UI)
// to call the gateway cross-origin.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// APIKeyAuthMiddleware validates a bearer token or X-API-Key header
// against the configured key; a blank cfg.APIKey disables the check
// entirely (the gateway is assumed to run behind localhost).
func APIKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APIKey == "" {
			c.Next()
			return
		}

		var provided string
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			provided = strings.TrimPrefix(auth, "Bearer ")
		} else if key := c.GetHeader("X-API-Key"); key != "" {
			provided = key
		}

		if provided == "" || provided != cfg.APIKey {
			logging.Warn("[server] unauthorized request from %s", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "authentication_error",
					"message": "invalid or missing API key",
				},
			})
			return
		}
		c.Next()
	}
}

// RequestLoggingMiddleware logs every request's method, path, status,
// and duration at a level matched to the response status.
func RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		const msg = "[%s] %s %d (%dms)"

		switch {
		case status >= 500:
			logging.Error(msg, c.Request.Method, path, status, duration.Milliseconds())
		case status >= 400:
			logging.Warn(msg, c.Request.Method, path, status, duration.Milliseconds())
		default:
			logging.Info(msg, c.Request.Method, path, status, duration.Milliseconds())
		}
	}
}
