// Package server provides the HTTP server implementation.
// This file corresponds to the middleware in src/server.js.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/usertoken"
	"github.com/poemonsense/antigravity-proxy-go/internal/utils"
)

// CORSMiddleware handles CORS headers
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// APIKeyAuthMiddleware validates API key for /v1/* endpoints
func APIKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip validation if apiKey is not configured
		if cfg.APIKey == "" {
			c.Next()
			return
		}

		// Get API key from Authorization header or X-API-Key header
		var providedKey string
		authHeader := c.GetHeader("Authorization")
		xAPIKey := c.GetHeader("X-API-Key")

		if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
			providedKey = strings.TrimPrefix(authHeader, "Bearer ")
		} else if xAPIKey != "" {
			providedKey = xAPIKey
		}

		if providedKey == "" || providedKey != cfg.APIKey {
			utils.Warn("[API] Unauthorized request from %s, invalid API key", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "authentication_error",
					"message": "Invalid or missing API key",
				},
			})
			return
		}

		c.Next()
	}
}

// UserTokenMiddleware enforces the client-issued token layer in front of
// the translators (spec.md §4.7): expiry, IP-binding-count limit, and
// curfew window. A no-op when cfg.UserToken.Enabled is false or no Bearer
// token is supplied and store is nil (store absence means initialization
// failed; fail open so operators can disable it without redeploying).
func UserTokenMiddleware(cfg *config.Config, store *usertoken.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.UserToken.Enabled || store == nil {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "authentication_error",
					"message": "Missing bearer token",
				},
			})
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		ok, reason, err := store.Validate(token, c.ClientIP())
		if err != nil {
			utils.Error("[UserToken] Validation error: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "api_error",
					"message": "Token validation failed",
				},
			})
			return
		}
		if !ok {
			utils.Warn("[UserToken] Rejected request from %s: %s", c.ClientIP(), reason)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "permission_error",
					"message": reason,
				},
			})
			return
		}

		c.Next()
	}
}

// RequestLoggingMiddleware logs all requests
func RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		logMsg := "[%s] %s %d (%dms)"

		// Skip logging for certain paths unless debug mode
		if path == "/api/event_logging/batch" ||
			strings.HasPrefix(path, "/v1/messages/count_tokens") ||
			strings.HasPrefix(path, "/.well-known/") {
			if utils.IsDebug() {
				utils.Debug(logMsg, c.Request.Method, c.Request.URL.Path, status, duration.Milliseconds())
			}
			return
		}

		// Colorize status code
		if status >= 500 {
			utils.Error(logMsg, c.Request.Method, c.Request.URL.Path, status, duration.Milliseconds())
		} else if status >= 400 {
			utils.Warn(logMsg, c.Request.Method, c.Request.URL.Path, status, duration.Milliseconds())
		} else {
			utils.Info(logMsg, c.Request.Method, c.Request.URL.Path, status, duration.Milliseconds())
		}
	}
}

// SilentHandlerMiddleware handles Claude Code CLI silent endpoints
func SilentHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Handle Claude Code event logging requests silently
		if c.Request.Method == "POST" && c.Request.URL.Path == "/api/event_logging/batch" {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			c.Abort()
			return
		}
		// Handle Claude Code root POST requests silently
		if c.Request.Method == "POST" && c.Request.URL.Path == "/" {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			c.Abort()
			return
		}

		c.Next()
	}
}
