// Package webui provides a thin admin surface: account listing/toggling and
// server config presets. The full account-editing, Claude CLI config, and log
// streaming surface lives in an external UI-facing collaborator, not here.
package webui

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/poemonsense/antigravity-proxy-go/internal/config"
)

// AuthMiddleware gates the admin API behind a shared password, configured via
// WEBUI_PASSWORD or config.json. An empty password disables the gate.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		password := cfg.WebUIPassword
		if password == "" {
			c.Next()
			return
		}

		path := c.Request.URL.Path
		isAPIRoute := len(path) >= 5 && path[:5] == "/api/"

		if isAPIRoute {
			providedPassword := c.GetHeader("X-WebUI-Password")
			if providedPassword == "" {
				providedPassword = c.Query("password")
			}

			if providedPassword != password {
				c.JSON(http.StatusUnauthorized, gin.H{
					"status": "error",
					"error":  "Unauthorized: Password required",
				})
				c.Abort()
				return
			}
		}

		c.Next()
	}
}
