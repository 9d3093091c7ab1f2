package webui

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/poemonsense/antigravity-proxy-go/internal/account"
	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/utils"
	"github.com/poemonsense/antigravity-proxy-go/internal/webui/handlers"
)

// Router exposes the admin account-list and server-preset API, plus an
// optional static-file fallback for a prebuilt admin frontend.
type Router struct {
	accountManager  *account.Manager
	cfg             *config.Config
	accountsHandler *handlers.AccountsHandler
	presetsHandler  *handlers.PresetsHandler
	logsHandler     *handlers.LogsHandler
}

// NewRouter creates a new admin Router.
func NewRouter(accountManager *account.Manager, cfg *config.Config) *Router {
	return &Router{
		accountManager:  accountManager,
		cfg:             cfg,
		accountsHandler: handlers.NewAccountsHandler(accountManager, cfg),
		presetsHandler:  handlers.NewPresetsHandler(),
		logsHandler:     handlers.NewLogsHandler(),
	}
}

// Mount mounts the admin routes on the given Gin engine.
func (r *Router) Mount(engine *gin.Engine, publicDir string) {
	engine.Use(AuthMiddleware(r.cfg))

	absPath := ""
	if publicDir != "" {
		var err error
		absPath, err = filepath.Abs(publicDir)
		if err != nil {
			utils.Warn("[WebUI] Failed to get absolute path for public dir: %v", err)
			absPath = publicDir
		}
	}

	engine.GET("/api/accounts", r.accountsHandler.ListAccounts)
	engine.POST("/api/accounts/:email/toggle", r.accountsHandler.ToggleAccount)
	engine.DELETE("/api/accounts/:email", r.accountsHandler.DeleteAccount)

	engine.GET("/api/server/presets", r.presetsHandler.ListPresets)
	engine.POST("/api/server/presets", r.presetsHandler.CreatePreset)
	engine.PATCH("/api/server/presets/:name", r.presetsHandler.UpdatePreset)
	engine.DELETE("/api/server/presets/:name", r.presetsHandler.DeletePreset)

	engine.GET("/api/logs", r.logsHandler.GetLogs)
	engine.GET("/api/logs/stream", r.logsHandler.StreamLogs)

	if absPath != "" {
		engine.NoRoute(func(c *gin.Context) {
			path := c.Request.URL.Path

			if strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/v1/") {
				c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
				return
			}

			filePath := filepath.Join(absPath, path)
			if _, err := os.Stat(filePath); err == nil {
				c.File(filePath)
				return
			}

			indexPath := filepath.Join(absPath, "index.html")
			if _, err := os.Stat(indexPath); err == nil {
				c.File(indexPath)
				return
			}

			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		})
	}

	utils.Info("[WebUI] Admin API mounted at /api")
}

// MountWebUI is a convenience function to mount the admin API on an existing Gin engine.
func MountWebUI(engine *gin.Engine, publicDir string, accountManager *account.Manager, cfg *config.Config) {
	router := NewRouter(accountManager, cfg)
	router.Mount(engine, publicDir)
}
