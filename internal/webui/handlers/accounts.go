// Package handlers provides HTTP handlers for the admin surface.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/poemonsense/antigravity-proxy-go/internal/account"
	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/utils"
)

// AccountsHandler handles the account-listing API endpoints.
type AccountsHandler struct {
	accountManager *account.Manager
	cfg            *config.Config
}

// NewAccountsHandler creates a new AccountsHandler.
func NewAccountsHandler(accountManager *account.Manager, cfg *config.Config) *AccountsHandler {
	return &AccountsHandler{
		accountManager: accountManager,
		cfg:            cfg,
	}
}

// ListAccounts handles GET /api/accounts.
func (h *AccountsHandler) ListAccounts(c *gin.Context) {
	status := h.accountManager.GetStatus()

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"accounts": status.Accounts,
		"summary": gin.H{
			"total":       status.Total,
			"available":   status.Available,
			"rateLimited": status.RateLimited,
			"invalid":     status.Invalid,
		},
	})
}

// ToggleAccountRequest is the request body for toggling an account.
type ToggleAccountRequest struct {
	Enabled bool `json:"enabled"`
}

// ToggleAccount handles POST /api/accounts/:email/toggle.
func (h *AccountsHandler) ToggleAccount(c *gin.Context) {
	email := c.Param("email")

	var req ToggleAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "enabled must be a boolean",
		})
		return
	}

	ctx := c.Request.Context()
	if err := h.accountManager.SetAccountEnabled(ctx, email, req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	if err := h.accountManager.Reload(ctx); err != nil {
		utils.Warn("[WebUI] Failed to reload accounts after toggle: %v", err)
	}

	status := "enabled"
	if !req.Enabled {
		status = "disabled"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Account " + email + " " + status,
	})
}

// DeleteAccount handles DELETE /api/accounts/:email.
func (h *AccountsHandler) DeleteAccount(c *gin.Context) {
	email := c.Param("email")

	ctx := c.Request.Context()
	if err := h.accountManager.RemoveAccount(ctx, email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	if err := h.accountManager.Reload(ctx); err != nil {
		utils.Warn("[WebUI] Failed to reload accounts after delete: %v", err)
	}

	utils.Info("[WebUI] Account %s removed", email)

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Account " + email + " removed",
	})
}
