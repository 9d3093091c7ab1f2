// Package handlers provides HTTP request handlers for the server.
// This file handles model listing endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/poemonsense/antigravity-proxy-go/internal/account"
	"github.com/poemonsense/antigravity-proxy-go/internal/cloudcode"
	"github.com/poemonsense/antigravity-proxy-go/internal/utils"
)

// ModelsHandler handles model listing endpoints
type ModelsHandler struct {
	accountManager *account.Manager
}

// NewModelsHandler creates a new ModelsHandler
func NewModelsHandler(accountManager *account.Manager) *ModelsHandler {
	return &ModelsHandler{
		accountManager: accountManager,
	}
}

// ListModels handles GET /v1/models - OpenAI-compatible format
func (h *ModelsHandler) ListModels(c *gin.Context) {
	ctx := c.Request.Context()

	// Select an account to get token
	result, err := h.accountManager.SelectAccount(ctx, "", account.SelectOptions{})
	if err != nil || result.Account == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "api_error",
				"message": "No accounts available",
			},
		})
		return
	}

	token, err := h.accountManager.GetTokenForAccount(ctx, result.Account)
	if err != nil {
		utils.Error("[API] Error getting token for models:", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "api_error",
				"message": err.Error(),
			},
		})
		return
	}

	models, err := cloudcode.ListModels(ctx, token)
	if err != nil {
		utils.Error("[API] Error listing models:", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "api_error",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, models)
}

// geminiModelEntry is one entry of a /v1beta/models listing, in the
// Gemini-compatible shape (distinct field names from ModelEntry's
// OpenAI-compatible shape).
type geminiModelEntry struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

// ListModelsGemini handles GET /v1beta/models, reusing the same CloudCode
// model listing ListModels drives and reshaping it into Gemini's field
// names instead of introducing a second upstream fetch.
func (h *ModelsHandler) ListModelsGemini(c *gin.Context) {
	ctx := c.Request.Context()

	result, err := h.accountManager.SelectAccount(ctx, "", account.SelectOptions{})
	if err != nil || result.Account == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"code": http.StatusServiceUnavailable, "message": "No accounts available", "status": "UNAVAILABLE"}})
		return
	}

	token, err := h.accountManager.GetTokenForAccount(ctx, result.Account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": http.StatusInternalServerError, "message": err.Error(), "status": "INTERNAL"}})
		return
	}

	models, err := cloudcode.ListModels(ctx, token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": http.StatusInternalServerError, "message": err.Error(), "status": "INTERNAL"}})
		return
	}

	entries := make([]geminiModelEntry, 0, len(models.Data))
	for _, m := range models.Data {
		entries = append(entries, geminiModelEntry{
			Name:                       "models/" + m.ID,
			DisplayName:                m.Description,
			SupportedGenerationMethods: []string{"generateContent", "streamGenerateContent"},
		})
	}

	c.JSON(http.StatusOK, gin.H{"models": entries})
}
