package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/routing"
)

// ModelDetectHandler serves /v1/models/detect: given a requested model name,
// resolve it through the configured routing table and report which optional
// capabilities it carries so API-compatibility-layer clients (e.g. an
// OpenAI SDK probing for tool support) don't have to hardcode a model list.
type ModelDetectHandler struct {
	cfg *config.Config
}

// NewModelDetectHandler creates a new ModelDetectHandler.
func NewModelDetectHandler(cfg *config.Config) *ModelDetectHandler {
	return &ModelDetectHandler{cfg: cfg}
}

// ModelCapabilities reports the routing and capability-flag result for one
// requested model.
type ModelCapabilities struct {
	RequestedModel string `json:"requested_model"`
	ResolvedModel  string `json:"resolved_model"`
	WebSearch      bool   `json:"web_search_capable"`
	ImageGen       bool   `json:"image_gen_capable"`
}

// Detect handles GET /v1/models/detect?model=....
func (h *ModelDetectHandler) Detect(c *gin.Context) {
	requested := c.Query("model")
	if requested == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "invalid_request_error",
				"message": "query parameter \"model\" is required",
			},
		})
		return
	}

	resolved := requested
	if h.cfg.ModelMapping != nil {
		resolved = routing.Resolve(requested, h.cfg.ModelMapping)
	}

	c.JSON(http.StatusOK, ModelCapabilities{
		RequestedModel: requested,
		ResolvedModel:  resolved,
		WebSearch:      resolved == config.WebSearchCapableModel,
		ImageGen:       strings.HasPrefix(resolved, config.ImageGenModelPrefix),
	})
}
