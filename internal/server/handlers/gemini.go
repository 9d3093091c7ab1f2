package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/poemonsense/antigravity-proxy-go/internal/account"
	"github.com/poemonsense/antigravity-proxy-go/internal/cloudcode"
	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/format"
	"github.com/poemonsense/antigravity-proxy-go/internal/routing"
	"github.com/poemonsense/antigravity-proxy-go/internal/server/sse"
	"github.com/poemonsense/antigravity-proxy-go/internal/utils"
	"github.com/poemonsense/antigravity-proxy-go/pkg/anthropic"
	"github.com/poemonsense/antigravity-proxy-go/pkg/gemini"
)

// GeminiHandler serves the client-facing Gemini-compatible
// /v1beta/models/{model}:generateContent and :streamGenerateContent
// endpoints, translating into the Anthropic Messages shape and reusing the
// existing CloudCode pipeline rather than re-deriving the wire protocol a
// third time.
type GeminiHandler struct {
	accountManager  *account.Manager
	cloudCodeClient *cloudcode.Client
	cfg             *config.Config
	fallbackEnabled bool
}

// NewGeminiHandler creates a new GeminiHandler.
func NewGeminiHandler(
	accountManager *account.Manager,
	cloudCodeClient *cloudcode.Client,
	cfg *config.Config,
	fallbackEnabled bool,
) *GeminiHandler {
	return &GeminiHandler{
		accountManager:  accountManager,
		cloudCodeClient: cloudCodeClient,
		cfg:             cfg,
		fallbackEnabled: fallbackEnabled,
	}
}

// modelAndAction splits Gemini's "{model}:{action}" path parameter, e.g.
// "gemini-3-pro:streamGenerateContent".
func modelAndAction(param string) (model, action string) {
	idx := strings.LastIndex(param, ":")
	if idx < 0 {
		return param, ""
	}
	return param[:idx], param[idx+1:]
}

// GenerateContent handles POST /v1beta/models/{modelAndAction}, dispatching
// on the ":generateContent"/":streamGenerateContent" suffix since Gemini
// encodes the action in the path rather than in the body or a sub-route.
func (h *GeminiHandler) GenerateContent(c *gin.Context) {
	ctx := c.Request.Context()

	rawModel, action := modelAndAction(c.Param("modelAndAction"))
	stream := action == "streamGenerateContent"

	model := rawModel
	if h.cfg.ModelMapping != nil {
		model = routing.Resolve(model, h.cfg.ModelMapping)
	}

	var req gemini.GenerateContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	anthropicReq := format.GeminiToAnthropic(model, &req, stream)

	result, _ := h.accountManager.SelectAccount(ctx, "", account.SelectOptions{})
	if result.Account != nil {
		token, err := h.accountManager.GetTokenForAccount(ctx, result.Account)
		if err == nil {
			projectID := ""
			if result.Account.Subscription != nil {
				projectID = result.Account.Subscription.ProjectID
			}
			if !cloudcode.IsValidModel(ctx, anthropicReq.Model, token, projectID) {
				h.sendError(c, http.StatusBadRequest, "Invalid model: "+anthropicReq.Model)
				return
			}
		}
	}

	utils.Info("[Gemini] Request for model: %s, stream: %t", anthropicReq.Model, stream)

	if stream {
		h.handleStreaming(c, anthropicReq)
		return
	}
	h.handleNonStreaming(c, anthropicReq)
}

func (h *GeminiHandler) handleNonStreaming(c *gin.Context, req *anthropic.MessagesRequest) {
	ctx := c.Request.Context()

	response, err := h.cloudCodeClient.SendMessage(ctx, req, h.fallbackEnabled)
	if err != nil {
		utils.Error("[Gemini] Error: %v", err)
		_, statusCode, errorMessage := h.handleAPIError(err)
		h.sendError(c, statusCode, errorMessage)
		return
	}

	c.JSON(http.StatusOK, format.AnthropicToGemini(response))
}

// handleStreaming re-translates the CloudCode SSEEvent stream into
// Gemini-shaped generateContent chunks, written as "data: {json}\n\n" frames
// (Gemini's streamGenerateContent?alt=sse format, no named event line).
func (h *GeminiHandler) handleStreaming(c *gin.Context, req *anthropic.MessagesRequest) {
	ctx := c.Request.Context()

	events, errs := h.cloudCodeClient.SendMessageStream(ctx, req, h.fallbackEnabled)

	var firstEvent *cloudcode.SSEEvent
	var firstErr error

	select {
	case event, ok := <-events:
		if !ok {
			select {
			case err := <-errs:
				firstErr = err
			default:
				firstErr = cloudcode.NewEmptyResponseError("No response received")
			}
		} else {
			firstEvent = event
		}
	case err := <-errs:
		firstErr = err
	}

	if firstErr != nil {
		utils.Error("[Gemini] Initial stream error: %v", firstErr)
		_, statusCode, errorMessage := parseError(firstErr)
		c.JSON(statusCode, gemini.ErrorResponse{Error: gemini.ErrorDetail{Code: statusCode, Message: errorMessage, Status: "INTERNAL"}})
		return
	}

	sseWriter, err := sse.NewWriter(c.Writer)
	if err != nil {
		utils.Error("[Gemini] Failed to create SSE writer: %v", err)
		h.sendError(c, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	c.Status(http.StatusOK)
	sseWriter.SetHeaders()
	c.Writer.Flush()

	st := newGeminiStreamState(req.Model)

	if firstEvent != nil {
		if chunk := st.translate(firstEvent); chunk != nil {
			if err := sseWriter.WriteData(chunk); err != nil {
				utils.Error("[Gemini] Error writing chunk: %v", err)
				return
			}
		}
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if chunk := st.translate(event); chunk != nil {
				if err := sseWriter.WriteData(chunk); err != nil {
					utils.Error("[Gemini] Error writing chunk: %v", err)
					return
				}
			}
		case err := <-errs:
			if err != nil {
				utils.Error("[Gemini] Mid-stream error: %v", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *GeminiHandler) handleAPIError(err error) (string, int, string) {
	errorType, statusCode, errorMessage := parseError(err)
	if errorType == "authentication_error" {
		h.accountManager.ClearTokenCache()
		h.accountManager.ClearProjectCache()
		errorMessage = "Token was expired and has been refreshed. Please retry your request."
	}
	return errorType, statusCode, errorMessage
}

func (h *GeminiHandler) sendError(c *gin.Context, statusCode int, message string) {
	status := "INVALID_ARGUMENT"
	if statusCode >= 500 {
		status = "INTERNAL"
	}
	c.JSON(statusCode, gemini.ErrorResponse{Error: gemini.ErrorDetail{Code: statusCode, Message: message, Status: status}})
}
