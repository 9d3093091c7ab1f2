package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poemonsense/antigravity-proxy-go/internal/account"
	"github.com/poemonsense/antigravity-proxy-go/internal/cloudcode"
	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/format"
	"github.com/poemonsense/antigravity-proxy-go/internal/routing"
	"github.com/poemonsense/antigravity-proxy-go/internal/server/sse"
	"github.com/poemonsense/antigravity-proxy-go/internal/utils"
	"github.com/poemonsense/antigravity-proxy-go/pkg/anthropic"
	"github.com/poemonsense/antigravity-proxy-go/pkg/openai"
)

// OpenAIHandler serves the OpenAI-compatible /v1/chat/completions,
// /v1/completions, and /v1/responses endpoints by translating into the
// Anthropic Messages shape and reusing the existing CloudCode pipeline
// (internal/cloudcode.Client), the same engine MessagesHandler drives.
type OpenAIHandler struct {
	accountManager  *account.Manager
	cloudCodeClient *cloudcode.Client
	cfg             *config.Config
	fallbackEnabled bool
}

// NewOpenAIHandler creates a new OpenAIHandler.
func NewOpenAIHandler(
	accountManager *account.Manager,
	cloudCodeClient *cloudcode.Client,
	cfg *config.Config,
	fallbackEnabled bool,
) *OpenAIHandler {
	return &OpenAIHandler{
		accountManager:  accountManager,
		cloudCodeClient: cloudCodeClient,
		cfg:             cfg,
		fallbackEnabled: fallbackEnabled,
	}
}

const defaultOpenAIModel = "claude-3-5-sonnet-20241022"

func (h *OpenAIHandler) bindRequest(c *gin.Context) (*openai.ChatCompletionRequest, bool) {
	var req openai.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendError(c, http.StatusBadRequest, "invalid_request_error", "Invalid request body: "+err.Error())
		return nil, false
	}
	if req.Model == "" {
		req.Model = defaultOpenAIModel
	}
	if h.cfg.ModelMapping != nil {
		req.Model = routing.Resolve(req.Model, h.cfg.ModelMapping)
	}
	return &req, true
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	h.handle(c, anthropicResultKindChat)
}

// Completions handles POST /v1/completions (legacy prompt-based API).
func (h *OpenAIHandler) Completions(c *gin.Context) {
	h.handle(c, anthropicResultKindLegacyCompletion)
}

// Responses handles POST /v1/responses.
func (h *OpenAIHandler) Responses(c *gin.Context) {
	h.handle(c, anthropicResultKindResponses)
}

type resultKind int

const (
	anthropicResultKindChat resultKind = iota
	anthropicResultKindLegacyCompletion
	anthropicResultKindResponses
)

func (h *OpenAIHandler) handle(c *gin.Context, kind resultKind) {
	ctx := c.Request.Context()

	req, ok := h.bindRequest(c)
	if !ok {
		return
	}

	anthropicReq, err := format.OpenAIToAnthropic(req)
	if err != nil {
		h.sendError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	result, _ := h.accountManager.SelectAccount(ctx, "", account.SelectOptions{})
	if result.Account != nil {
		token, err := h.accountManager.GetTokenForAccount(ctx, result.Account)
		if err == nil {
			projectID := ""
			if result.Account.Subscription != nil {
				projectID = result.Account.Subscription.ProjectID
			}
			if !cloudcode.IsValidModel(ctx, anthropicReq.Model, token, projectID) {
				h.sendError(c, http.StatusBadRequest, "invalid_request_error",
					"Invalid model: "+anthropicReq.Model+". Use /v1/models to see available models.")
				return
			}
		}
	}

	utils.Info("[OpenAI] Request for model: %s, stream: %t", anthropicReq.Model, req.Stream)

	if req.Stream {
		h.handleStreaming(c, anthropicReq, kind)
		return
	}
	h.handleNonStreaming(c, anthropicReq, kind)
}

func (h *OpenAIHandler) handleNonStreaming(c *gin.Context, req *anthropic.MessagesRequest, kind resultKind) {
	ctx := c.Request.Context()

	response, err := h.cloudCodeClient.SendMessage(ctx, req, h.fallbackEnabled)
	if err != nil {
		utils.Error("[OpenAI] Error: %v", err)
		errorType, statusCode, errorMessage := h.handleAPIError(err)
		h.sendError(c, statusCode, errorType, errorMessage)
		return
	}

	createdUnix := time.Now().Unix()
	switch kind {
	case anthropicResultKindLegacyCompletion:
		c.JSON(http.StatusOK, format.AnthropicToLegacyCompletion(response, createdUnix))
	case anthropicResultKindResponses:
		c.JSON(http.StatusOK, format.AnthropicToResponses(response, createdUnix))
	default:
		c.JSON(http.StatusOK, format.AnthropicToOpenAI(response, createdUnix))
	}
}

// handleStreaming re-translates the CloudCode SSEEvent stream into OpenAI
// chat-completion chunks. /v1/completions and /v1/responses aren't commonly
// streamed by clients of this proxy; they're served as chat-completion
// chunks too, since OpenAI's three formats share one delta vocabulary.
func (h *OpenAIHandler) handleStreaming(c *gin.Context, req *anthropic.MessagesRequest, kind resultKind) {
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
		utils.Error("[OpenAI] Initial stream error: %v", firstErr)
		errorType, statusCode, errorMessage := parseError(firstErr)
		c.JSON(statusCode, openai.ErrorResponse{Error: openai.ErrorDetail{Message: errorMessage, Type: errorType}})
		return
	}

	sseWriter, err := sse.NewWriter(c.Writer)
	if err != nil {
		utils.Error("[OpenAI] Failed to create SSE writer: %v", err)
		h.sendError(c, http.StatusInternalServerError, "api_error", "Streaming not supported")
		return
	}

	c.Status(http.StatusOK)
	sseWriter.SetHeaders()
	c.Writer.Flush()

	st := newOpenAIStreamState(req.Model, time.Now().Unix())

	if firstEvent != nil {
		for _, chunk := range st.translate(firstEvent) {
			if err := sseWriter.WriteData(chunk); err != nil {
				utils.Error("[OpenAI] Error writing chunk: %v", err)
				return
			}
		}
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				_ = sseWriter.WriteDone()
				return
			}
			for _, chunk := range st.translate(event) {
				if err := sseWriter.WriteData(chunk); err != nil {
					utils.Error("[OpenAI] Error writing chunk: %v", err)
					return
				}
			}
		case err := <-errs:
			if err != nil {
				utils.Error("[OpenAI] Mid-stream error: %v", err)
			}
			_ = sseWriter.WriteDone()
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *OpenAIHandler) handleAPIError(err error) (string, int, string) {
	errorType, statusCode, errorMessage := parseError(err)
	if errorType == "authentication_error" {
		h.accountManager.ClearTokenCache()
		h.accountManager.ClearProjectCache()
		errorMessage = "Token was expired and has been refreshed. Please retry your request."
	}
	return errorType, statusCode, errorMessage
}

func (h *OpenAIHandler) sendError(c *gin.Context, statusCode int, errorType, message string) {
	c.JSON(statusCode, openai.ErrorResponse{Error: openai.ErrorDetail{Message: message, Type: errorType}})
}
