// Package openai provides the wire types for the OpenAI-compatible
// /v1/chat/completions, /v1/completions, and /v1/responses endpoints.
// Grounded on original_source/src-tauri/src/proxy/mappers/openai/models.rs,
// which folds all three endpoints' request shapes into one struct; this
// package keeps that same unification rather than three near-duplicate types.
package openai

import "encoding/json"

// ChatMessage is one message in a chat-completions-style request.
type ChatMessage struct {
	Role       string      `json:"role"`
	Content    interface{} `json:"content,omitempty"` // string or []ContentPart
	Name       string      `json:"name,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// ContentPart is one element of a multi-part message content array.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries either a remote URL or a data: URI.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ToolCall is an assistant-emitted function call.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

// ToolCallFunc is the function payload of a ToolCall.
type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is a function tool definition.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the body of a Tool.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ThinkingConfig mirrors the Anthropic-compatible extension some OpenAI
// clients (Claude Code in OpenAI-compat mode) send for extended thinking.
type ThinkingConfig struct {
	Type         string `json:"type,omitempty"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// ChatCompletionRequest is the unified request shape backing
// /v1/chat/completions, /v1/completions (via prompt), and /v1/responses
// (via input/instructions).
type ChatCompletionRequest struct {
	Model            string          `json:"model"`
	Messages         []ChatMessage   `json:"messages,omitempty"`
	Prompt           string          `json:"prompt,omitempty"`
	Input            json.RawMessage `json:"input,omitempty"`
	Instructions     string          `json:"instructions,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	MaxOutputTokens  *int            `json:"max_output_tokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	Stop             interface{}     `json:"stop,omitempty"`
	Tools            []Tool          `json:"tools,omitempty"`
	ToolChoice       interface{}     `json:"tool_choice,omitempty"`
	ParallelToolCall *bool           `json:"parallel_tool_calls,omitempty"`
	Thinking         *ThinkingConfig `json:"thinking,omitempty"`
}

// ChatCompletionResponse is the non-streaming /v1/chat/completions reply.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is one completion candidate.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason *string     `json:"finish_reason"`
}

// Usage reports token accounting in OpenAI's field names.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is one "data: " frame of a streamed completion.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice is one streamed choice delta.
type ChunkChoice struct {
	Index        int         `json:"index"`
	Delta        ChatMessage `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// CompletionResponse is the legacy /v1/completions reply shape.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

// CompletionChoice is one legacy-completion candidate.
type CompletionChoice struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	FinishReason *string `json:"finish_reason"`
}

// ResponsesOutputItem is one item of a /v1/responses "output" array.
type ResponsesOutputItem struct {
	Type    string                `json:"type"`
	Role    string                `json:"role,omitempty"`
	Content []ResponsesOutputPart `json:"content,omitempty"`
}

// ResponsesOutputPart is one content part of a ResponsesOutputItem.
type ResponsesOutputPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ResponsesResponse is the non-streaming /v1/responses reply.
type ResponsesResponse struct {
	ID         string                `json:"id"`
	Object     string                `json:"object"`
	Created    int64                 `json:"created_at"`
	Model      string                `json:"model"`
	Status     string                `json:"status"`
	Output     []ResponsesOutputItem `json:"output"`
	OutputText string                `json:"output_text,omitempty"`
	Usage      *Usage                `json:"usage,omitempty"`
}

// ErrorResponse is the OpenAI-shaped error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the body of an ErrorResponse.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}
