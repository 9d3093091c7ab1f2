// Package format provides conversion between Anthropic and Google Generative AI
// formats, and (this file) between the OpenAI-compatible chat/completions/
// responses wire shapes and the Anthropic Messages shape this proxy's
// CloudCode pipeline already speaks internally. Grounded on
// original_source/src-tauri/src/proxy/mappers/openai/request.rs, adapted to
// translate into the Anthropic shape rather than directly into the CloudCode
// envelope, so the existing Anthropic<->CloudCode pipeline in
// request_converter.go/response_converter.go is exercised once, not
// duplicated per client protocol.
package format

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/poemonsense/antigravity-proxy-go/internal/utils"
	"github.com/poemonsense/antigravity-proxy-go/pkg/anthropic"
	"github.com/poemonsense/antigravity-proxy-go/pkg/openai"
)

const defaultOpenAIMaxTokens = 4096

// OpenAIToAnthropic converts a unified ChatCompletionRequest (chat/
// completions/responses) into an Anthropic MessagesRequest.
func OpenAIToAnthropic(req *openai.ChatCompletionRequest) (*anthropic.MessagesRequest, error) {
	out := &anthropic.MessagesRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}

	switch {
	case req.MaxOutputTokens != nil:
		out.MaxTokens = *req.MaxOutputTokens
	case req.MaxTokens != nil:
		out.MaxTokens = *req.MaxTokens
	default:
		out.MaxTokens = defaultOpenAIMaxTokens
	}

	if out.StopSequences = stopSequencesFrom(req.Stop); req.Thinking != nil && req.Thinking.Type == "enabled" {
		out.Thinking = &anthropic.ThinkingConfig{Type: "enabled", BudgetTokens: req.Thinking.BudgetTokens}
	}

	messages := req.Messages
	if len(messages) == 0 {
		// /v1/completions (prompt) and /v1/responses (input) both normalize
		// to a single user message, matching how the original folds
		// Codex's "instructions"/"input" fields into the same pipeline as
		// chat messages.
		text := req.Prompt
		if text == "" && len(req.Input) > 0 {
			parsed, err := responsesInputToText(req.Input)
			if err != nil {
				return nil, err
			}
			text = parsed
		}
		if text == "" {
			return nil, fmt.Errorf("request has no messages, prompt, or input")
		}
		messages = []openai.ChatMessage{{Role: "user", Content: text}}
	}

	var systemParts []string
	if req.Instructions != "" {
		systemParts = append(systemParts, req.Instructions)
	}

	toolCallNames := map[string]string{}
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			toolCallNames[tc.ID] = tc.Function.Name
		}
	}

	for _, m := range messages {
		switch m.Role {
		case "system", "developer":
			if text, err := contentToText(m.Content); err == nil && text != "" {
				systemParts = append(systemParts, text)
			}
		case "tool", "function":
			name := toolCallNames[m.ToolCallID]
			text, _ := contentToText(m.Content)
			out.Messages = append(out.Messages, anthropic.Message{
				Role: "user",
				Content: []anthropic.ContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   text,
				}},
			})
			_ = name
		default:
			role := m.Role
			if role != "user" && role != "assistant" {
				role = "user"
			}
			blocks, err := contentToBlocks(m.Content)
			if err != nil {
				return nil, err
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: json.RawMessage(tc.Function.Arguments),
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out.Messages = append(out.Messages, anthropic.Message{Role: role, Content: blocks})
		}
	}

	if len(systemParts) > 0 {
		out.System = joinNonEmpty(systemParts)
	}

	for _, t := range req.Tools {
		if t.Function.Name == "" {
			continue
		}
		out.Tools = append(out.Tools, anthropic.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	return out, nil
}

// responsesInputToText reduces a /v1/responses "input" field (a string, or
// an array of message-like items) to a single flattened user turn.
func responsesInputToText(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}

	var items []struct {
		Content interface{} `json:"content"`
		Text    string      `json:"text"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return "", fmt.Errorf("invalid input field: %w", err)
	}
	var parts []string
	for _, item := range items {
		if item.Text != "" {
			parts = append(parts, item.Text)
			continue
		}
		if text, err := contentToText(item.Content); err == nil && text != "" {
			parts = append(parts, text)
		}
	}
	return joinNonEmpty(parts), nil
}

func contentToText(content interface{}) (string, error) {
	blocks, err := contentToBlocks(content)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return joinNonEmpty(parts), nil
}

// contentToBlocks normalizes a ChatMessage.Content (string, []ContentPart,
// or nil) into Anthropic content blocks.
func contentToBlocks(content interface{}) ([]anthropic.ContentBlock, error) {
	if content == nil {
		return nil, nil
	}
	if s, ok := content.(string); ok {
		if s == "" {
			return nil, nil
		}
		return []anthropic.ContentBlock{{Type: "text", Text: s}}, nil
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}

	var parts []openai.ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		// Some clients send a bare string through the interface{} path as a
		// JSON-decoded map; fall back to re-parsing as a plain string.
		var s string
		if err2 := json.Unmarshal(raw, &s); err2 == nil {
			if s == "" {
				return nil, nil
			}
			return []anthropic.ContentBlock{{Type: "text", Text: s}}, nil
		}
		return nil, err
	}

	blocks := make([]anthropic.ContentBlock, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text", "input_text":
			blocks = append(blocks, anthropic.ContentBlock{Type: "text", Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			mediaType, data, ok := decodeDataURI(p.ImageURL.URL)
			if !ok {
				utils.Warn("[OpenAI] Skipping non-data image_url (remote fetch not supported): %s", p.ImageURL.URL)
				continue
			}
			blocks = append(blocks, anthropic.ContentBlock{
				Type:   "image",
				Source: &anthropic.ImageSource{Type: "base64", MediaType: mediaType, Data: data},
			})
		}
	}
	return blocks, nil
}

// AnthropicToOpenAI converts a completed Anthropic MessagesResponse into an
// OpenAI ChatCompletionResponse.
func AnthropicToOpenAI(resp *anthropic.MessagesResponse, createdUnix int64) *openai.ChatCompletionResponse {
	msg, toolCalls := anthropicContentToChatMessage(resp.Content)
	msg.Role = "assistant"
	msg.ToolCalls = toolCalls

	finish := finishReasonFromAnthropic(resp.StopReason, len(toolCalls) > 0)

	out := &openai.ChatCompletionResponse{
		ID:      "chatcmpl-" + resp.ID,
		Object:  "chat.completion",
		Created: createdUnix,
		Model:   resp.Model,
		Choices: []openai.Choice{{Index: 0, Message: msg, FinishReason: &finish}},
	}
	if resp.Usage != nil {
		out.Usage = &openai.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return out
}

// AnthropicToResponses converts a completed Anthropic MessagesResponse into
// a /v1/responses reply.
func AnthropicToResponses(resp *anthropic.MessagesResponse, createdUnix int64) *openai.ResponsesResponse {
	var text string
	for _, b := range resp.Content {
		if b.IsText() {
			text += b.Text
		}
	}
	out := &openai.ResponsesResponse{
		ID:         resp.ID,
		Object:     "response",
		Created:    createdUnix,
		Model:      resp.Model,
		Status:     "completed",
		OutputText: text,
		Output: []openai.ResponsesOutputItem{{
			Type:    "message",
			Role:    "assistant",
			Content: []openai.ResponsesOutputPart{{Type: "output_text", Text: text}},
		}},
	}
	if resp.Usage != nil {
		out.Usage = &openai.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return out
}

// AnthropicToLegacyCompletion converts a completed Anthropic MessagesResponse
// into a legacy /v1/completions reply.
func AnthropicToLegacyCompletion(resp *anthropic.MessagesResponse, createdUnix int64) *openai.CompletionResponse {
	var text string
	for _, b := range resp.Content {
		if b.IsText() {
			text += b.Text
		}
	}
	finish := finishReasonFromAnthropic(resp.StopReason, false)
	out := &openai.CompletionResponse{
		ID:      "cmpl-" + resp.ID,
		Object:  "text_completion",
		Created: createdUnix,
		Model:   resp.Model,
		Choices: []openai.CompletionChoice{{Index: 0, Text: text, FinishReason: &finish}},
	}
	if resp.Usage != nil {
		out.Usage = &openai.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return out
}

func anthropicContentToChatMessage(blocks []anthropic.ContentBlock) (openai.ChatMessage, []openai.ToolCall) {
	var text string
	var toolCalls []openai.ToolCall
	for _, b := range blocks {
		switch b.Type {
		case "text":
			text += b.Text
		case "tool_use":
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   b.ID,
				Type: "function",
				Function: openai.ToolCallFunc{
					Name:      b.Name,
					Arguments: string(b.Input),
				},
			})
		}
	}
	msg := openai.ChatMessage{}
	if text != "" {
		msg.Content = text
	}
	return msg, toolCalls
}

func finishReasonFromAnthropic(stopReason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	switch stopReason {
	case "max_tokens":
		return "length"
	case "stop_sequence", "end_turn":
		return "stop"
	default:
		return "stop"
	}
}

func stopSequencesFrom(stop interface{}) []string {
	switch v := stop.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// decodeDataURI splits a data: URI into its media type and base64 payload.
// Some clients omit the media type (just "data:;base64,..." or a bare
// base64 blob); in that case the type is sniffed from the decoded bytes
// rather than guessed from the URI, since CloudCode requires an explicit
// media_type on every image block.
func decodeDataURI(uri string) (mediaType, data string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", false
	}
	rest := uri[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", "", false
	}
	header, payload := rest[:comma], rest[comma+1:]
	header = strings.TrimSuffix(header, ";base64")
	if header == "" {
		header = sniffImageMediaType(payload)
	}
	return header, payload, true
}

func sniffImageMediaType(base64Payload string) string {
	decoded, err := base64.StdEncoding.DecodeString(base64Payload)
	if err != nil {
		return "image/png"
	}
	return mimetype.Detect(decoded).String()
}

func joinNonEmpty(parts []string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p
	}
	return out
}
