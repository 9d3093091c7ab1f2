// Package format provides conversion between Anthropic and Google Generative AI
// formats, and (this file) between the client-facing Gemini-compatible
// generateContent/streamGenerateContent wire shapes and the Anthropic
// Messages shape this proxy's CloudCode pipeline already speaks internally.
// Grounded on original_source/src-tauri/src/proxy/mappers/gemini/wrapper.rs,
// adapted to translate into the Anthropic shape (reusing content_converter.go's
// existing Anthropic<->CloudCode-envelope conversion) rather than re-deriving
// a third copy of the CloudCode wire protocol.
package format

import (
	"github.com/poemonsense/antigravity-proxy-go/pkg/anthropic"
	"github.com/poemonsense/antigravity-proxy-go/pkg/gemini"
)

// GeminiToAnthropic converts a client-facing GenerateContentRequest into an
// Anthropic MessagesRequest, with model substituted by the caller (the model
// lives in the URL path for this endpoint, not the body).
func GeminiToAnthropic(model string, req *gemini.GenerateContentRequest, stream bool) *anthropic.MessagesRequest {
	out := &anthropic.MessagesRequest{
		Model:     model,
		Stream:    stream,
		MaxTokens: defaultOpenAIMaxTokens,
	}

	if req.SystemInstruction != nil {
		out.System = geminiPartsToText(req.SystemInstruction.Parts)
	}

	if cfg := req.GenerationConfig; cfg != nil {
		out.Temperature = cfg.Temperature
		out.TopP = cfg.TopP
		out.TopK = cfg.TopK
		out.StopSequences = cfg.StopSequences
		if cfg.MaxOutputTokens != nil {
			out.MaxTokens = *cfg.MaxOutputTokens
		}
		if cfg.ThinkingConfig != nil && cfg.ThinkingConfig.IncludeThoughts {
			budget := 0
			if cfg.ThinkingConfig.ThinkingBudget != nil {
				budget = *cfg.ThinkingConfig.ThinkingBudget
			}
			out.Thinking = &anthropic.ThinkingConfig{Type: "enabled", BudgetTokens: budget}
		}
	}

	for _, c := range req.Contents {
		role := c.Role
		if role != "user" && role != "model" {
			role = "user"
		}
		if role == "model" {
			role = "assistant"
		}
		blocks := geminiPartsToBlocks(c.Parts)
		if len(blocks) == 0 {
			continue
		}
		out.Messages = append(out.Messages, anthropic.Message{Role: role, Content: blocks})
	}

	for _, t := range req.Tools {
		for _, fd := range t.FunctionDeclarations {
			out.Tools = append(out.Tools, anthropic.Tool{
				Name:        fd.Name,
				Description: fd.Description,
				InputSchema: fd.Parameters,
			})
		}
	}

	return out
}

func geminiPartsToText(parts []gemini.Part) string {
	var text string
	for _, p := range parts {
		text += p.Text
	}
	return text
}

func geminiPartsToBlocks(parts []gemini.Part) []anthropic.ContentBlock {
	blocks := make([]anthropic.ContentBlock, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			blocks = append(blocks, anthropic.ContentBlock{
				Type:  "tool_use",
				Name:  p.FunctionCall.Name,
				Input: p.FunctionCall.Args,
			})
		case p.FunctionResponse != nil:
			blocks = append(blocks, anthropic.ContentBlock{
				Type:      "tool_result",
				ToolUseID: p.FunctionResponse.Name,
				Content:   string(p.FunctionResponse.Response),
			})
		case p.InlineData != nil:
			blocks = append(blocks, anthropic.ContentBlock{
				Type:   "image",
				Source: &anthropic.ImageSource{Type: "base64", MediaType: p.InlineData.MimeType, Data: p.InlineData.Data},
			})
		case p.Thought:
			blocks = append(blocks, anthropic.ContentBlock{
				Type:      "thinking",
				Thinking:  p.Text,
				Signature: p.ThoughtSignature,
			})
		case p.Text != "":
			blocks = append(blocks, anthropic.ContentBlock{Type: "text", Text: p.Text})
		}
	}
	return blocks
}

// AnthropicToGemini converts a completed Anthropic MessagesResponse into a
// GenerateContentResponse.
func AnthropicToGemini(resp *anthropic.MessagesResponse) *gemini.GenerateContentResponse {
	out := &gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{{
			Content:      gemini.Content{Role: "model", Parts: anthropicBlocksToGeminiParts(resp.Content)},
			FinishReason: geminiFinishReason(resp.StopReason),
			Index:        0,
		}},
		ModelVersion: resp.Model,
	}
	if resp.Usage != nil {
		out.UsageMetadata = &gemini.UsageMetadata{
			PromptTokenCount:     resp.Usage.InputTokens,
			CandidatesTokenCount: resp.Usage.OutputTokens,
			TotalTokenCount:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return out
}

func anthropicBlocksToGeminiParts(blocks []anthropic.ContentBlock) []gemini.Part {
	parts := make([]gemini.Part, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, gemini.Part{Text: b.Text})
		case "thinking":
			parts = append(parts, gemini.Part{Text: b.Thinking, Thought: true, ThoughtSignature: b.Signature})
		case "tool_use":
			parts = append(parts, gemini.Part{FunctionCall: &gemini.FunctionCall{Name: b.Name, Args: b.Input}})
		case "image":
			if b.Source != nil {
				parts = append(parts, gemini.Part{InlineData: &gemini.Blob{MimeType: b.Source.MediaType, Data: b.Source.Data}})
			}
		}
	}
	return parts
}

func geminiFinishReason(stopReason string) string {
	switch stopReason {
	case "max_tokens":
		return "MAX_TOKENS"
	case "stop_sequence", "end_turn":
		return "STOP"
	default:
		return "STOP"
	}
}
