package format

import (
	"encoding/json"
	"testing"

	"github.com/poemonsense/antigravity-proxy-go/pkg/anthropic"
	"github.com/poemonsense/antigravity-proxy-go/pkg/gemini"
)

func TestGeminiToAnthropic_SystemInstructionAndContents(t *testing.T) {
	req := &gemini.GenerateContentRequest{
		SystemInstruction: &gemini.Content{Parts: []gemini.Part{{Text: "be terse"}}},
		Contents: []gemini.Content{
			{Role: "user", Parts: []gemini.Part{{Text: "hello"}}},
		},
	}

	out := GeminiToAnthropic("gemini-3-pro", req, false)
	if out.Model != "gemini-3-pro" {
		t.Fatalf("got model %q", out.Model)
	}
	if out.System != "be terse" {
		t.Fatalf("got system %q", out.System)
	}
	if len(out.Messages) != 1 || out.Messages[0].Role != "user" || out.Messages[0].Content[0].Text != "hello" {
		t.Fatalf("unexpected messages: %+v", out.Messages)
	}
}

func TestGeminiToAnthropic_ModelRoleMapsToAssistant(t *testing.T) {
	req := &gemini.GenerateContentRequest{
		Contents: []gemini.Content{
			{Role: "model", Parts: []gemini.Part{{Text: "reply"}}},
		},
	}

	out := GeminiToAnthropic("m", req, false)
	if len(out.Messages) != 1 || out.Messages[0].Role != "assistant" {
		t.Fatalf("unexpected messages: %+v", out.Messages)
	}
}

func TestGeminiToAnthropic_GenerationConfigAndThinking(t *testing.T) {
	budget := 1024
	maxTokens := 512
	req := &gemini.GenerateContentRequest{
		Contents: []gemini.Content{{Role: "user", Parts: []gemini.Part{{Text: "hi"}}}},
		GenerationConfig: &gemini.GenerationConfig{
			MaxOutputTokens: &maxTokens,
			StopSequences:   []string{"END"},
			ThinkingConfig:  &gemini.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: &budget},
		},
	}

	out := GeminiToAnthropic("m", req, false)
	if out.MaxTokens != 512 {
		t.Fatalf("got max_tokens %d", out.MaxTokens)
	}
	if len(out.StopSequences) != 1 || out.StopSequences[0] != "END" {
		t.Fatalf("got stop sequences %v", out.StopSequences)
	}
	if out.Thinking == nil || out.Thinking.BudgetTokens != 1024 {
		t.Fatalf("unexpected thinking config: %+v", out.Thinking)
	}
}

func TestGeminiToAnthropic_FunctionCallAndResponseParts(t *testing.T) {
	req := &gemini.GenerateContentRequest{
		Contents: []gemini.Content{
			{Role: "model", Parts: []gemini.Part{{FunctionCall: &gemini.FunctionCall{Name: "get_weather", Args: json.RawMessage(`{"city":"nyc"}`)}}}},
			{Role: "user", Parts: []gemini.Part{{FunctionResponse: &gemini.FunctionResponse{Name: "get_weather", Response: json.RawMessage(`{"temp":72}`)}}}},
		},
	}

	out := GeminiToAnthropic("m", req, false)
	if len(out.Messages) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(out.Messages), out.Messages)
	}
	call := out.Messages[0].Content[0]
	if call.Type != "tool_use" || call.Name != "get_weather" {
		t.Fatalf("unexpected tool_use block: %+v", call)
	}
	result := out.Messages[1].Content[0]
	if result.Type != "tool_result" || result.ToolUseID != "get_weather" {
		t.Fatalf("unexpected tool_result block: %+v", result)
	}
}

func TestGeminiToAnthropic_ToolsCarrySchema(t *testing.T) {
	req := &gemini.GenerateContentRequest{
		Contents: []gemini.Content{{Role: "user", Parts: []gemini.Part{{Text: "hi"}}}},
		Tools: []gemini.Tool{{
			FunctionDeclarations: []gemini.FunctionDeclaration{
				{Name: "get_weather", Parameters: json.RawMessage(`{"type":"object"}`)},
			},
		}},
	}

	out := GeminiToAnthropic("m", req, false)
	if len(out.Tools) != 1 || out.Tools[0].Name != "get_weather" {
		t.Fatalf("unexpected tools: %+v", out.Tools)
	}
}

func TestAnthropicToGemini_TextAndToolUse(t *testing.T) {
	resp := &anthropic.MessagesResponse{
		Model:      "gemini-3-pro",
		StopReason: "end_turn",
		Content: []anthropic.ContentBlock{
			{Type: "text", Text: "here's the answer"},
			{Type: "tool_use", Name: "get_weather", Input: json.RawMessage(`{"city":"nyc"}`)},
		},
		Usage: &anthropic.Usage{InputTokens: 3, OutputTokens: 7},
	}

	out := AnthropicToGemini(resp)
	if out.ModelVersion != "gemini-3-pro" {
		t.Fatalf("got model version %q", out.ModelVersion)
	}
	parts := out.Candidates[0].Content.Parts
	if len(parts) != 2 || parts[0].Text != "here's the answer" || parts[1].FunctionCall.Name != "get_weather" {
		t.Fatalf("unexpected parts: %+v", parts)
	}
	if out.Candidates[0].FinishReason != "STOP" {
		t.Fatalf("got finish reason %q", out.Candidates[0].FinishReason)
	}
	if out.UsageMetadata.TotalTokenCount != 10 {
		t.Fatalf("got total tokens %d", out.UsageMetadata.TotalTokenCount)
	}
}

func TestAnthropicToGemini_MaxTokensFinishReason(t *testing.T) {
	resp := &anthropic.MessagesResponse{StopReason: "max_tokens"}
	out := AnthropicToGemini(resp)
	if out.Candidates[0].FinishReason != "MAX_TOKENS" {
		t.Fatalf("got finish reason %q, want MAX_TOKENS", out.Candidates[0].FinishReason)
	}
}
