package format

import (
	"encoding/json"
	"testing"

	"github.com/poemonsense/antigravity-proxy-go/pkg/anthropic"
	"github.com/poemonsense/antigravity-proxy-go/pkg/openai"
)

func TestOpenAIToAnthropic_BasicChatMessages(t *testing.T) {
	req := &openai.ChatCompletionRequest{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []openai.ChatMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hello"},
		},
	}

	out, err := OpenAIToAnthropic(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.System != "be terse" {
		t.Fatalf("got system %q, want %q", out.System, "be terse")
	}
	if len(out.Messages) != 1 || out.Messages[0].Role != "user" {
		t.Fatalf("unexpected messages: %+v", out.Messages)
	}
	if out.MaxTokens != defaultOpenAIMaxTokens {
		t.Fatalf("got max_tokens %d, want default %d", out.MaxTokens, defaultOpenAIMaxTokens)
	}
}

func TestOpenAIToAnthropic_PromptFallsBackToUserMessage(t *testing.T) {
	req := &openai.ChatCompletionRequest{Model: "m", Prompt: "continue this text"}

	out, err := OpenAIToAnthropic(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Messages) != 1 || out.Messages[0].Content[0].Text != "continue this text" {
		t.Fatalf("unexpected messages: %+v", out.Messages)
	}
}

func TestOpenAIToAnthropic_NoContentIsError(t *testing.T) {
	req := &openai.ChatCompletionRequest{Model: "m"}
	if _, err := OpenAIToAnthropic(req); err == nil {
		t.Fatal("expected error for request with no messages/prompt/input")
	}
}

func TestOpenAIToAnthropic_ToolCallAndResultRoundTrip(t *testing.T) {
	req := &openai.ChatCompletionRequest{
		Model: "m",
		Messages: []openai.ChatMessage{
			{Role: "user", Content: "what's the weather"},
			{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:       "call-1",
					Type:     "function",
					Function: openai.ToolCallFunc{Name: "get_weather", Arguments: `{"city":"nyc"}`},
				}},
			},
			{Role: "tool", ToolCallID: "call-1", Content: "72F and sunny"},
		},
	}

	out, err := OpenAIToAnthropic(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Messages) != 3 {
		t.Fatalf("got %d messages, want 3: %+v", len(out.Messages), out.Messages)
	}

	toolUse := out.Messages[1].Content[0]
	if toolUse.Type != "tool_use" || toolUse.Name != "get_weather" || toolUse.ID != "call-1" {
		t.Fatalf("unexpected tool_use block: %+v", toolUse)
	}

	toolResult := out.Messages[2].Content[0]
	if toolResult.Type != "tool_result" || toolResult.ToolUseID != "call-1" || toolResult.Content != "72F and sunny" {
		t.Fatalf("unexpected tool_result block: %+v", toolResult)
	}
}

func TestOpenAIToAnthropic_ToolsCarrySchema(t *testing.T) {
	req := &openai.ChatCompletionRequest{
		Model:    "m",
		Messages: []openai.ChatMessage{{Role: "user", Content: "hi"}},
		Tools: []openai.Tool{{
			Type: "function",
			Function: openai.ToolFunction{
				Name:       "get_weather",
				Parameters: json.RawMessage(`{"type":"object"}`),
			},
		}},
	}

	out, err := OpenAIToAnthropic(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Tools) != 1 || out.Tools[0].Name != "get_weather" {
		t.Fatalf("unexpected tools: %+v", out.Tools)
	}
	if string(out.Tools[0].InputSchema) != `{"type":"object"}` {
		t.Fatalf("got schema %s", out.Tools[0].InputSchema)
	}
}

func TestOpenAIToAnthropic_ImageDataURIWithMediaType(t *testing.T) {
	req := &openai.ChatCompletionRequest{
		Model: "m",
		Messages: []openai.ChatMessage{{
			Role: "user",
			Content: []openai.ContentPart{
				{Type: "text", Text: "what's in this image"},
				{Type: "image_url", ImageURL: &openai.ImageURL{URL: "data:image/png;base64,YWJj"}},
			},
		}},
	}

	out, err := OpenAIToAnthropic(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	blocks := out.Messages[0].Content
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2: %+v", len(blocks), blocks)
	}
	if blocks[1].Type != "image" || blocks[1].Source.MediaType != "image/png" || blocks[1].Source.Data != "YWJj" {
		t.Fatalf("unexpected image block: %+v", blocks[1])
	}
}

func TestOpenAIToAnthropic_ImageDataURISniffsMissingMediaType(t *testing.T) {
	// A 1x1 PNG's magic bytes, base64-encoded, with no ";base64" media type
	// in the header at all.
	const pngBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="
	req := &openai.ChatCompletionRequest{
		Model: "m",
		Messages: []openai.ChatMessage{{
			Role: "user",
			Content: []openai.ContentPart{
				{Type: "image_url", ImageURL: &openai.ImageURL{URL: "data:," + pngBase64}},
			},
		}},
	}

	out, err := OpenAIToAnthropic(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	blocks := out.Messages[0].Content
	if len(blocks) != 1 || blocks[0].Source.MediaType != "image/png" {
		t.Fatalf("expected sniffed image/png media type: %+v", blocks)
	}
}

func TestOpenAIToAnthropic_ThinkingConfig(t *testing.T) {
	req := &openai.ChatCompletionRequest{
		Model:    "m",
		Messages: []openai.ChatMessage{{Role: "user", Content: "hi"}},
		Thinking: &openai.ThinkingConfig{Type: "enabled", BudgetTokens: 2048},
	}

	out, err := OpenAIToAnthropic(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Thinking == nil || out.Thinking.BudgetTokens != 2048 {
		t.Fatalf("unexpected thinking config: %+v", out.Thinking)
	}
}

func TestAnthropicToOpenAI_TextAndToolCalls(t *testing.T) {
	resp := &anthropic.MessagesResponse{
		ID:         "msg_1",
		Model:      "claude-3-5-sonnet-20241022",
		StopReason: "tool_use",
		Content: []anthropic.ContentBlock{
			{Type: "text", Text: "let me check"},
			{Type: "tool_use", ID: "call-1", Name: "get_weather", Input: json.RawMessage(`{"city":"nyc"}`)},
		},
		Usage: &anthropic.Usage{InputTokens: 10, OutputTokens: 5},
	}

	out := AnthropicToOpenAI(resp, 1234)
	if out.Choices[0].Message.Content != "let me check" {
		t.Fatalf("got content %v", out.Choices[0].Message.Content)
	}
	if len(out.Choices[0].Message.ToolCalls) != 1 || out.Choices[0].Message.ToolCalls[0].Function.Name != "get_weather" {
		t.Fatalf("unexpected tool calls: %+v", out.Choices[0].Message.ToolCalls)
	}
	if *out.Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("got finish reason %q, want tool_calls", *out.Choices[0].FinishReason)
	}
	if out.Usage.TotalTokens != 15 {
		t.Fatalf("got total tokens %d, want 15", out.Usage.TotalTokens)
	}
}

func TestAnthropicToLegacyCompletion_TextOnly(t *testing.T) {
	resp := &anthropic.MessagesResponse{
		ID:         "msg_2",
		Model:      "m",
		StopReason: "end_turn",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: "done"}},
	}

	out := AnthropicToLegacyCompletion(resp, 1234)
	if out.Choices[0].Text != "done" {
		t.Fatalf("got text %q", out.Choices[0].Text)
	}
	if *out.Choices[0].FinishReason != "stop" {
		t.Fatalf("got finish reason %q, want stop", *out.Choices[0].FinishReason)
	}
}

func TestStopSequencesFrom(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want []string
	}{
		{"nil", nil, nil},
		{"empty string", "", nil},
		{"single string", "STOP", []string{"STOP"}},
		{"string array", []interface{}{"A", "B"}, []string{"A", "B"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := stopSequencesFrom(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}
