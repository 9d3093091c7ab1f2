package handlers

import (
	"testing"

	"github.com/poemonsense/antigravity-proxy-go/internal/cloudcode"
	"github.com/poemonsense/antigravity-proxy-go/pkg/anthropic"
)

func TestModelAndAction_SplitsOnLastColon(t *testing.T) {
	model, action := modelAndAction("gemini-3-pro:streamGenerateContent")
	if model != "gemini-3-pro" || action != "streamGenerateContent" {
		t.Fatalf("got model=%q action=%q", model, action)
	}
}

func TestModelAndAction_NoColonLeavesActionEmpty(t *testing.T) {
	model, action := modelAndAction("gemini-3-pro")
	if model != "gemini-3-pro" || action != "" {
		t.Fatalf("got model=%q action=%q", model, action)
	}
}

func TestGeminiStreamState_TextDelta(t *testing.T) {
	s := newGeminiStreamState("gemini-3-pro")
	s.translate(&cloudcode.SSEEvent{Type: "content_block_start", Index: 0, ContentBlock: &anthropic.ContentBlock{Type: "text"}})

	resp := s.translate(&cloudcode.SSEEvent{Type: "content_block_delta", Index: 0, Delta: map[string]interface{}{"text": "hi there"}})
	if resp == nil || resp.Candidates[0].Content.Parts[0].Text != "hi there" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGeminiStreamState_ToolCallArgumentDelta(t *testing.T) {
	s := newGeminiStreamState("gemini-3-pro")
	s.translate(&cloudcode.SSEEvent{
		Type:         "content_block_start",
		Index:        0,
		ContentBlock: &anthropic.ContentBlock{Type: "tool_use", Name: "get_weather"},
	})

	resp := s.translate(&cloudcode.SSEEvent{Type: "content_block_delta", Index: 0, Delta: map[string]interface{}{"partial_json": `{"city":"nyc"}`}})
	if resp == nil || resp.Candidates[0].Content.Parts[0].FunctionCall.Name != "get_weather" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGeminiStreamState_MessageDeltaUsageAndFinish(t *testing.T) {
	s := newGeminiStreamState("gemini-3-pro")
	resp := s.translate(&cloudcode.SSEEvent{
		Type:  "message_delta",
		Delta: map[string]interface{}{"stop_reason": "max_tokens"},
		Usage: &anthropic.Usage{InputTokens: 5, OutputTokens: 9},
	})
	if resp == nil || resp.Candidates[0].FinishReason != "MAX_TOKENS" {
		t.Fatalf("unexpected finish reason: %+v", resp)
	}
	if resp.UsageMetadata.TotalTokenCount != 14 {
		t.Fatalf("got total tokens %d, want 14", resp.UsageMetadata.TotalTokenCount)
	}
}

func TestGeminiStreamState_EmptyTextDeltaDropped(t *testing.T) {
	s := newGeminiStreamState("m")
	resp := s.translate(&cloudcode.SSEEvent{Type: "content_block_delta", Index: 0, Delta: map[string]interface{}{"text": ""}})
	if resp != nil {
		t.Fatalf("expected nil for empty text delta, got %+v", resp)
	}
}
