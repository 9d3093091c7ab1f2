package handlers

import (
	"testing"

	"github.com/poemonsense/antigravity-proxy-go/internal/cloudcode"
	"github.com/poemonsense/antigravity-proxy-go/pkg/anthropic"
)

func TestOpenAIStreamState_MessageStartSendsRoleOnce(t *testing.T) {
	s := newOpenAIStreamState("m", 1000)

	chunks := s.translate(&cloudcode.SSEEvent{Type: "message_start", Message: &anthropic.MessagesResponse{ID: "msg_1"}})
	if len(chunks) != 1 || chunks[0].Choices[0].Delta.Role != "assistant" {
		t.Fatalf("expected a role chunk, got %+v", chunks)
	}
	if chunks[0].ID != "chatcmpl-msg_1" {
		t.Fatalf("got id %q, want chatcmpl-msg_1", chunks[0].ID)
	}
}

func TestOpenAIStreamState_TextDelta(t *testing.T) {
	s := newOpenAIStreamState("m", 1000)
	s.translate(&cloudcode.SSEEvent{Type: "content_block_start", Index: 0, ContentBlock: &anthropic.ContentBlock{Type: "text"}})

	chunks := s.translate(&cloudcode.SSEEvent{Type: "content_block_delta", Index: 0, Delta: map[string]interface{}{"text": "hello"}})
	if len(chunks) != 1 || chunks[0].Choices[0].Delta.Content != "hello" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestOpenAIStreamState_ToolCallStartAndArgumentDeltas(t *testing.T) {
	s := newOpenAIStreamState("m", 1000)

	start := s.translate(&cloudcode.SSEEvent{
		Type:         "content_block_start",
		Index:        0,
		ContentBlock: &anthropic.ContentBlock{Type: "tool_use", ID: "call-1", Name: "get_weather"},
	})
	if len(start) != 1 || start[0].Choices[0].Delta.ToolCalls[0].Function.Name != "get_weather" {
		t.Fatalf("unexpected tool-call start chunk: %+v", start)
	}

	delta := s.translate(&cloudcode.SSEEvent{Type: "content_block_delta", Index: 0, Delta: map[string]interface{}{"partial_json": `{"city":`}})
	if len(delta) != 1 || delta[0].Choices[0].Delta.ToolCalls[0].ID != "call-1" || delta[0].Choices[0].Delta.ToolCalls[0].Function.Arguments != `{"city":` {
		t.Fatalf("unexpected argument delta chunk: %+v", delta)
	}
}

func TestOpenAIStreamState_MessageDeltaFinishReason(t *testing.T) {
	s := newOpenAIStreamState("m", 1000)
	s.translate(&cloudcode.SSEEvent{
		Type:         "content_block_start",
		Index:        0,
		ContentBlock: &anthropic.ContentBlock{Type: "tool_use", ID: "call-1", Name: "f"},
	})

	chunks := s.translate(&cloudcode.SSEEvent{
		Type:  "message_delta",
		Delta: map[string]interface{}{"stop_reason": "tool_use"},
		Usage: &anthropic.Usage{InputTokens: 2, OutputTokens: 4},
	})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if *chunks[0].Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("got finish reason %q, want tool_calls", *chunks[0].Choices[0].FinishReason)
	}
	if chunks[0].Usage.TotalTokens != 6 {
		t.Fatalf("got total tokens %d, want 6", chunks[0].Usage.TotalTokens)
	}
}

func TestOpenAIStreamState_ThinkingDeltaDropped(t *testing.T) {
	s := newOpenAIStreamState("m", 1000)
	s.translate(&cloudcode.SSEEvent{Type: "content_block_start", Index: 0, ContentBlock: &anthropic.ContentBlock{Type: "thinking"}})

	chunks := s.translate(&cloudcode.SSEEvent{Type: "content_block_delta", Index: 0, Delta: map[string]interface{}{"thinking": "reasoning..."}})
	if chunks != nil {
		t.Fatalf("expected thinking delta to be dropped, got %+v", chunks)
	}
}

func TestOpenAIFinishReason(t *testing.T) {
	if got := openAIFinishReason("max_tokens", false); got != "length" {
		t.Fatalf("got %q, want length", got)
	}
	if got := openAIFinishReason("end_turn", true); got != "tool_calls" {
		t.Fatalf("got %q, want tool_calls", got)
	}
	if got := openAIFinishReason("end_turn", false); got != "stop" {
		t.Fatalf("got %q, want stop", got)
	}
}
