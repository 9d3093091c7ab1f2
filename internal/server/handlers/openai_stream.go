package handlers

import (
	"github.com/poemonsense/antigravity-proxy-go/internal/cloudcode"
	"github.com/poemonsense/antigravity-proxy-go/pkg/openai"
)

// openAIStreamState accumulates the per-block bookkeeping needed to turn
// Anthropic-shaped content_block_start/delta/stop SSE events (cloudcode's
// SSEEvent) into OpenAI chat-completion chunk deltas, since the two
// protocols slice a streamed turn up differently: Anthropic emits one event
// per content block, OpenAI emits one delta per token/tool-argument-chunk
// addressed by choice index with no separate block-start event.
type openAIStreamState struct {
	model       string
	id          string
	created     int64
	blockKind   map[int]string // content block index -> "text" | "tool_use"
	toolCallIdx map[int]string // content block index -> tool_use id
	sentRole    bool
}

func newOpenAIStreamState(model string, created int64) *openAIStreamState {
	return &openAIStreamState{
		model:       model,
		created:     created,
		blockKind:   make(map[int]string),
		toolCallIdx: make(map[int]string),
	}
}

// translate converts one cloudcode.SSEEvent into zero or more OpenAI chunks.
func (s *openAIStreamState) translate(event *cloudcode.SSEEvent) []*openai.ChatCompletionChunk {
	switch event.Type {
	case "message_start":
		if event.Message != nil {
			s.id = event.Message.ID
			if event.Message.Model != "" {
				s.model = event.Message.Model
			}
		}
		return []*openai.ChatCompletionChunk{s.roleChunk()}

	case "content_block_start":
		if event.ContentBlock == nil {
			return nil
		}
		s.blockKind[event.Index] = event.ContentBlock.Type
		if event.ContentBlock.Type == "tool_use" {
			s.toolCallIdx[event.Index] = event.ContentBlock.ID
			return []*openai.ChatCompletionChunk{s.toolCallStartChunk(event.Index, event.ContentBlock.Name, event.ContentBlock.ID)}
		}
		return nil

	case "content_block_delta":
		return s.deltaChunk(event)

	case "content_block_stop", "ping":
		return nil

	case "message_delta":
		chunk := s.emptyChunk()
		finish := "stop"
		if event.Delta != nil {
			if sr, ok := event.Delta["stop_reason"].(string); ok {
				finish = openAIFinishReason(sr, s.hasToolCalls())
			}
		}
		chunk.Choices = []openai.ChunkChoice{{Index: 0, FinishReason: &finish}}
		if event.Usage != nil {
			chunk.Usage = &openai.Usage{
				PromptTokens:     event.Usage.InputTokens,
				CompletionTokens: event.Usage.OutputTokens,
				TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
			}
		}
		return []*openai.ChatCompletionChunk{chunk}

	default:
		return nil
	}
}

func (s *openAIStreamState) hasToolCalls() bool {
	return len(s.toolCallIdx) > 0
}

func (s *openAIStreamState) deltaChunk(event *cloudcode.SSEEvent) []*openai.ChatCompletionChunk {
	if event.Delta == nil {
		return nil
	}
	if text, ok := event.Delta["text"].(string); ok && text != "" {
		chunk := s.emptyChunk()
		chunk.Choices = []openai.ChunkChoice{{Index: 0, Delta: openai.ChatMessage{Content: text}}}
		return []*openai.ChatCompletionChunk{chunk}
	}
	if partial, ok := event.Delta["partial_json"].(string); ok {
		callID := s.toolCallIdx[event.Index]
		chunk := s.emptyChunk()
		chunk.Choices = []openai.ChunkChoice{{
			Index: 0,
			Delta: openai.ChatMessage{
				ToolCalls: []openai.ToolCall{{
					ID:       callID,
					Type:     "function",
					Function: openai.ToolCallFunc{Arguments: partial},
				}},
			},
		}}
		return []*openai.ChatCompletionChunk{chunk}
	}
	// thinking/signature deltas have no OpenAI chat-completions equivalent
	// and are dropped rather than forced into a text delta.
	return nil
}

func (s *openAIStreamState) roleChunk() *openai.ChatCompletionChunk {
	chunk := s.emptyChunk()
	if !s.sentRole {
		s.sentRole = true
		chunk.Choices = []openai.ChunkChoice{{Index: 0, Delta: openai.ChatMessage{Role: "assistant"}}}
	}
	return chunk
}

func (s *openAIStreamState) toolCallStartChunk(index int, name, id string) *openai.ChatCompletionChunk {
	chunk := s.emptyChunk()
	chunk.Choices = []openai.ChunkChoice{{
		Index: 0,
		Delta: openai.ChatMessage{
			ToolCalls: []openai.ToolCall{{ID: id, Type: "function", Function: openai.ToolCallFunc{Name: name}}},
		},
	}}
	return chunk
}

func (s *openAIStreamState) emptyChunk() *openai.ChatCompletionChunk {
	return &openai.ChatCompletionChunk{
		ID:      "chatcmpl-" + s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
	}
}

func openAIFinishReason(stopReason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	switch stopReason {
	case "max_tokens":
		return "length"
	default:
		return "stop"
	}
}
