package handlers

import (
	"github.com/poemonsense/antigravity-proxy-go/internal/cloudcode"
	"github.com/poemonsense/antigravity-proxy-go/pkg/gemini"
)

// geminiStreamState accumulates the per-block text/thought/tool-call parts
// needed to emit one GenerateContentResponse chunk per cloudcode.SSEEvent,
// since Gemini's streamGenerateContent repeats the full candidate (not just
// a delta) in every chunk.
type geminiStreamState struct {
	model     string
	blockKind map[int]string
	toolNames map[int]string
}

func newGeminiStreamState(model string) *geminiStreamState {
	return &geminiStreamState{model: model, blockKind: make(map[int]string), toolNames: make(map[int]string)}
}

func (s *geminiStreamState) translate(event *cloudcode.SSEEvent) *gemini.GenerateContentResponse {
	switch event.Type {
	case "content_block_start":
		if event.ContentBlock == nil {
			return nil
		}
		s.blockKind[event.Index] = event.ContentBlock.Type
		if event.ContentBlock.Type == "tool_use" {
			s.toolNames[event.Index] = event.ContentBlock.Name
		}
		return nil

	case "content_block_delta":
		return s.deltaResponse(event)

	case "message_delta":
		finish := "STOP"
		if event.Delta != nil {
			if sr, ok := event.Delta["stop_reason"].(string); ok {
				finish = geminiFinishReason(sr)
			}
		}
		resp := &gemini.GenerateContentResponse{
			Candidates:   []gemini.Candidate{{Content: gemini.Content{Role: "model"}, FinishReason: finish}},
			ModelVersion: s.model,
		}
		if event.Usage != nil {
			resp.UsageMetadata = &gemini.UsageMetadata{
				PromptTokenCount:     event.Usage.InputTokens,
				CandidatesTokenCount: event.Usage.OutputTokens,
				TotalTokenCount:      event.Usage.InputTokens + event.Usage.OutputTokens,
			}
		}
		return resp

	default:
		return nil
	}
}

func geminiFinishReason(stopReason string) string {
	switch stopReason {
	case "max_tokens":
		return "MAX_TOKENS"
	default:
		return "STOP"
	}
}

func (s *geminiStreamState) deltaResponse(event *cloudcode.SSEEvent) *gemini.GenerateContentResponse {
	if event.Delta == nil {
		return nil
	}
	var part gemini.Part
	switch {
	case event.Delta["text"] != nil:
		text, _ := event.Delta["text"].(string)
		if text == "" {
			return nil
		}
		part = gemini.Part{Text: text}
	case event.Delta["thinking"] != nil:
		thinking, _ := event.Delta["thinking"].(string)
		if thinking == "" {
			return nil
		}
		part = gemini.Part{Text: thinking, Thought: true}
	case event.Delta["signature"] != nil:
		sig, _ := event.Delta["signature"].(string)
		part = gemini.Part{Thought: true, ThoughtSignature: sig}
	case event.Delta["partial_json"] != nil:
		partialJSON, _ := event.Delta["partial_json"].(string)
		part = gemini.Part{FunctionCall: &gemini.FunctionCall{Name: s.toolNames[event.Index], Args: []byte(partialJSON)}}
	default:
		return nil
	}
	return &gemini.GenerateContentResponse{
		Candidates:   []gemini.Candidate{{Content: gemini.Content{Role: "model", Parts: []gemini.Part{part}}}},
		ModelVersion: s.model,
	}
}
