// Package config — domain constants added for the full three-protocol
// translation core: upstream endpoint cascade, safety settings, standard
// model ids, proxy pool / warmup scheduler defaults, and signature cache
// bounds. Grounded on original_source/src-tauri/src/config (sandbox
// endpoint, safety thresholds) and modules/scheduler.rs, proxy/proxy_pool.rs
// for the tunables.
package config

import (
	"os"
	"strings"
	"time"
)

// AntigravityEndpointSandbox is tried first in the upstream cascade.
const AntigravityEndpointSandbox = "https://daily-cloudcode-pa.sandbox.googleapis.com"

// UpstreamCascadeEndpoints is the full ordered endpoint cascade:
// sandbox -> daily -> prod. Advances on 429/408/404/5xx.
var UpstreamCascadeEndpoints = []string{
	AntigravityEndpointSandbox,
	AntigravityEndpointDaily,
	AntigravityEndpointProd,
}

// Standard model ids that quota protection operates on (spec.md §3).
const (
	StandardModelGeminiFlash  = "gemini-3-flash"
	StandardModelGeminiPro    = "gemini-3-pro-high"
	StandardModelClaudeSonnet = "claude-sonnet-4-5"
)

// StandardModelIDs is the fixed set of the three protected buckets.
var StandardModelIDs = []string{StandardModelGeminiFlash, StandardModelGeminiPro, StandardModelClaudeSonnet}

// standardModelAliases groups physical model names under their standard id.
// Grounded on original_source/src-tauri/src/proxy/common/model_mapping.rs's
// normalize_to_standard_id.
var standardModelAliases = map[string]string{
	"gemini-3-flash": StandardModelGeminiFlash,

	"gemini-3-pro-high": StandardModelGeminiPro,
	"gemini-3-pro-low":  StandardModelGeminiPro,

	"claude-sonnet-4-5":          StandardModelClaudeSonnet,
	"claude-sonnet-4-5-thinking": StandardModelClaudeSonnet,
	"claude-opus-4-5-thinking":   StandardModelClaudeSonnet,
	"claude-opus-4-6-thinking":   StandardModelClaudeSonnet,
}

// NormalizeToStandardID maps a physical model name to one of the three
// standard ids quota protection operates on. Matching is case-insensitive;
// models outside the three groups return ok=false.
func NormalizeToStandardID(modelName string) (id string, ok bool) {
	id, ok = standardModelAliases[strings.ToLower(modelName)]
	return id, ok
}

// ThinkingBudgetMode controls how the thinking token budget is derived.
type ThinkingBudgetMode string

const (
	ThinkingBudgetPassthrough ThinkingBudgetMode = "passthrough"
	ThinkingBudgetCustom      ThinkingBudgetMode = "custom"
	ThinkingBudgetAuto        ThinkingBudgetMode = "auto"
)

// GeminiThinkingBudgetCap is the hard cap applied to thinkingBudget for
// Gemini-family models in Custom/Auto modes (never in Passthrough mode).
const GeminiThinkingBudgetCap = 24576

// DefaultThinkingBudget is used in Auto mode absent any client-specified budget.
const DefaultThinkingBudget = 8192

// ThinkingBudgetHeadroom: generationConfig.maxOutputTokens must exceed
// thinkingBudget by at least this much when thinking is enabled.
const ThinkingBudgetHeadroom = 8192

// StopSequences are always injected into generationConfig (spec.md §4.1.1 step 11).
var StopSequences = []string{"<|user|>", "<|end_of_turn|>", "\n\nHuman:"}

// SafetyThresholdEnvVar is the environment variable controlling the safety threshold.
const SafetyThresholdEnvVar = "GEMINI_SAFETY_THRESHOLD"

// DefaultSafetyThreshold is used when the env var is unset or empty.
const DefaultSafetyThreshold = "OFF"

// SafetyCategories are the five categories the safety settings array always covers.
var SafetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
	"HARM_CATEGORY_CIVIC_INTEGRITY",
}

// SafetySetting is one entry of the safetySettings array sent upstream.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// GetSafetyThreshold reads GEMINI_SAFETY_THRESHOLD, defaulting to OFF.
func GetSafetyThreshold() string {
	v := os.Getenv(SafetyThresholdEnvVar)
	switch v {
	case "OFF", "LOW", "MEDIUM", "HIGH", "NONE":
		return v
	default:
		return DefaultSafetyThreshold
	}
}

// BuildSafetySettings returns the constant 5-entry safety settings array.
func BuildSafetySettings() []SafetySetting {
	threshold := GetSafetyThreshold()
	out := make([]SafetySetting, 0, len(SafetyCategories))
	for _, cat := range SafetyCategories {
		out = append(out, SafetySetting{Category: cat, Threshold: threshold})
	}
	return out
}

// AntigravitySystemPromptEndMarker terminates the assembled system prompt (spec.md §4.1.1 step 3).
const AntigravitySystemPromptEndMarker = "\n--- [SYSTEM_PROMPT_END] ---"

// McpBridgeDirective is appended to the system prompt when any tool name starts with "mcp__".
const McpBridgeDirective = "\nWhen you need to call an MCP tool, emit a single <mcp__toolname>{...json args...}</mcp__toolname> block in your response text; do not describe the call in prose."

// Request types for the upstream envelope (spec.md §4.1.1 step 13).
const (
	RequestTypeAgent      = "agent"
	RequestTypeWebSearch  = "web_search"
	RequestTypeImageGen   = "image_gen"
)

// ImageGenModelPrefix identifies image-generation models routed to RequestTypeImageGen.
const ImageGenModelPrefix = "gemini-3-pro-image"

// WebSearchCapableModel is the one upstream model that supports googleSearch tools.
const WebSearchCapableModel = "gemini-3-flash"

// Signature cache table bounds and TTL (spec.md §3/§4.2).
const (
	SignatureCacheToolBound    = 500
	SignatureCacheFamilyBound  = 200
	SignatureCacheSessionBound = 1000
)

// SignatureCacheTTL is 2 hours, shared by all three cache tables.
const SignatureCacheTTL = 2 * time.Hour

// Proxy pool defaults (spec.md §4.4; grounded on original_source/proxy/proxy_pool.rs).
const (
	ProxyHealthCheckMinIntervalMs = 30_000
	ProxyHealthCheckDefaultURL    = "http://cp.cloudflare.com/generate_204"
	ProxyHealthCheckConcurrency   = 20
)

// ProxySelectionStrategy enumerates the 5 pool strategies.
type ProxySelectionStrategy string

const (
	ProxyStrategyRoundRobin       ProxySelectionStrategy = "round-robin"
	ProxyStrategyRandom           ProxySelectionStrategy = "random"
	ProxyStrategyPriority         ProxySelectionStrategy = "priority"
	ProxyStrategyLeastConnections ProxySelectionStrategy = "least-connections"
	ProxyStrategyWeighted         ProxySelectionStrategy = "weighted"
)

// Scheduled warmup defaults (spec.md §4.6; grounded on original_source/modules/scheduler.rs).
const (
	WarmupScanIntervalMs  = 10 * 60 * 1000     // 10 minutes
	WarmupCooldownSeconds = 14400              // 4 hours
	WarmupBatchSize       = 3
	WarmupBatchSpacingMs  = 2000
	WarmupHistoryMaxAgeS  = 24 * 60 * 60       // 24 hours
	WarmupQuotaFullPct    = 100
)

// Quota protection defaults (spec.md §4.6; grounded on original_source/modules/account.rs).
const DefaultQuotaProtectionThresholdPct = 15

// DataDirEnvVar is read first for the persisted-state directory.
const DataDirEnvVar = "ABV_DATA_DIR"

// DataDirFallback is used under $HOME when ABV_DATA_DIR is unset or empty.
const DataDirFallback = ".antigravity_tools"

// DataDir resolves the persisted-state directory per spec.md §6.
func DataDir() string {
	if v := os.Getenv(DataDirEnvVar); v != "" {
		return v
	}
	home := getHomeDir()
	return home + string(os.PathSeparator) + DataDirFallback
}
