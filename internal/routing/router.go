// Package routing implements the custom/wildcard model routing layer that
// sits on top of the built-in model-family handling in internal/config:
// exact mapping entries win, then the most specific wildcard pattern, then
// the requested model passes through unchanged. Grounded on
// original_source/src-tauri/src/proxy/common/model_mapping.rs's
// resolve_model_route/wildcard_match.
package routing

import (
	"strings"

	"github.com/poemonsense/antigravity-proxy-go/internal/utils"
)

// Resolve maps requestedModel through mapping, in priority order:
//  1. an exact key match,
//  2. the most specific wildcard pattern that matches (most non-'*'
//     characters wins; ties are resolved by Go's non-deterministic map
//     iteration order, same as the map this was ported from),
//  3. requestedModel unchanged.
func Resolve(requestedModel string, mapping map[string]string) string {
	if target, ok := mapping[requestedModel]; ok && target != "" {
		utils.Info("[Router] Exact mapping: %s -> %s", requestedModel, target)
		return target
	}

	bestPattern, bestTarget, bestSpecificity := "", "", -1
	for pattern, target := range mapping {
		if !strings.Contains(pattern, "*") || target == "" {
			continue
		}
		if !wildcardMatch(pattern, requestedModel) {
			continue
		}
		specificity := len(pattern) - strings.Count(pattern, "*")
		if specificity > bestSpecificity {
			bestPattern, bestTarget, bestSpecificity = pattern, target, specificity
		}
	}

	if bestSpecificity >= 0 {
		utils.Info("[Router] Wildcard match: %s -> %s (rule: %s)", requestedModel, bestTarget, bestPattern)
		return bestTarget
	}

	return requestedModel
}

// wildcardMatch reports whether text matches pattern, where '*' in pattern
// matches any run of characters (including none). Matching is
// case-sensitive and supports multiple wildcards (e.g. "claude-*-sonnet-*").
func wildcardMatch(pattern, text string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == text
	}

	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		switch {
		case i == 0:
			if !strings.HasPrefix(text[pos:], part) {
				return false
			}
			pos += len(part)
		case i == len(parts)-1:
			return strings.HasSuffix(text[pos:], part)
		default:
			idx := strings.Index(text[pos:], part)
			if idx < 0 {
				return false
			}
			pos += idx + len(part)
		}
	}
	return true
}
