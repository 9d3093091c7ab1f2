package routing

import "testing"

func TestResolve_ExactMatchWins(t *testing.T) {
	mapping := map[string]string{
		"gpt-4":  "claude-sonnet-4-5",
		"gpt-4*": "claude-opus-4-6-thinking",
	}
	got := Resolve("gpt-4", mapping)
	if got != "claude-sonnet-4-5" {
		t.Fatalf("got %q, want exact match to win over wildcard", got)
	}
}

func TestResolve_WildcardSpecificity(t *testing.T) {
	mapping := map[string]string{
		"*":             "fallback-model",
		"claude-*":      "claude-bucket",
		"claude-sonnet-*": "claude-sonnet-bucket",
	}
	got := Resolve("claude-sonnet-4-5-thinking", mapping)
	if got != "claude-sonnet-bucket" {
		t.Fatalf("got %q, want most specific wildcard to win", got)
	}
}

func TestResolve_PassThroughWhenNoMatch(t *testing.T) {
	mapping := map[string]string{"gpt-4": "claude-sonnet-4-5"}
	got := Resolve("gemini-3-flash", mapping)
	if got != "gemini-3-flash" {
		t.Fatalf("got %q, want unchanged pass-through", got)
	}
}

func TestWildcardMatch(t *testing.T) {
	cases := []struct {
		pattern, text string
		want          bool
	}{
		{"gpt-4*", "gpt-4-turbo", true},
		{"gpt-4*", "gpt-3", false},
		{"*-thinking", "claude-opus-4-6-thinking", true},
		{"*-thinking", "claude-opus-4-6", false},
		{"a*b*c", "axxxbyyyc", true},
		{"a*b*c", "axxxbyyy", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
	}
	for _, tc := range cases {
		if got := wildcardMatch(tc.pattern, tc.text); got != tc.want {
			t.Errorf("wildcardMatch(%q, %q) = %v, want %v", tc.pattern, tc.text, got, tc.want)
		}
	}
}
