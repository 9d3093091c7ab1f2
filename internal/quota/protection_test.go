package quota

import (
	"testing"

	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/pkg/redis"
)

func testCfg() config.QuotaProtectionConfig {
	return config.QuotaProtectionConfig{
		Enabled:         true,
		ThresholdPct:    5,
		MonitoredModels: []string{config.StandardModelClaudeSonnet, config.StandardModelGeminiPro},
	}
}

func TestApply_TriggersProtectionBelowThreshold(t *testing.T) {
	acc := &redis.Account{
		Email: "a@example.com",
		Quota: &redis.QuotaInfo{
			Models: map[string]*redis.ModelQuotaInfo{
				"claude-sonnet-4-5": {RemainingFraction: 0.02},
			},
		},
	}

	changed := Apply(acc, testCfg())
	if !changed {
		t.Fatalf("expected Apply to report a change")
	}
	if !IsProtected(acc, "claude-sonnet-4-5") {
		t.Fatalf("expected claude-sonnet-4-5 to be protected")
	}
	if !IsProtected(acc, "claude-sonnet-4-5-thinking") {
		t.Fatalf("expected alias claude-sonnet-4-5-thinking to map to the same protected bucket")
	}
}

func TestApply_RecoversAboveThreshold(t *testing.T) {
	acc := &redis.Account{
		Email:           "a@example.com",
		ProtectedModels: []string{config.StandardModelClaudeSonnet},
		Quota: &redis.QuotaInfo{
			Models: map[string]*redis.ModelQuotaInfo{
				"claude-sonnet-4-5": {RemainingFraction: 0.50},
			},
		},
	}

	changed := Apply(acc, testCfg())
	if !changed {
		t.Fatalf("expected Apply to report a change on recovery")
	}
	if IsProtected(acc, "claude-sonnet-4-5") {
		t.Fatalf("expected claude-sonnet-4-5 to have recovered")
	}
}

func TestApply_IgnoresUnmonitoredModel(t *testing.T) {
	acc := &redis.Account{
		Email: "a@example.com",
		Quota: &redis.QuotaInfo{
			Models: map[string]*redis.ModelQuotaInfo{
				"gemini-3-flash": {RemainingFraction: 0.01},
			},
		},
	}
	cfg := config.QuotaProtectionConfig{
		Enabled:         true,
		ThresholdPct:    5,
		MonitoredModels: []string{config.StandardModelClaudeSonnet},
	}

	if Apply(acc, cfg) {
		t.Fatalf("expected no change for a model outside the monitored set")
	}
	if IsProtected(acc, "gemini-3-flash") {
		t.Fatalf("unmonitored model should never be protected")
	}
}

func TestApply_MigratesLegacyAccountWideDisable(t *testing.T) {
	acc := &redis.Account{
		Email:               "a@example.com",
		ProxyDisabled:       true,
		ProxyDisabledReason: "quota_protection",
		ProxyDisabledAt:     12345,
		Quota: &redis.QuotaInfo{
			Models: map[string]*redis.ModelQuotaInfo{},
		},
	}

	if !Apply(acc, testCfg()) {
		t.Fatalf("expected legacy migration to report a change")
	}
	if acc.ProxyDisabled || acc.ProxyDisabledReason != "" || acc.ProxyDisabledAt != 0 {
		t.Fatalf("expected legacy disable fields to be cleared, got %+v", acc)
	}
}

func TestApply_Disabled(t *testing.T) {
	acc := &redis.Account{
		Email: "a@example.com",
		Quota: &redis.QuotaInfo{
			Models: map[string]*redis.ModelQuotaInfo{
				"claude-sonnet-4-5": {RemainingFraction: 0.0},
			},
		},
	}
	cfg := testCfg()
	cfg.Enabled = false

	if Apply(acc, cfg) {
		t.Fatalf("expected no-op when quota protection is disabled")
	}
	if IsProtected(acc, "claude-sonnet-4-5") {
		t.Fatalf("expected no protection while disabled")
	}
}

func TestIsProtected_NilAccount(t *testing.T) {
	if IsProtected(nil, "claude-sonnet-4-5") {
		t.Fatalf("nil account should never be protected")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(nil); got != "none" {
		t.Fatalf("got %q, want none", got)
	}
	acc := &redis.Account{ProtectedModels: []string{config.StandardModelClaudeSonnet}}
	if got := Describe(acc); got == "none" {
		t.Fatalf("expected non-empty description for protected account")
	}
}
