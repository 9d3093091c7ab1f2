package proxy

import (
	"path/filepath"
	"testing"

	"github.com/poemonsense/antigravity-proxy-go/internal/config"
)

func TestNew_CheckLimiterUsesConfiguredConcurrency(t *testing.T) {
	cfg := &config.ProxyPoolConfig{MaxConcurrentChecks: 4}
	p := New(cfg, filepath.Join(t.TempDir(), "proxies.json"))

	if p.checkLimiter == nil {
		t.Fatal("expected checkLimiter to be initialized")
	}
	if burst := p.checkLimiter.Burst(); burst != 4 {
		t.Fatalf("got burst %d, want 4", burst)
	}
}

func TestNew_CheckLimiterFallsBackToDefault(t *testing.T) {
	cfg := &config.ProxyPoolConfig{}
	p := New(cfg, filepath.Join(t.TempDir(), "proxies.json"))

	if burst := p.checkLimiter.Burst(); burst != config.ProxyHealthCheckConcurrency {
		t.Fatalf("got burst %d, want default %d", burst, config.ProxyHealthCheckConcurrency)
	}
}
