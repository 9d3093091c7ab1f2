package warmup

import (
	"path/filepath"
	"testing"

	"github.com/poemonsense/antigravity-proxy-go/internal/config"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	cfg := &config.WarmupConfig{
		Enabled:         true,
		MonitoredModels: []string{"claude-sonnet-4-5"},
		CooldownSeconds: 3600,
		BatchSize:       3,
		BatchSpacingMs:  0,
	}
	return New(cfg, nil, filepath.Join(t.TempDir(), "warmup_history.json"))
}

func TestScheduler_CooldownRoundTrip(t *testing.T) {
	s := newTestScheduler(t)
	key := "a@example.com:claude-sonnet-4-5:100"

	if s.checkCooldown(key, s.cooldownSeconds(), 1000) {
		t.Fatalf("expected no cooldown before any recorded success")
	}

	s.recordSuccess(key, 1000)
	if !s.checkCooldown(key, s.cooldownSeconds(), 1500) {
		t.Fatalf("expected cooldown shortly after a recorded success")
	}
	if s.checkCooldown(key, s.cooldownSeconds(), 1000+s.cooldownSeconds()+1) {
		t.Fatalf("expected cooldown to have expired after cooldownSeconds elapsed")
	}
}

func TestScheduler_ClearCooldown(t *testing.T) {
	s := newTestScheduler(t)
	key := "a@example.com:claude-sonnet-4-5:100"

	s.recordSuccess(key, 1000)
	s.clearCooldown(key)
	if s.checkCooldown(key, s.cooldownSeconds(), 1001) {
		t.Fatalf("expected cooldown to be gone after clearCooldown")
	}
}

func TestScheduler_PruneLocked(t *testing.T) {
	s := newTestScheduler(t)
	s.mu.Lock()
	s.history["stale"] = 0
	s.history["fresh"] = config.WarmupHistoryMaxAgeS
	changed := s.pruneLocked(config.WarmupHistoryMaxAgeS + 1)
	_, staleExists := s.history["stale"]
	_, freshExists := s.history["fresh"]
	s.mu.Unlock()

	if !changed {
		t.Fatalf("expected pruneLocked to report a change")
	}
	if staleExists {
		t.Fatalf("expected the stale entry to be pruned")
	}
	if !freshExists {
		t.Fatalf("expected the fresh entry to survive pruning")
	}
}

func TestScheduler_Monitored(t *testing.T) {
	s := newTestScheduler(t)
	if !s.monitored("claude-sonnet-4-5") {
		t.Fatalf("expected claude-sonnet-4-5 to be monitored")
	}
	if s.monitored("gemini-3-flash") {
		t.Fatalf("expected gemini-3-flash to not be monitored")
	}
}

func TestScheduler_DefaultsAppliedWhenUnset(t *testing.T) {
	cfg := &config.WarmupConfig{Enabled: true}
	s := New(cfg, nil, filepath.Join(t.TempDir(), "warmup_history.json"))

	if s.cooldownSeconds() != config.WarmupCooldownSeconds {
		t.Fatalf("got cooldownSeconds %d, want default %d", s.cooldownSeconds(), config.WarmupCooldownSeconds)
	}
	if s.batchSize() != config.WarmupBatchSize {
		t.Fatalf("got batchSize %d, want default %d", s.batchSize(), config.WarmupBatchSize)
	}
}

func TestScheduler_BatchLimiterBurstMatchesBatchSize(t *testing.T) {
	cfg := &config.WarmupConfig{Enabled: true, BatchSize: 5, BatchSpacingMs: 2000}
	s := New(cfg, nil, filepath.Join(t.TempDir(), "warmup_history.json"))

	if s.batchLimiter == nil {
		t.Fatal("expected batchLimiter to be initialized")
	}
	if burst := s.batchLimiter.Burst(); burst != 5 {
		t.Fatalf("got burst %d, want batch size 5", burst)
	}
}

func TestScheduler_HistoryPersistsAcrossLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warmup_history.json")
	cfg := &config.WarmupConfig{Enabled: true, MonitoredModels: []string{"claude-sonnet-4-5"}}

	s1 := New(cfg, nil, path)
	s1.recordSuccess("a@example.com:claude-sonnet-4-5:100", 5000)
	s1.saveHistory()

	s2 := New(cfg, nil, path)
	if !s2.checkCooldown("a@example.com:claude-sonnet-4-5:100", 10000, 5001) {
		t.Fatalf("expected history to be reloaded from disk")
	}
}
