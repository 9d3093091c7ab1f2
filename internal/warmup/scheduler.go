// Package warmup implements the scheduled warmup scanner (spec.md §4.6): a
// background loop that, every scan interval, finds models sitting at 100%
// remaining quota for each account and fires a minimal keepalive call so the
// model stays reachable right after a quota reset. Grounded on
// original_source/src-tauri/src/modules/scheduler.rs.
package warmup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/poemonsense/antigravity-proxy-go/internal/account"
	"github.com/poemonsense/antigravity-proxy-go/internal/cloudcode"
	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/utils"
	"github.com/poemonsense/antigravity-proxy-go/pkg/anthropic"
	"github.com/poemonsense/antigravity-proxy-go/pkg/redis"
)

// task is one scheduled warmup probe.
type task struct {
	email      string
	token      string
	projectID  string
	model      string
	historyKey string
}

// Scheduler runs the periodic warmup scan against every enabled account.
type Scheduler struct {
	cfg            *config.WarmupConfig
	accountManager *account.Manager
	historyPath    string

	mu      sync.Mutex
	history map[string]int64 // "email:model:100" -> last success unix seconds

	// batchLimiter replaces a plain batch-of-N/sleep-M loop with a token
	// bucket: burst lets the first batch fire immediately, and the refill
	// rate reproduces the same batches-per-spacing-interval pacing without
	// a fixed-size goroutine wave per batch.
	batchLimiter *rate.Limiter
}

// New creates a Scheduler backed by cfg, loading any persisted warmup
// history from historyPath.
func New(cfg *config.WarmupConfig, am *account.Manager, historyPath string) *Scheduler {
	s := &Scheduler{
		cfg:            cfg,
		accountManager: am,
		historyPath:    historyPath,
		history:        make(map[string]int64),
	}
	batchSize := s.batchSize()
	spacing := s.batchSpacing()
	ratePerSec := float64(batchSize) / spacing.Seconds()
	s.batchLimiter = rate.NewLimiter(rate.Limit(ratePerSec), batchSize)
	s.loadHistory()
	return s
}

func (s *Scheduler) loadHistory() {
	if s.historyPath == "" || !utils.FileExists(s.historyPath) {
		return
	}
	data, err := os.ReadFile(s.historyPath)
	if err != nil {
		utils.Warn("[Warmup] Failed to read history %s: %v", s.historyPath, err)
		return
	}
	var h map[string]int64
	if err := json.Unmarshal(data, &h); err != nil {
		utils.Warn("[Warmup] Failed to parse history %s: %v", s.historyPath, err)
		return
	}
	s.mu.Lock()
	s.history = h
	s.mu.Unlock()
}

func (s *Scheduler) saveHistory() {
	s.mu.Lock()
	snapshot := make(map[string]int64, len(s.history))
	for k, v := range s.history {
		snapshot[k] = v
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		utils.Error("[Warmup] Failed to marshal history: %v", err)
		return
	}
	if err := utils.WriteFileAtomic(s.historyPath, data, 0644); err != nil {
		utils.Error("[Warmup] Failed to persist history: %v", err)
	}
}

// pruneLocked drops history entries older than WarmupHistoryMaxAgeS. Caller
// holds s.mu.
func (s *Scheduler) pruneLocked(nowSec int64) bool {
	changed := false
	for k, ts := range s.history {
		if nowSec-ts > config.WarmupHistoryMaxAgeS {
			delete(s.history, k)
			changed = true
		}
	}
	return changed
}

// checkCooldown reports whether key warmed up successfully within the last
// cooldownSeconds.
func (s *Scheduler) checkCooldown(key string, cooldownSeconds int64, nowSec int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.history[key]
	return ok && nowSec-last < cooldownSeconds
}

func (s *Scheduler) clearCooldown(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, key)
}

func (s *Scheduler) recordSuccess(key string, nowSec int64) {
	s.mu.Lock()
	s.history[key] = nowSec
	s.mu.Unlock()
}

// Run starts the scan loop, ticking at the configured cadence until ctx is
// done.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}

	ticker := time.NewTicker(config.WarmupScanIntervalMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *Scheduler) monitored(model string) bool {
	for _, m := range s.cfg.MonitoredModels {
		if m == model {
			return true
		}
	}
	return false
}

func (s *Scheduler) cooldownSeconds() int64 {
	if s.cfg.CooldownSeconds > 0 {
		return s.cfg.CooldownSeconds
	}
	return config.WarmupCooldownSeconds
}

func (s *Scheduler) batchSize() int {
	if s.cfg.BatchSize > 0 {
		return s.cfg.BatchSize
	}
	return config.WarmupBatchSize
}

func (s *Scheduler) batchSpacing() time.Duration {
	if s.cfg.BatchSpacingMs > 0 {
		return time.Duration(s.cfg.BatchSpacingMs) * time.Millisecond
	}
	return config.WarmupBatchSpacingMs * time.Millisecond
}

// scan finds models at full quota across every account, runs the batched
// probes, and triggers a quota refresh cascade afterward.
func (s *Scheduler) scan(ctx context.Context) {
	nowSec := time.Now().Unix()

	s.mu.Lock()
	if s.pruneLocked(nowSec) {
		go s.saveHistory()
	}
	s.mu.Unlock()

	accounts := s.accountManager.GetAllAccounts()
	tasks := make([]task, 0)
	skippedCooldown := 0

	for _, acc := range accounts {
		if !acc.Enabled || acc.IsInvalid || acc.ProxyDisabled {
			continue
		}

		token, err := s.accountManager.GetTokenForAccount(ctx, acc)
		if err != nil {
			continue
		}
		projectID := acc.ProjectID
		if projectID == "" {
			projectID = config.DefaultProjectID
		}

		quotas, err := cloudcode.GetModelQuotas(ctx, token, projectID)
		if err != nil {
			continue
		}

		for modelName, q := range quotas {
			if q.RemainingFraction == nil {
				continue
			}
			pct := *q.RemainingFraction * 100

			historyKey := fmt.Sprintf("%s:%s:%d", acc.Email, modelName, config.WarmupQuotaFullPct)

			if int(pct) != config.WarmupQuotaFullPct {
				s.clearCooldown(historyKey)
				continue
			}

			if !s.monitored(modelName) {
				continue
			}
			if s.checkCooldown(historyKey, s.cooldownSeconds(), nowSec) {
				skippedCooldown++
				continue
			}

			tasks = append(tasks, task{
				email:      acc.Email,
				token:      token,
				projectID:  projectID,
				model:      modelName,
				historyKey: historyKey,
			})
			utils.Info("[Warmup] Scheduled warmup: %s @ %s (quota at 100%%)", modelName, acc.Email)
		}
	}

	if len(tasks) == 0 {
		utils.Debug("[Warmup] Scan completed, no models with 100%% quota need warmup")
		return
	}

	if skippedCooldown > 0 {
		utils.Info("[Warmup] Skipped %d models in cooldown, will warmup %d", skippedCooldown, len(tasks))
	}
	utils.Info("[Warmup] Triggering %d warmup task(s)...", len(tasks))

	var wg sync.WaitGroup
	for _, t := range tasks {
		if err := s.batchLimiter.Wait(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			if err := probe(ctx, t); err != nil {
				utils.Warn("[Warmup] Probe failed for %s @ %s: %v", t.model, t.email, err)
				return
			}
			s.recordSuccess(t.historyKey, time.Now().Unix())
		}(t)
	}
	wg.Wait()

	s.saveHistory()

	for _, acc := range accounts {
		s.refreshAccountQuota(ctx, acc)
	}
}

func (s *Scheduler) refreshAccountQuota(ctx context.Context, acc *redis.Account) {
	if !acc.Enabled || acc.IsInvalid || acc.ProxyDisabled {
		return
	}
	token, err := s.accountManager.GetTokenForAccount(ctx, acc)
	if err != nil {
		return
	}
	projectID := acc.ProjectID
	if projectID == "" {
		projectID = config.DefaultProjectID
	}
	quotas, err := cloudcode.GetModelQuotas(ctx, token, projectID)
	if err != nil {
		return
	}
	quotaMap := make(map[string]interface{}, len(quotas))
	for modelName, q := range quotas {
		entry := map[string]interface{}{}
		if q.RemainingFraction != nil {
			entry["remainingFraction"] = *q.RemainingFraction
		}
		if q.ResetTime != nil {
			entry["resetTime"] = *q.ResetTime
		}
		quotaMap[modelName] = entry
	}
	s.accountManager.UpdateAccountQuota(acc.Email, quotaMap)
}

// probe issues a minimal non-streaming generateContent call that exercises
// model for the given account, bypassing normal account selection since the
// target account is already fixed.
func probe(ctx context.Context, t task) error {
	req := &anthropic.MessagesRequest{
		Model:     t.model,
		MaxTokens: 1,
		Messages: []anthropic.Message{
			{
				Role:    "user",
				Content: []anthropic.ContentBlock{{Type: "text", Text: "ping"}},
			},
		},
	}

	payload, err := cloudcode.BuildCloudCodeRequest(req, t.projectID)
	if err != nil {
		return err
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	client := cloudcode.HTTPClientForAccount(t.email)

	var lastErr error
	for _, endpoint := range config.AntigravityEndpointFallbacks {
		url := endpoint + "/v1internal:generateContent"

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
		if err != nil {
			return err
		}
		for k, v := range cloudcode.BuildHeaders(t.token, t.model, "application/json") {
			httpReq.Header.Set(k, v)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("warmup probe got status %d from %s", resp.StatusCode, endpoint)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("warmup probe failed: no endpoints reachable")
	}
	return lastErr
}
