// Package proxy implements the outbound proxy pool (spec.md §4.4): enabled
// proxy entries, account bindings, selection strategies, health probing, and
// a cached http.Client per entry. Grounded on
// original_source/src-tauri/src/proxy/proxy_pool.rs, adapted from its
// async/DashMap shape to Go's sync primitives and net/http.Client/Transport.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/utils"
)

// Auth holds basic-auth credentials for a proxy entry.
type Auth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Entry is one configured proxy in the pool.
type Entry struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	URL            string     `json:"url"`
	Enabled        bool       `json:"enabled"`
	Priority       int        `json:"priority"`
	MaxAccounts    int        `json:"maxAccounts,omitempty"`
	Auth           *Auth      `json:"auth,omitempty"`
	HealthCheckURL string     `json:"healthCheckUrl,omitempty"`
	IsHealthy      bool       `json:"isHealthy"`
	LatencyMs      *int64     `json:"latencyMs,omitempty"`
	LastCheckedAt  *time.Time `json:"lastCheckedAt,omitempty"`
}

// poolFile is the on-disk shape persisted under DataDir()/proxy_pool.json.
type poolFile struct {
	Proxies         []*Entry          `json:"proxies"`
	AccountBindings map[string]string `json:"accountBindings"`
}

// Pool is the proxy pool manager: entries, account bindings, per-entry
// client cache, and usage counters for the least-connections strategy.
type Pool struct {
	mu     sync.RWMutex
	cfg    *config.ProxyPoolConfig
	path   string
	entries []*Entry

	accountBindings map[string]string // account email -> entry id
	usageCounter    map[string]int64  // entry id -> lifetime selection count
	rrIndex         uint64

	clientsMu sync.Mutex
	clients   map[string]*http.Client // entry id -> cached client
	direct    *http.Client

	// checkLimiter paces outbound health-probe requests: MaxConcurrentChecks
	// bounds how many probes run at once, checkLimiter bounds how many *new*
	// probes start per second, so a large pool doesn't open a burst of
	// sockets against every proxy's health-check URL on every tick.
	checkLimiter *rate.Limiter
}

// New creates a Pool backed by cfg, loading persisted entries/bindings from
// path if present.
func New(cfg *config.ProxyPoolConfig, path string) *Pool {
	limit := cfg.MaxConcurrentChecks
	if limit <= 0 {
		limit = config.ProxyHealthCheckConcurrency
	}
	p := &Pool{
		cfg:             cfg,
		path:            path,
		accountBindings: make(map[string]string),
		usageCounter:    make(map[string]int64),
		clients:         make(map[string]*http.Client),
		direct:          &http.Client{Timeout: 10 * time.Minute},
		checkLimiter:    rate.NewLimiter(rate.Limit(limit), limit),
	}
	p.load()
	return p
}

var globalPool atomic.Pointer[Pool]

// InitGlobalPool installs p as the process-wide proxy pool, consulted by
// the CloudCode client's request path (internal/cloudcode) to pick the
// outbound client for a given account.
func InitGlobalPool(p *Pool) {
	globalPool.Store(p)
}

// GlobalPool returns the process-wide proxy pool, or nil if none was
// installed (proxy pool support is opt-in via config.ProxyPoolConfig).
func GlobalPool() *Pool {
	return globalPool.Load()
}

func (p *Pool) load() {
	if p.path == "" || !utils.FileExists(p.path) {
		return
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		utils.Warn("[ProxyPool] Failed to read %s: %v", p.path, err)
		return
	}
	var f poolFile
	if err := json.Unmarshal(data, &f); err != nil {
		utils.Warn("[ProxyPool] Failed to parse %s: %v", p.path, err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = f.Proxies
	if f.AccountBindings != nil {
		p.accountBindings = f.AccountBindings
	}
	if len(p.accountBindings) > 0 {
		utils.Info("[ProxyPool] Loaded %d account bindings from %s", len(p.accountBindings), p.path)
	}
}

func (p *Pool) persist() {
	p.mu.RLock()
	f := poolFile{Proxies: p.entries, AccountBindings: p.accountBindings}
	p.mu.RUnlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		utils.Error("[ProxyPool] Failed to marshal pool state: %v", err)
		return
	}
	if err := utils.WriteFileAtomic(p.path, data, 0644); err != nil {
		utils.Error("[ProxyPool] Failed to persist pool state: %v", err)
	}
}

// GetEffectiveClient resolves the http.Client to use for accountEmail,
// following the binding -> pool -> direct cascade of step 1-2 (the global
// upstream-proxy fallback of step 3 is the caller's responsibility, since
// it is not part of this pool's own config).
func (p *Pool) GetEffectiveClient(accountEmail string) *http.Client {
	entry := p.SelectForAccount(accountEmail)
	if entry == nil {
		return p.direct
	}
	return p.clientFor(entry)
}

// SelectForAccount implements the account->proxy resolution of spec.md
// §4.4 steps 1-2 (binding first, else pool selection excluding bound
// proxies). Returns nil if the pool is disabled, empty, or has nothing
// eligible.
func (p *Pool) SelectForAccount(accountEmail string) *Entry {
	p.mu.RLock()
	enabled := p.cfg.Enabled
	p.mu.RUnlock()
	if !enabled {
		return nil
	}

	if accountEmail != "" {
		if entry := p.boundEntry(accountEmail); entry != nil {
			return entry
		}
	}

	return p.selectFromPool()
}

func (p *Pool) boundEntry(accountEmail string) *Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entryID, bound := p.accountBindings[accountEmail]
	if !bound {
		return nil
	}
	for _, e := range p.entries {
		if e.ID == entryID {
			if !e.Enabled {
				return nil
			}
			if !e.IsHealthy && p.autoFailover() {
				return nil
			}
			return e
		}
	}
	return nil
}

// autoFailover reports whether unhealthy proxies should be skipped. The
// pool config doesn't carry a dedicated flag beyond Enabled, so failover is
// tied to the pool being enabled at all — matching the teacher's single
// on/off knob for the supplemented feature set.
func (p *Pool) autoFailover() bool {
	return true
}

func (p *Pool) selectFromPool() *Entry {
	p.mu.RLock()
	bound := make(map[string]bool, len(p.accountBindings))
	for _, id := range p.accountBindings {
		bound[id] = true
	}

	candidates := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		if !e.Enabled {
			continue
		}
		if p.autoFailover() && !e.IsHealthy {
			continue
		}
		if bound[e.ID] {
			continue
		}
		candidates = append(candidates, e)
	}
	strategy := p.cfg.Strategy
	p.mu.RUnlock()

	if len(candidates) == 0 {
		return nil
	}

	var selected *Entry
	switch strategy {
	case config.ProxyStrategyRandom:
		selected = candidates[rand.Intn(len(candidates))]
	case config.ProxyStrategyPriority, config.ProxyStrategyWeighted:
		selected = lowestPriority(candidates)
	case config.ProxyStrategyLeastConnections:
		selected = p.leastConnections(candidates)
	default: // round-robin
		idx := atomic.AddUint64(&p.rrIndex, 1) - 1
		selected = candidates[idx%uint64(len(candidates))]
	}

	if selected != nil {
		p.mu.Lock()
		p.usageCounter[selected.ID]++
		p.mu.Unlock()
	}
	return selected
}

func lowestPriority(entries []*Entry) *Entry {
	best := entries[0]
	for _, e := range entries[1:] {
		if e.Priority < best.Priority {
			best = e
		}
	}
	return best
}

func (p *Pool) leastConnections(entries []*Entry) *Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	best := entries[0]
	bestCount := p.usageCounter[best.ID]
	for _, e := range entries[1:] {
		if c := p.usageCounter[e.ID]; c < bestCount {
			best = e
			bestCount = c
		}
	}
	return best
}

// clientFor returns the cached http.Client for entry, building one on first use.
func (p *Pool) clientFor(entry *Entry) *http.Client {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()

	if c, ok := p.clients[entry.ID]; ok {
		return c
	}

	transport := &http.Transport{Proxy: http.ProxyURL(proxyURLWithAuth(entry))}
	c := &http.Client{Timeout: 10 * time.Minute, Transport: transport}
	p.clients[entry.ID] = c
	return c
}

func proxyURLWithAuth(entry *Entry) *url.URL {
	u, err := url.Parse(entry.URL)
	if err != nil {
		return nil
	}
	if entry.Auth != nil {
		u.User = url.UserPassword(entry.Auth.Username, entry.Auth.Password)
	}
	return u
}

// BindAccount binds accountEmail to entryID, enforcing the entry's
// max-accounts limit, and persists the new binding.
func (p *Pool) BindAccount(accountEmail, entryID string) error {
	p.mu.Lock()
	var found *Entry
	for _, e := range p.entries {
		if e.ID == entryID {
			found = e
			break
		}
	}
	if found == nil {
		p.mu.Unlock()
		return fmt.Errorf("proxy %s not found", entryID)
	}
	if found.MaxAccounts > 0 {
		count := 0
		for _, id := range p.accountBindings {
			if id == entryID {
				count++
			}
		}
		if count >= found.MaxAccounts {
			p.mu.Unlock()
			return fmt.Errorf("proxy %s has reached its max accounts limit", entryID)
		}
	}
	p.accountBindings[accountEmail] = entryID
	p.mu.Unlock()

	p.persist()
	utils.Info("[ProxyPool] Bound account %s to proxy %s", accountEmail, entryID)
	return nil
}

// UnbindAccount removes accountEmail's binding, if any, and persists.
func (p *Pool) UnbindAccount(accountEmail string) {
	p.mu.Lock()
	delete(p.accountBindings, accountEmail)
	p.mu.Unlock()
	p.persist()
	utils.Info("[ProxyPool] Unbound account %s", accountEmail)
}

// GetBinding returns the entry id accountEmail is bound to, if any.
func (p *Pool) GetBinding(accountEmail string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.accountBindings[accountEmail]
	return id, ok
}

// Entries returns a snapshot of all configured proxy entries.
func (p *Pool) Entries() []*Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// HealthCheck probes every enabled entry concurrently (bounded by
// MaxConcurrentChecks) and records {is_healthy, latency_ms, last_check_at}.
func (p *Pool) HealthCheck(ctx context.Context) {
	p.mu.RLock()
	toCheck := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		if e.Enabled {
			toCheck = append(toCheck, e)
		}
	}
	limit := p.cfg.MaxConcurrentChecks
	p.mu.RUnlock()

	if limit <= 0 {
		limit = config.ProxyHealthCheckConcurrency
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for _, e := range toCheck {
		wg.Add(1)
		sem <- struct{}{}
		go func(entry *Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := p.checkLimiter.Wait(ctx); err != nil {
				return
			}
			healthy, latency := p.probe(ctx, entry)

			p.mu.Lock()
			entry.IsHealthy = healthy
			entry.LatencyMs = latency
			now := time.Now()
			entry.LastCheckedAt = &now
			p.mu.Unlock()

			status := "FAILED"
			if healthy {
				status = "OK"
			}
			utils.Debug("[ProxyPool] Proxy %s (%s) health check: %s", entry.Name, entry.URL, status)
		}(e)
	}
	wg.Wait()
}

func (p *Pool) probe(ctx context.Context, entry *Entry) (bool, *int64) {
	checkURL := entry.HealthCheckURL
	if checkURL == "" {
		checkURL = config.ProxyHealthCheckDefaultURL
	}

	client := p.clientFor(entry)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return false, nil
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()

	latency := time.Since(start).Milliseconds()
	healthy := resp.StatusCode >= 200 && resp.StatusCode < 400
	return healthy, &latency
}

// RunHealthChecks starts the background health-probe loop, ticking at
// max(cfg.CheckIntervalMs, ProxyHealthCheckMinIntervalMs), until ctx is done.
func (p *Pool) RunHealthChecks(ctx context.Context) {
	p.mu.RLock()
	intervalMs := p.cfg.CheckIntervalMs
	p.mu.RUnlock()
	if intervalMs < config.ProxyHealthCheckMinIntervalMs {
		intervalMs = config.ProxyHealthCheckMinIntervalMs
	}

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.HealthCheck(ctx)
		}
	}
}
