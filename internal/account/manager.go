// Package account provides account management with configurable selection strategies.
package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/poemonsense/antigravity-proxy-go/internal/account/strategies"
	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/quota"
	"github.com/poemonsense/antigravity-proxy-go/internal/utils"
	"github.com/poemonsense/antigravity-proxy-go/pkg/redis"
)

// Manager manages multiple Antigravity accounts with configurable selection strategies.
type Manager struct {
	mu sync.RWMutex

	redisClient  *redis.Client
	accountStore *redis.AccountStore

	accounts     []*redis.Account
	currentIndex int
	initialized  bool

	credentials *Credentials

	strategy     strategies.Strategy
	strategyName string

	config *config.Config
}

// NewManager creates a new account manager.
func NewManager(redisClient *redis.Client, cfg *config.Config) *Manager {
	return &Manager{
		redisClient:  redisClient,
		accountStore: redis.NewAccountStore(redisClient),
		accounts:     make([]*redis.Account, 0),
		credentials:  NewCredentials(redisClient),
		strategyName: config.DefaultSelectionStrategy,
		config:       cfg,
	}
}

// Initialize loads accounts from storage and builds the configured selection strategy.
func (m *Manager) Initialize(ctx context.Context, strategyOverride string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	accounts, err := m.accountStore.ListAccounts(ctx)
	if err != nil {
		utils.Warn("[AccountManager] Failed to load accounts: %v", err)
		accounts = make([]*redis.Account, 0)
	}

	m.accounts = accounts

	// Strategy precedence: CLI override > config file > default.
	configStrategy := m.config.GetStrategy()
	if strategyOverride != "" {
		m.strategyName = strategyOverride
	} else if configStrategy != "" {
		m.strategyName = configStrategy
	}

	strategyConfig := &strategies.Config{
		Weights: strategies.DefaultWeights(),
	}
	if m.config.AccountSelection.HealthScore != nil {
		strategyConfig.HealthScore = *m.config.AccountSelection.HealthScore
	}
	if m.config.AccountSelection.TokenBucket != nil {
		strategyConfig.TokenBucket = *m.config.AccountSelection.TokenBucket
	}
	if m.config.AccountSelection.Quota != nil {
		strategyConfig.Quota = *m.config.AccountSelection.Quota
	}
	m.strategy = strategies.NewStrategy(m.strategyName, strategyConfig, m.redisClient)
	utils.Info("[AccountManager] Using %s selection strategy", strategies.GetStrategyLabel(m.strategyName))

	m.clearExpiredLimitsLocked(ctx)

	m.initialized = true
	return nil
}

// Reload reloads accounts from storage.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()

	err := m.Initialize(ctx, "")
	if err == nil {
		utils.Info("[AccountManager] Accounts reloaded from storage")
	}
	return err
}

// GetAccountCount returns the number of configured accounts.
func (m *Manager) GetAccountCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

// GetAllAccounts returns a snapshot of all accounts.
func (m *Manager) GetAllAccounts() []*redis.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*redis.Account, len(m.accounts))
	copy(result, m.accounts)
	return result
}

// SelectAccount selects an account for a model using the configured strategy.
func (m *Manager) SelectAccount(ctx context.Context, modelID string, options SelectOptions) (*SelectionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, NewNotInitializedError()
	}

	if len(m.accounts) == 0 {
		return nil, NewNoAccountsError("No accounts configured", false)
	}

	m.clearExpiredLimitsLocked(ctx)

	result := m.strategy.SelectAccount(ctx, m.accounts, modelID, strategies.SelectOptions{
		CurrentIndex: m.currentIndex,
		SessionID:    options.SessionID,
		OnSave:       func() { m.saveToDiskLocked(ctx) },
	})

	if result.Account == nil {
		allRateLimited := m.isAllRateLimitedLocked(modelID)
		return nil, NewNoAccountsError("No available accounts", allRateLimited)
	}

	m.currentIndex = result.Index

	return &SelectionResult{
		Account: result.Account,
		Index:   result.Index,
		WaitMs:  result.WaitMs,
	}, nil
}

// IsAllRateLimited reports whether every enabled account is rate-limited for modelID.
func (m *Manager) IsAllRateLimited(modelID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isAllRateLimitedLocked(modelID)
}

func (m *Manager) isAllRateLimitedLocked(modelID string) bool {
	for _, acc := range m.accounts {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}
		if !m.isRateLimitedForModel(acc, modelID) {
			return false
		}
	}
	return true
}

// GetAvailableAccounts returns enabled, valid accounts not rate-limited for modelID.
func (m *Manager) GetAvailableAccounts(modelID string) []*redis.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*redis.Account, 0)
	for _, acc := range m.accounts {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}
		if !m.isRateLimitedForModel(acc, modelID) {
			result = append(result, acc)
		}
	}
	return result
}

// GetInvalidAccounts returns accounts marked invalid.
func (m *Manager) GetInvalidAccounts() []*redis.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*redis.Account, 0)
	for _, acc := range m.accounts {
		if acc.IsInvalid {
			result = append(result, acc)
		}
	}
	return result
}

// MarkRateLimited records a rate limit for an account/model pair.
func (m *Manager) MarkRateLimited(ctx context.Context, email string, resetMs int64, modelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	resetTime := time.Now().Add(time.Duration(resetMs) * time.Millisecond).UnixMilli()
	info := &redis.RateLimitInfo{
		IsRateLimited: true,
		ResetTime:     resetTime,
		ActualResetMs: resetMs,
	}

	return m.accountStore.SetRateLimit(ctx, email, modelID, info)
}

// MarkInvalid marks an account as invalid (e.g. after a permanent auth failure).
func (m *Manager) MarkInvalid(ctx context.Context, email, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		if acc.Email == email {
			acc.IsInvalid = true
			acc.InvalidReason = reason
			acc.InvalidAt = time.Now().UnixMilli()
			return m.accountStore.SetAccount(ctx, acc)
		}
	}

	return nil
}

// ResetAllRateLimits clears rate-limit state for every account.
func (m *Manager) ResetAllRateLimits(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		_ = m.accountStore.ClearRateLimits(ctx, acc.Email)
	}
}

// ClearExpiredLimits clears rate limits whose reset time has passed.
func (m *Manager) ClearExpiredLimits(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearExpiredLimitsLocked(ctx)
}

func (m *Manager) clearExpiredLimitsLocked(ctx context.Context) int {
	// Rate limit entries carry their own TTL in Redis, so this mostly
	// relies on that expiry; this hook exists for callers that need to
	// force a synchronous check before selecting an account.
	var cleared int
	return cleared
}

// GetMinWaitTimeMs returns the shortest time until any account's rate limit
// for modelID clears, or 0 if at least one account is already available.
func (m *Manager) GetMinWaitTimeMs(ctx context.Context, modelID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var minWait int64 = -1
	now := time.Now()

	for _, acc := range m.accounts {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}

		info, err := m.accountStore.GetRateLimit(ctx, acc.Email, modelID)
		if err != nil || info == nil || !info.IsRateLimited {
			return 0
		}

		if info.ResetTime > 0 {
			wait := info.ResetTime - now.UnixMilli()
			if wait > 0 {
				if minWait < 0 || wait < minWait {
					minWait = wait
				}
			}
		}
	}

	if minWait < 0 {
		return 0
	}
	return minWait
}

// GetRateLimitInfo returns rate limit info for an account and model.
func (m *Manager) GetRateLimitInfo(ctx context.Context, email, modelID string) *redis.RateLimitInfo {
	info, _ := m.accountStore.GetRateLimit(ctx, email, modelID)
	return info
}

// NotifySuccess tells the strategy a request against account/model succeeded.
func (m *Manager) NotifySuccess(account *redis.Account, modelID string) {
	if m.strategy != nil {
		m.strategy.OnSuccess(account, modelID)
	}
}

// NotifyRateLimit tells the strategy a request against account/model was rate-limited.
func (m *Manager) NotifyRateLimit(account *redis.Account, modelID string) {
	if m.strategy != nil {
		m.strategy.OnRateLimit(account, modelID)
	}
}

// NotifyFailure tells the strategy a request against account/model failed.
func (m *Manager) NotifyFailure(account *redis.Account, modelID string) {
	if m.strategy != nil {
		m.strategy.OnFailure(account, modelID)
	}
}

// GetStrategyName returns the name of the currently configured selection strategy.
func (m *Manager) GetStrategyName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strategyName
}

// GetStrategyLabel returns the display label for the current strategy.
func (m *Manager) GetStrategyLabel() string {
	return strategies.GetStrategyLabel(m.GetStrategyName())
}

// GetHealthTracker returns the health tracker backing the hybrid strategy, if active.
func (m *Manager) GetHealthTracker() strategies.HealthTracker {
	if hs, ok := m.strategy.(interface{ GetHealthTracker() strategies.HealthTracker }); ok {
		return hs.GetHealthTracker()
	}
	return nil
}

// SaveToDisk persists account state to storage.
func (m *Manager) SaveToDisk(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveToDiskLocked(ctx)
}

func (m *Manager) saveToDiskLocked(ctx context.Context) error {
	for _, acc := range m.accounts {
		if err := m.accountStore.SetAccount(ctx, acc); err != nil {
			utils.Warn("[AccountManager] Failed to save account %s: %v", acc.Email, err)
		}
	}
	return nil
}

// GetStatus returns a snapshot of account manager state for display/admin surfaces.
func (m *Manager) GetStatus() *ManagerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := &ManagerStatus{
		Total:    len(m.accounts),
		Accounts: make([]*AccountStatus, 0, len(m.accounts)),
	}

	for _, acc := range m.accounts {
		accStatus := &AccountStatus{
			Email:                acc.Email,
			Source:               acc.Source,
			Enabled:              acc.Enabled,
			ProjectID:            acc.ProjectID,
			IsInvalid:            acc.IsInvalid,
			InvalidReason:        acc.InvalidReason,
			QuotaThreshold:       acc.QuotaThreshold,
			ModelQuotaThresholds: acc.ModelQuotaThresholds,
			ModelRateLimits:      acc.ModelRateLimits,
		}

		if acc.LastUsed > 0 {
			accStatus.LastUsed = acc.LastUsed
		}

		if !acc.Enabled || acc.IsInvalid {
			status.Invalid++
		} else {
			status.Available++
		}

		status.Accounts = append(status.Accounts, accStatus)
	}

	status.Summary = utils.TruncateString(
		m.formatStatusSummary(status.Available, status.RateLimited, status.Total),
		100,
	)

	return status
}

func (m *Manager) formatStatusSummary(available, rateLimited, total int) string {
	if total == 0 {
		return "No accounts configured"
	}
	if available == 0 {
		return "All accounts unavailable"
	}
	return "All accounts available"
}

func (m *Manager) isRateLimitedForModel(acc *redis.Account, modelID string) bool {
	if modelID == "" {
		return false
	}
	info, _ := m.accountStore.GetRateLimit(context.Background(), acc.Email, modelID)
	if info == nil {
		return false
	}
	if !info.IsRateLimited {
		return false
	}
	if info.ResetTime > 0 && time.Now().After(time.UnixMilli(info.ResetTime)) {
		return false
	}
	return true
}

// SelectOptions parameterizes account selection.
type SelectOptions struct {
	SessionID string
}

// SelectionResult is the outcome of an account selection attempt.
type SelectionResult struct {
	Account *redis.Account
	Index   int
	WaitMs  int64
}

// ManagerStatus is a display-oriented summary of account manager state.
type ManagerStatus struct {
	Total       int              `json:"total"`
	Available   int              `json:"available"`
	RateLimited int              `json:"rateLimited"`
	Invalid     int              `json:"invalid"`
	Summary     string           `json:"summary"`
	Accounts    []*AccountStatus `json:"accounts"`
}

// AccountStatus is a display-oriented summary of a single account.
type AccountStatus struct {
	Email                string                          `json:"email"`
	Source               string                          `json:"source"`
	Enabled              bool                            `json:"enabled"`
	ProjectID            string                          `json:"projectId,omitempty"`
	IsInvalid            bool                            `json:"isInvalid"`
	InvalidReason        string                          `json:"invalidReason,omitempty"`
	LastUsed             int64                           `json:"lastUsed,omitempty"`
	QuotaThreshold       *float64                        `json:"quotaThreshold,omitempty"`
	ModelQuotaThresholds map[string]float64              `json:"modelQuotaThresholds,omitempty"`
	ModelRateLimits      map[string]*redis.RateLimitInfo `json:"modelRateLimits,omitempty"`
}

// NotInitializedError is returned when the manager is used before Initialize.
type NotInitializedError struct{}

func (e *NotInitializedError) Error() string {
	return "account manager not initialized"
}

// NewNotInitializedError creates a NotInitializedError.
func NewNotInitializedError() *NotInitializedError {
	return &NotInitializedError{}
}

// NoAccountsError is returned when no account is available to serve a request.
type NoAccountsError struct {
	Message        string
	AllRateLimited bool
}

func (e *NoAccountsError) Error() string {
	return e.Message
}

// NewNoAccountsError creates a NoAccountsError.
func NewNoAccountsError(message string, allRateLimited bool) *NoAccountsError {
	return &NoAccountsError{
		Message:        message,
		AllRateLimited: allRateLimited,
	}
}

// GetTokenForAccount returns an access token for acc, delegating to the
// credentials manager's cached/TTL-aware refresh logic.
func (m *Manager) GetTokenForAccount(ctx context.Context, acc *redis.Account) (string, error) {
	token, err := m.credentials.GetAccessToken(ctx, acc)
	if err != nil {
		if isAuthError(err) {
			_ = m.MarkInvalid(ctx, acc.Email, err.Error())
		}
		return "", err
	}

	if acc.IsInvalid {
		acc.IsInvalid = false
		acc.InvalidReason = ""
		_ = m.accountStore.SetAccount(ctx, acc)
	}

	return token, nil
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "token refresh failed") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "Token has been expired or revoked")
}

// ClearTokenCache clears all cached tokens.
func (m *Manager) ClearTokenCache() {
	m.credentials.ClearCache()
}

// ClearTokenCacheFor clears the cached token for a specific account.
func (m *Manager) ClearTokenCacheFor(email string) {
	m.credentials.ClearCacheForAccount(context.Background(), email)
}

// ClearProjectCache clears the cached project ID for every known account.
func (m *Manager) ClearProjectCache() {
	ctx := context.Background()
	m.mu.RLock()
	accounts := make([]*redis.Account, len(m.accounts))
	copy(accounts, m.accounts)
	m.mu.RUnlock()

	for _, acc := range accounts {
		if err := m.accountStore.ClearProjectCache(ctx, acc.Email); err != nil {
			utils.Warn("[AccountManager] Failed to clear project cache for %s: %v", acc.Email, err)
		}
	}
}

// ClearProjectCacheFor clears the cached project ID for a specific account.
func (m *Manager) ClearProjectCacheFor(email string) {
	if err := m.accountStore.ClearProjectCache(context.Background(), email); err != nil {
		utils.Warn("[AccountManager] Failed to clear project cache for %s: %v", email, err)
	}
}

// UpdateAccountSubscription records subscription tier/project info for an account.
func (m *Manager) UpdateAccountSubscription(email, tier, projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		if acc.Email == email {
			if acc.Subscription == nil {
				acc.Subscription = &redis.SubscriptionInfo{}
			}
			acc.Subscription.Tier = tier
			acc.Subscription.ProjectID = projectID
			acc.Subscription.DetectedAt = time.Now().UnixMilli()

			go func() {
				if err := m.accountStore.SetAccount(context.Background(), acc); err != nil {
					utils.Error("[AccountManager] Failed to save account subscription: %v", err)
				}
			}()
			return
		}
	}
}

// UpdateAccountQuota records per-model remaining quota fraction/reset time for an account.
func (m *Manager) UpdateAccountQuota(email string, quotas map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		if acc.Email == email {
			if acc.Quota == nil {
				acc.Quota = &redis.QuotaInfo{
					Models: make(map[string]*redis.ModelQuotaInfo),
				}
			}
			acc.Quota.LastChecked = time.Now().UnixMilli()

			for modelID, modelQuota := range quotas {
				if quotaMap, ok := modelQuota.(map[string]interface{}); ok {
					info := &redis.ModelQuotaInfo{}
					if rf, ok := quotaMap["remainingFraction"].(float64); ok {
						info.RemainingFraction = rf
					}
					if rt, ok := quotaMap["resetTime"].(string); ok {
						info.ResetTime = rt
					}
					acc.Quota.Models[modelID] = info
				}
			}

			quota.Apply(acc, m.config.QuotaProtection)

			go func() {
				if err := m.accountStore.SetAccount(context.Background(), acc); err != nil {
					utils.Error("[AccountManager] Failed to save account quota: %v", err)
				}
			}()
			return
		}
	}
}

// SetAccountEnabled enables or disables an account.
func (m *Manager) SetAccountEnabled(ctx context.Context, email string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		if acc.Email == email {
			acc.Enabled = enabled
			return m.accountStore.SetAccount(ctx, acc)
		}
	}

	return NewNoAccountsError("Account "+email+" not found", false)
}

// RemoveAccount removes an account from the pool and storage.
func (m *Manager) RemoveAccount(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, acc := range m.accounts {
		if acc.Email == email {
			m.accounts = append(m.accounts[:i], m.accounts[i+1:]...)
			return m.accountStore.DeleteAccount(ctx, email)
		}
	}

	return NewNoAccountsError("Account "+email+" not found", false)
}

// GetAccountByEmail looks up an account by email.
func (m *Manager) GetAccountByEmail(ctx context.Context, email string) (*redis.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, acc := range m.accounts {
		if acc.Email == email {
			return acc, nil
		}
	}

	return nil, NewNoAccountsError("Account "+email+" not found", false)
}

// UpdateAccount replaces an existing account's record.
func (m *Manager) UpdateAccount(ctx context.Context, acc *redis.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.accounts {
		if existing.Email == acc.Email {
			m.accounts[i] = acc
			return m.accountStore.SetAccount(ctx, acc)
		}
	}

	return NewNoAccountsError("Account "+acc.Email+" not found", false)
}

// AddOrUpdateAccount adds a new account or updates an existing one, enforcing MaxAccounts.
func (m *Manager) AddOrUpdateAccount(ctx context.Context, acc *redis.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.accounts {
		if existing.Email == acc.Email {
			m.accounts[i] = acc
			utils.Info("[AccountManager] Account %s updated", acc.Email)
			return m.accountStore.SetAccount(ctx, acc)
		}
	}

	if len(m.accounts) >= m.config.MaxAccounts {
		return NewNoAccountsError("Maximum accounts reached", false)
	}

	m.accounts = append(m.accounts, acc)
	utils.Info("[AccountManager] Account %s added", acc.Email)
	return m.accountStore.SetAccount(ctx, acc)
}

// GetAllAccountsContext returns all accounts (context-aware signature for callers
// that may add cross-cutting concerns later, e.g. tracing).
func (m *Manager) GetAllAccountsContext(ctx context.Context) ([]*redis.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*redis.Account, len(m.accounts))
	copy(result, m.accounts)
	return result, nil
}

// StrategyHealthData reports per-account health/token/failure data for the
// currently active strategy, when it exposes one.
type StrategyHealthData struct {
	Strategy    string              `json:"strategy"`
	Accounts    []AccountHealthData `json:"accounts"`
	LastUpdated int64               `json:"lastUpdated"`
}

// AccountHealthData is the health snapshot for a single account.
type AccountHealthData struct {
	Email            string  `json:"email"`
	HealthScore      float64 `json:"healthScore"`
	TokensAvailable  float64 `json:"tokensAvailable"`
	ConsecutiveFails int     `json:"consecutiveFails"`
	LastUsed         int64   `json:"lastUsed"`
}

// GetStrategyHealthData returns health data for the strategy inspector.
func (m *Manager) GetStrategyHealthData() *StrategyHealthData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data := &StrategyHealthData{
		Strategy:    m.strategyName,
		Accounts:    make([]AccountHealthData, 0),
		LastUpdated: time.Now().UnixMilli(),
	}

	var healthGetter interface{ GetHealthScore(string) float64 }
	var tokenGetter interface{ GetTokens(string) float64 }
	var failureGetter interface{ GetConsecutiveFailures(string) int }

	if hs, ok := m.strategy.(interface{ GetHealthTracker() strategies.HealthTracker }); ok {
		if tracker := hs.GetHealthTracker(); tracker != nil {
			healthGetter = tracker
			failureGetter = tracker
		}
	}

	if ts, ok := m.strategy.(interface {
		GetTokenBucketTracker() interface{ GetTokens(string) float64 }
	}); ok {
		if tracker := ts.GetTokenBucketTracker(); tracker != nil {
			tokenGetter = tracker
		}
	}

	for _, acc := range m.accounts {
		accData := AccountHealthData{
			Email:    acc.Email,
			LastUsed: acc.LastUsed,
		}

		if healthGetter != nil {
			accData.HealthScore = healthGetter.GetHealthScore(acc.Email)
		}
		if tokenGetter != nil {
			accData.TokensAvailable = tokenGetter.GetTokens(acc.Email)
		}
		if failureGetter != nil {
			accData.ConsecutiveFails = failureGetter.GetConsecutiveFailures(acc.Email)
		}

		data.Accounts = append(data.Accounts, accData)
	}

	return data
}
