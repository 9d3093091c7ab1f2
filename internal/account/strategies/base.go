// Package strategies provides account selection strategies for routing requests
// across a pool of OAuth accounts.
package strategies

import (
	"context"
	"time"

	"github.com/poemonsense/antigravity-proxy-go/internal/quota"
	"github.com/poemonsense/antigravity-proxy-go/pkg/redis"
)

// BaseStrategy provides common functionality shared by all selection strategies.
type BaseStrategy struct {
	config       *Config
	redisClient  *redis.Client
	accountStore *redis.AccountStore
}

// NewBaseStrategy creates a new BaseStrategy.
func NewBaseStrategy(cfg *Config, redisClient *redis.Client) *BaseStrategy {
	var accountStore *redis.AccountStore
	if redisClient != nil {
		accountStore = redis.NewAccountStore(redisClient)
	}
	return &BaseStrategy{
		config:       cfg,
		redisClient:  redisClient,
		accountStore: accountStore,
	}
}

// IsAccountUsable reports whether an account may be selected for a model right now.
func (s *BaseStrategy) IsAccountUsable(ctx context.Context, account *redis.Account, modelID string) bool {
	if account == nil || account.IsInvalid {
		return false
	}

	if !account.Enabled || account.ProxyDisabled {
		return false
	}

	if modelID != "" && quota.IsProtected(account, modelID) {
		return false
	}

	if s.IsAccountCoolingDown(account) {
		return false
	}

	if modelID != "" && s.accountStore != nil {
		info, err := s.accountStore.GetRateLimit(ctx, account.Email, modelID)
		if err == nil && info != nil && info.IsRateLimited {
			if info.ResetTime > 0 && time.Now().Before(time.UnixMilli(info.ResetTime)) {
				return false
			}
		}
	}

	return true
}

// IsAccountCoolingDown reports whether an account is in a cooldown window, clearing
// the cooldown in place once it has expired.
func (s *BaseStrategy) IsAccountCoolingDown(account *redis.Account) bool {
	if account == nil || account.CoolingDownUntil == 0 {
		return false
	}

	if time.Now().After(time.UnixMilli(account.CoolingDownUntil)) {
		account.CoolingDownUntil = 0
		account.CooldownReason = ""
		return false
	}

	return true
}

// GetUsableAccounts returns the accounts usable for a model, paired with their
// original index in the caller's slice.
func (s *BaseStrategy) GetUsableAccounts(ctx context.Context, accounts []*redis.Account, modelID string) []AccountWithIndex {
	result := make([]AccountWithIndex, 0)
	for i, account := range accounts {
		if s.IsAccountUsable(ctx, account, modelID) {
			result = append(result, AccountWithIndex{Account: account, Index: i})
		}
	}
	return result
}

// AccountWithIndex pairs an account with its index in the manager's account slice.
type AccountWithIndex struct {
	Account *redis.Account
	Index   int
}

// OnSuccess is called after a successful request. Default: no-op.
func (s *BaseStrategy) OnSuccess(account *redis.Account, modelID string) {}

// OnRateLimit is called when a request is rate-limited. Default: no-op.
func (s *BaseStrategy) OnRateLimit(account *redis.Account, modelID string) {}

// OnFailure is called when a request fails. Default: no-op.
func (s *BaseStrategy) OnFailure(account *redis.Account, modelID string) {}
