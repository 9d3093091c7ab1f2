// Package quota implements the per-model quota protection engine (spec.md
// §4.6): after every successful quota refresh, saturated models are added
// to an account's protected set so the selector skips the account for
// requests targeting that standard-id, and recover once quota is restored.
// Grounded on original_source/src-tauri/src/modules/account.rs's
// update_account_quota quota-protection block.
package quota

import (
	"fmt"

	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/utils"
	"github.com/poemonsense/antigravity-proxy-go/pkg/redis"
)

// legacyQuotaProtectionReason is the reason string the pre-per-model scheme
// stamped on ProxyDisabledReason; encountering it triggers the one-way
// migration into the per-model scheme.
const legacyQuotaProtectionReason = "quota_protection"

// Apply re-evaluates acc's protected-model set against its current quota
// snapshot (acc.Quota, already populated by the caller) and cfg, mutating
// acc in place. It is a no-op if quota protection is disabled or acc has no
// quota snapshot yet. Returns true if acc.ProtectedModels changed.
func Apply(acc *redis.Account, cfg config.QuotaProtectionConfig) bool {
	if !cfg.Enabled || acc == nil || acc.Quota == nil {
		return false
	}

	monitored := make(map[string]bool, len(cfg.MonitoredModels))
	for _, id := range cfg.MonitoredModels {
		monitored[id] = true
	}

	protected := make(map[string]bool, len(acc.ProtectedModels))
	for _, id := range acc.ProtectedModels {
		protected[id] = true
	}
	changed := false

	for modelName, q := range acc.Quota.Models {
		standardID, ok := config.NormalizeToStandardID(modelName)
		if !ok || !monitored[standardID] {
			continue
		}

		pct := q.RemainingFraction * 100
		if pct <= cfg.ThresholdPct {
			if !protected[standardID] {
				utils.Info("[Quota] Triggering model protection: %s (%s [%s] remaining %.0f%% <= threshold %.0f%%)",
					acc.Email, standardID, modelName, pct, cfg.ThresholdPct)
				protected[standardID] = true
				changed = true
			}
		} else if protected[standardID] {
			utils.Info("[Quota] Model protection recovered: %s (%s [%s] quota restored to %.0f%%)",
				acc.Email, standardID, modelName, pct)
			delete(protected, standardID)
			changed = true
		}
	}

	if changed {
		acc.ProtectedModels = make([]string, 0, len(protected))
		for id := range protected {
			acc.ProtectedModels = append(acc.ProtectedModels, id)
		}
	}

	if acc.ProxyDisabled && acc.ProxyDisabledReason == legacyQuotaProtectionReason {
		utils.Info("[Quota] Migrating account %s from account-level to model-level protection", acc.Email)
		acc.ProxyDisabled = false
		acc.ProxyDisabledReason = ""
		acc.ProxyDisabledAt = 0
		changed = true
	}

	return changed
}

// IsProtected reports whether acc is currently protected for modelID,
// following the same standard-id normalisation Apply uses. Unmapped models
// (outside the three protected groups) are never protected.
func IsProtected(acc *redis.Account, modelID string) bool {
	if acc == nil || len(acc.ProtectedModels) == 0 {
		return false
	}
	standardID, ok := config.NormalizeToStandardID(modelID)
	if !ok {
		return false
	}
	for _, id := range acc.ProtectedModels {
		if id == standardID {
			return true
		}
	}
	return false
}

// Describe renders a short human-readable summary of acc's protection
// state, used by the account-limits dashboard.
func Describe(acc *redis.Account) string {
	if acc == nil || len(acc.ProtectedModels) == 0 {
		return "none"
	}
	return fmt.Sprintf("%v", acc.ProtectedModels)
}
