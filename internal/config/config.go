// Package config provides runtime configuration management.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/poemonsense/antigravity-proxy-go/internal/utils"
)

// HealthScoreConfig configures the health scoring for hybrid strategy
type HealthScoreConfig struct {
	Initial          float64 `json:"initial"`
	SuccessReward    float64 `json:"successReward"`
	RateLimitPenalty float64 `json:"rateLimitPenalty"`
	FailurePenalty   float64 `json:"failurePenalty"`
	RecoveryPerHour  float64 `json:"recoveryPerHour"`
	MinUsable        float64 `json:"minUsable"`
	MaxScore         float64 `json:"maxScore"`
}

// TokenBucketConfig configures the token bucket for hybrid strategy
type TokenBucketConfig struct {
	MaxTokens       float64 `json:"maxTokens"`
	TokensPerMinute float64 `json:"tokensPerMinute"`
	InitialTokens   float64 `json:"initialTokens"`
}

// QuotaConfig configures quota thresholds for hybrid strategy
type QuotaConfig struct {
	LowThreshold      float64 `json:"lowThreshold"`
	CriticalThreshold float64 `json:"criticalThreshold"`
	StaleMs           int64   `json:"staleMs"`
	UnknownScore      float64 `json:"unknownScore"`
}

// AccountSelectionConfig configures account selection behavior
type AccountSelectionConfig struct {
	Strategy    string             `json:"strategy"`
	HealthScore *HealthScoreConfig `json:"healthScore,omitempty"`
	TokenBucket *TokenBucketConfig `json:"tokenBucket,omitempty"`
	Quota       *QuotaConfig       `json:"quota,omitempty"`
}

// QuotaProtectionConfig configures the per-model quota protection engine (spec.md §4.6).
type QuotaProtectionConfig struct {
	Enabled         bool     `json:"enabled"`
	ThresholdPct    float64  `json:"thresholdPct"`
	MonitoredModels []string `json:"monitoredModels"`
}

// WarmupConfig configures the scheduled warmup scanner (spec.md §4.6).
type WarmupConfig struct {
	Enabled         bool     `json:"enabled"`
	MonitoredModels []string `json:"monitoredModels"`
	CooldownSeconds int64    `json:"cooldownSeconds"`
	BatchSize       int      `json:"batchSize"`
	BatchSpacingMs  int64    `json:"batchSpacingMs"`
}

// ProxyPoolConfig configures the proxy pool's health-check behavior (spec.md §4.4).
type ProxyPoolConfig struct {
	Enabled           bool                     `json:"enabled"`
	Strategy          ProxySelectionStrategy   `json:"strategy"`
	HealthCheckURL    string                   `json:"healthCheckUrl"`
	CheckIntervalMs   int64                    `json:"checkIntervalMs"`
	MaxConcurrentChecks int                    `json:"maxConcurrentChecks"`
}

// UserTokenConfig configures inbound user-token enforcement (spec.md §4.7).
// When disabled, the router admits every request without a Bearer token check.
type UserTokenConfig struct {
	Enabled bool `json:"enabled"`
}

// Config represents the runtime configuration
type Config struct {
	mu sync.RWMutex

	// API access
	APIKey        string `json:"apiKey"`
	WebUIPassword string `json:"webuiPassword"`

	// Logging and debugging
	Debug    bool   `json:"debug"`
	DevMode  bool   `json:"devMode"`
	LogLevel string `json:"logLevel"`

	// Retry configuration
	MaxRetries  int   `json:"maxRetries"`
	RetryBaseMs int64 `json:"retryBaseMs"`
	RetryMaxMs  int64 `json:"retryMaxMs"`

	// Token handling
	PersistTokenCache bool `json:"persistTokenCache"`

	// Cooldown configuration
	DefaultCooldownMs    int64 `json:"defaultCooldownMs"`
	MaxWaitBeforeErrorMs int64 `json:"maxWaitBeforeErrorMs"`

	// Account limits
	MaxAccounts          int     `json:"maxAccounts"`
	GlobalQuotaThreshold float64 `json:"globalQuotaThreshold"`

	// Rate limit handling
	RateLimitDedupWindowMs int64 `json:"rateLimitDedupWindowMs"`
	MaxConsecutiveFailures int   `json:"maxConsecutiveFailures"`
	ExtendedCooldownMs     int64 `json:"extendedCooldownMs"`
	MaxCapacityRetries     int   `json:"maxCapacityRetries"`

	// Model mapping (for hiding/aliasing models, and the custom/wildcard
	// routing layer on top of the built-in map - see internal/routing)
	ModelMapping map[string]string `json:"modelMapping"`

	// Account selection strategy
	AccountSelection AccountSelectionConfig `json:"accountSelection"`

	// Quota protection, scheduled warmup, proxy pool - supplemented features
	QuotaProtection QuotaProtectionConfig `json:"quotaProtection"`
	Warmup          WarmupConfig          `json:"warmup"`
	ProxyPool       ProxyPoolConfig       `json:"proxyPool"`
	UserToken       UserTokenConfig       `json:"userToken"`

	// Redis configuration
	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"redisPassword"`
	RedisDB       int    `json:"redisDB"`

	// Server configuration
	Port int    `json:"port"`
	Host string `json:"host"`

	// Fallback configuration
	FallbackEnabled bool `json:"fallbackEnabled"`

	// DataDir is the root of the persisted-state directory (accounts.json,
	// warmup_history.json, the user-token sqlite db, proxy pool config).
	DataDir string `json:"dataDir"`
}

// DefaultConfig returns a new Config with default values
func DefaultConfig() *Config {
	return &Config{
		APIKey:               "",
		WebUIPassword:        "",
		Debug:                false,
		DevMode:              false,
		LogLevel:             "info",
		MaxRetries:           5,
		RetryBaseMs:          1000,
		RetryMaxMs:           30000,
		PersistTokenCache:    false,
		DefaultCooldownMs:    10000,  // 10 seconds
		MaxWaitBeforeErrorMs: 120000, // 2 minutes
		MaxAccounts:          10,
		GlobalQuotaThreshold: 0, // 0 = disabled
		RateLimitDedupWindowMs: RateLimitDedupWindowMs,
		MaxConsecutiveFailures: MaxConsecutiveFailures,
		ExtendedCooldownMs:     ExtendedCooldownMs,
		MaxCapacityRetries:     MaxCapacityRetries,
		ModelMapping:           make(map[string]string),
		AccountSelection: AccountSelectionConfig{
			Strategy: DefaultSelectionStrategy,
			HealthScore: &HealthScoreConfig{
				Initial:          70,
				SuccessReward:    1,
				RateLimitPenalty: -10,
				FailurePenalty:   -20,
				RecoveryPerHour:  2,
				MinUsable:        50,
				MaxScore:         100,
			},
			TokenBucket: &TokenBucketConfig{
				MaxTokens:       50,
				TokensPerMinute: 6,
				InitialTokens:   50,
			},
			Quota: &QuotaConfig{
				LowThreshold:      0.10,
				CriticalThreshold: 0.05,
				StaleMs:           300000, // 5 minutes
			},
		},
		QuotaProtection: QuotaProtectionConfig{
			Enabled:         true,
			ThresholdPct:    DefaultQuotaProtectionThresholdPct,
			MonitoredModels: append([]string{}, StandardModelIDs...),
		},
		Warmup: WarmupConfig{
			Enabled:         false,
			MonitoredModels: append([]string{}, StandardModelIDs...),
			CooldownSeconds: WarmupCooldownSeconds,
			BatchSize:       WarmupBatchSize,
			BatchSpacingMs:  WarmupBatchSpacingMs,
		},
		ProxyPool: ProxyPoolConfig{
			Enabled:             false,
			Strategy:            ProxyStrategyRoundRobin,
			HealthCheckURL:      ProxyHealthCheckDefaultURL,
			CheckIntervalMs:     ProxyHealthCheckMinIntervalMs,
			MaxConcurrentChecks: ProxyHealthCheckConcurrency,
		},
		UserToken: UserTokenConfig{
			Enabled: false,
		},
		RedisAddr:       "localhost:6379",
		RedisPassword:   "",
		RedisDB:         0,
		Port:            DefaultPort,
		Host:            "0.0.0.0",
		FallbackEnabled: false,
		DataDir:         DataDir(),
	}
}

// Config paths
var (
	configDir  string
	configFile string
)

func init() {
	home := utils.GetHomeDir()
	configDir = filepath.Join(home, ".config", "antigravity-proxy")
	configFile = filepath.Join(configDir, "config.json")
}

// Global config instance
var (
	globalConfig     *Config
	globalConfigOnce sync.Once
)

// GetConfig returns the global config instance
func GetConfig() *Config {
	globalConfigOnce.Do(func() {
		globalConfig = DefaultConfig()
		globalConfig.Load()
	})
	return globalConfig
}

// Load loads configuration from file and environment
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := utils.EnsureDir(configDir); err != nil {
		utils.Warn("Failed to create config directory: %v", err)
	}

	if utils.FileExists(configFile) {
		if err := c.loadFromFile(configFile); err != nil {
			utils.Warn("Failed to load config from %s: %v", configFile, err)
		}
	} else {
		localConfig := filepath.Join(".", "config.json")
		if utils.FileExists(localConfig) {
			if err := c.loadFromFile(localConfig); err != nil {
				utils.Warn("Failed to load local config: %v", err)
			}
		}
	}

	c.loadFromEnv()

	if c.Debug && !c.DevMode {
		c.DevMode = true
	}

	utils.SetDebug(c.Debug || c.DevMode)

	return nil
}

// loadFromFile loads config from a JSON file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	tempConfig := DefaultConfig()

	if err := json.Unmarshal(data, tempConfig); err != nil {
		return err
	}

	c.APIKey = tempConfig.APIKey
	c.WebUIPassword = tempConfig.WebUIPassword
	c.Debug = tempConfig.Debug
	c.DevMode = tempConfig.DevMode
	c.LogLevel = tempConfig.LogLevel
	c.MaxRetries = tempConfig.MaxRetries
	c.RetryBaseMs = tempConfig.RetryBaseMs
	c.RetryMaxMs = tempConfig.RetryMaxMs
	c.PersistTokenCache = tempConfig.PersistTokenCache
	c.DefaultCooldownMs = tempConfig.DefaultCooldownMs
	c.MaxWaitBeforeErrorMs = tempConfig.MaxWaitBeforeErrorMs
	c.MaxAccounts = tempConfig.MaxAccounts
	c.GlobalQuotaThreshold = tempConfig.GlobalQuotaThreshold
	c.RateLimitDedupWindowMs = tempConfig.RateLimitDedupWindowMs
	c.MaxConsecutiveFailures = tempConfig.MaxConsecutiveFailures
	c.ExtendedCooldownMs = tempConfig.ExtendedCooldownMs
	c.MaxCapacityRetries = tempConfig.MaxCapacityRetries
	c.ModelMapping = tempConfig.ModelMapping
	c.AccountSelection = tempConfig.AccountSelection
	c.QuotaProtection = tempConfig.QuotaProtection
	c.Warmup = tempConfig.Warmup
	c.ProxyPool = tempConfig.ProxyPool
	c.UserToken = tempConfig.UserToken
	c.RedisAddr = tempConfig.RedisAddr
	c.RedisPassword = tempConfig.RedisPassword
	c.RedisDB = tempConfig.RedisDB
	c.Port = tempConfig.Port
	c.Host = tempConfig.Host
	c.FallbackEnabled = tempConfig.FallbackEnabled
	c.DataDir = tempConfig.DataDir

	return nil
}

// loadFromEnv loads config from environment variables
func (c *Config) loadFromEnv() {
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("WEBUI_PASSWORD"); v != "" {
		c.WebUIPassword = v
	}
	if os.Getenv("DEBUG") == "true" {
		c.Debug = true
	}
	if os.Getenv("DEV_MODE") == "true" {
		c.DevMode = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if os.Getenv("FALLBACK") == "true" {
		c.FallbackEnabled = true
	}
	if v := os.Getenv(DataDirEnvVar); v != "" {
		c.DataDir = v
	}
}

// Save saves the current configuration to disk
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := utils.EnsureDir(configDir); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configFile, data, 0644)
}

// GetPublic returns a copy of the config with sensitive fields redacted
func (c *Config) GetPublic() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"apiKey":                 redact(c.APIKey),
		"webuiPassword":          redact(c.WebUIPassword),
		"debug":                  c.Debug,
		"devMode":                c.DevMode,
		"logLevel":               c.LogLevel,
		"maxRetries":             c.MaxRetries,
		"retryBaseMs":            c.RetryBaseMs,
		"retryMaxMs":             c.RetryMaxMs,
		"persistTokenCache":      c.PersistTokenCache,
		"defaultCooldownMs":      c.DefaultCooldownMs,
		"maxWaitBeforeErrorMs":   c.MaxWaitBeforeErrorMs,
		"maxAccounts":            c.MaxAccounts,
		"globalQuotaThreshold":   c.GlobalQuotaThreshold,
		"rateLimitDedupWindowMs": c.RateLimitDedupWindowMs,
		"maxConsecutiveFailures": c.MaxConsecutiveFailures,
		"extendedCooldownMs":     c.ExtendedCooldownMs,
		"maxCapacityRetries":     c.MaxCapacityRetries,
		"modelMapping":           c.ModelMapping,
		"accountSelection":       c.AccountSelection,
		"quotaProtection":        c.QuotaProtection,
		"warmup":                 c.Warmup,
		"proxyPool":              c.ProxyPool,
		"userToken":              c.UserToken,
		"redisAddr":              c.RedisAddr,
		"redisPassword":          redact(c.RedisPassword),
		"redisDB":                c.RedisDB,
		"port":                   c.Port,
		"host":                   c.Host,
		"fallbackEnabled":        c.FallbackEnabled,
		"dataDir":                c.DataDir,
	}
}

// GetStrategy returns the current account selection strategy
func (c *Config) GetStrategy() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AccountSelection.Strategy
}

// SetStrategy updates the account selection strategy
func (c *Config) SetStrategy(strategy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccountSelection.Strategy = strategy
}

// IsDevMode returns whether dev mode is enabled
func (c *Config) IsDevMode() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DevMode
}

// redact returns "********" if the string is non-empty, otherwise empty string
func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// Convenience functions

// GetPort returns the server port from global config
func GetPort() int {
	return GetConfig().Port
}

// GetHost returns the server host from global config
func GetHost() string {
	return GetConfig().Host
}

// IsDebug returns whether debug mode is enabled
func IsDebug() bool {
	cfg := GetConfig()
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.Debug
}

// IsDevModeEnabled returns whether dev mode is enabled
func IsDevModeEnabled() bool {
	return GetConfig().IsDevMode()
}

// GetGlobalQuotaThreshold returns the global quota threshold
func GetGlobalQuotaThreshold() float64 {
	cfg := GetConfig()
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.GlobalQuotaThreshold
}
