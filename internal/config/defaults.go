package config

import "time"

// Default constants for application configuration
const (
	DefaultLogLevel              = "info"
	DefaultJSONLog               = false
	DefaultLogMaxSizeMB          = 10
	DefaultLogMaxBackups         = 3
	DefaultLogMaxAgeDays         = 28
	DefaultHTTPTimeout           = 15 * time.Second
	DefaultBrowserTimeout        = 30 * time.Second
	DefaultBrowserHeadless       = true
	DefaultStaticRateLimitRPS    = 5.0
	DefaultStaticRateLimitBurst  = 10
	DefaultDynamicRateLimitRPS   = 3.0
	DefaultDynamicRateLimitBurst = 5
	DefaultRetryBackoff          = time.Second
	DefaultProxyCooldown         = 5 * time.Minute
	DefaultCacheEnabled          = false
	DefaultCacheTTL              = 5 * time.Minute
	DefaultCacheMaxSizeBytes     = 64 * 1024 * 1024 // 64MB
	DefaultBatchConcurrency      = 0                // auto
	MaxBatchConcurrency          = 200
	DefaultServerAddr            = ":8080"
)

// defaultKeys maps every config key to its default. Keys must be listed here
// for KHOJ_* environment overrides to apply.
var defaultKeys = map[string]interface{}{
	"log.level":               DefaultLogLevel,
	"log.json":                DefaultJSONLog,
	"log.file":                "",
	"log.max_size_mb":         DefaultLogMaxSizeMB,
	"log.max_backups":         DefaultLogMaxBackups,
	"log.max_age_days":        DefaultLogMaxAgeDays,
	"http.timeout":            DefaultHTTPTimeout,
	"http.chrome_tls":         true,
	"browser.timeout":         DefaultBrowserTimeout,
	"browser.headless":        DefaultBrowserHeadless,
	"browser.chrome_path":     "",
	"user_agents":             []string{},
	"ratelimit.static_rps":    DefaultStaticRateLimitRPS,
	"ratelimit.static_burst":  DefaultStaticRateLimitBurst,
	"ratelimit.dynamic_rps":   DefaultDynamicRateLimitRPS,
	"ratelimit.dynamic_burst": DefaultDynamicRateLimitBurst,
	"retry.initial_backoff":   DefaultRetryBackoff,
	"proxy.cooldown":          DefaultProxyCooldown,
	"cache.enabled":           DefaultCacheEnabled,
	"cache.ttl":               DefaultCacheTTL,
	"cache.max_size_bytes":    DefaultCacheMaxSizeBytes,
	"batch.concurrency":       DefaultBatchConcurrency,
	"server.addr":             DefaultServerAddr,
	"server.api_keys":         []string{},
	"webhook.url":             "",
	"webhook.secret":          "",
}
