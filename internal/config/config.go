// Package config loads the gateway's process-wide configuration.
//
// All required values are read once at process start from the environment
// (an optional .env file is loaded first). A small YAML policy file supplies
// the handful of settings that are naturally declarative rather than scalar —
// backend health-probe tuning and upstream-path overrides — never the
// required secrets or pool URLs, which remain environment-only per the
// gateway's own contract.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the fully resolved, immutable-after-load gateway configuration.
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Pools    PoolsConfig
	RateLimit RateLimitConfig
	Admission AdmissionConfig
	Proxy    ProxyConfig
	Reaper   ReaperConfig
	Quota    QuotaConfig
	Policy   Policy
}

type ServerConfig struct {
	ListenAddr string
	Env        string // "production" or "development"
}

// AuthConfig holds the two bearer secrets spec.md §6 requires.
type AuthConfig struct {
	GatewayAPIKey string // downstream auth secret, required
	BackendAPIKey string // upstream auth secret, required
}

// PoolsConfig is the static backend membership spec.md §3/§6 requires.
type PoolsConfig struct {
	Chat     []string // CHAT_BACKENDS, >= 2 members
	Text2SQL []string // TEXT2SQL_BACKEND, single member
	Embed    []string // EMBED_BACKEND, single member
	Rerank   []string // RERANK_BACKEND, single member
}

type RateLimitConfig struct {
	MaxRPSPerIP    int     // MAX_RPS_PER_IP, default 50
	WindowSecs     float64 // RPS_WINDOW_SECS, default 1
	Burst          int     // RPS_BURST, default 100
	Algorithm      string  // RATE_LIMITER_ALGORITHM: "sliding-window" (default) | "token-bucket"
}

type AdmissionConfig struct {
	MaxInflightPerIP int     // MAX_INFLIGHT_PER_IP, default 120
	QueueTimeoutSecs float64 // QUEUE_TIMEOUT_SECS, default 2
}

type ProxyConfig struct {
	MaxRequestSecs        float64 // MAX_REQUEST_SECS, default 5400
	StreamIdleTimeoutSecs float64 // STREAM_IDLE_TIMEOUT_SECS, default 180
}

type ReaperConfig struct {
	PeriodSecs  float64 // REAPER_PERIOD, default 60
	IdleSecs    float64 // IP_IDLE_SECS, default 900
}

// QuotaConfig configures the optional, out-of-core-contract accounting hook.
type QuotaConfig struct {
	RedisAddr     string // QUOTA_REDIS_ADDR; empty disables the hook (no-op accountant)
	RedisPassword string // QUOTA_REDIS_PASSWORD
	RedisDB       int    // QUOTA_REDIS_DB
}

// Policy is the optional YAML overlay (§A.2 of SPEC_FULL.md).
type Policy struct {
	Health HealthPolicy                `yaml:"health"`
	Routes map[string]RouteOverride    `yaml:"routes"`
}

type HealthPolicy struct {
	IntervalSecs        float64 `yaml:"interval_secs"`
	FailThreshold       int     `yaml:"fail_threshold"`        // consecutive failures to mark inactive
	RecoverThreshold    int     `yaml:"recover_threshold"`     // consecutive successes to mark active again
	ProbeTimeoutSecs    float64 `yaml:"probe_timeout_secs"`
}

// RouteOverride lets an operator repoint a public path's upstream path
// without a redeploy (e.g. a backend that renames /v1/chat/completions).
type RouteOverride struct {
	UpstreamPath string `yaml:"upstream_path"`
}

var (
	instance *Config
	loadErr  error
	once     sync.Once
)

// Get returns the singleton config, loading it on first call. A malformed or
// missing required value is fatal, matching spec.md §6's exit code contract
// (the caller in cmd/gateway exits 1 on error).
func Get() (*Config, error) {
	once.Do(func() {
		instance, loadErr = Load()
	})
	return instance, loadErr
}

// Load reads configuration from the environment (and optional .env/policy
// files) without touching the process-wide singleton. Tests call this
// directly so each test case can set its own environment.
func Load() (*Config, error) {
	// Best-effort; a missing .env is normal in production deployments.
	if err := godotenv.Load(); err != nil {
		slog.Debug("config: no .env file loaded", "error", err)
	}

	cfg := &Config{}

	cfg.Server.ListenAddr = getEnv("LISTEN_ADDR", ":8080")
	cfg.Server.Env = getEnv("GATEWAY_ENV", "development")

	cfg.Auth.GatewayAPIKey = os.Getenv("GATEWAY_API_KEY")
	cfg.Auth.BackendAPIKey = os.Getenv("BACKEND_API_KEY")
	if cfg.Auth.GatewayAPIKey == "" {
		return nil, fmt.Errorf("config: GATEWAY_API_KEY is required")
	}
	if cfg.Auth.BackendAPIKey == "" {
		return nil, fmt.Errorf("config: BACKEND_API_KEY is required")
	}

	cfg.Pools.Chat = splitCSV(os.Getenv("CHAT_BACKENDS"))
	if len(cfg.Pools.Chat) < 2 {
		return nil, fmt.Errorf("config: CHAT_BACKENDS requires at least 2 comma-separated base URLs, got %d", len(cfg.Pools.Chat))
	}
	cfg.Pools.Text2SQL = requireSingle("TEXT2SQL_BACKEND")
	if cfg.Pools.Text2SQL == nil {
		return nil, fmt.Errorf("config: TEXT2SQL_BACKEND is required")
	}
	cfg.Pools.Embed = requireSingle("EMBED_BACKEND")
	if cfg.Pools.Embed == nil {
		return nil, fmt.Errorf("config: EMBED_BACKEND is required")
	}
	cfg.Pools.Rerank = requireSingle("RERANK_BACKEND")
	if cfg.Pools.Rerank == nil {
		return nil, fmt.Errorf("config: RERANK_BACKEND is required")
	}

	cfg.RateLimit.MaxRPSPerIP = getEnvInt("MAX_RPS_PER_IP", 50)
	cfg.RateLimit.WindowSecs = getEnvFloat("RPS_WINDOW_SECS", 1)
	cfg.RateLimit.Burst = getEnvInt("RPS_BURST", 100)
	cfg.RateLimit.Algorithm = getEnv("RATE_LIMITER_ALGORITHM", "sliding-window")

	cfg.Admission.MaxInflightPerIP = getEnvInt("MAX_INFLIGHT_PER_IP", 120)
	cfg.Admission.QueueTimeoutSecs = getEnvFloat("QUEUE_TIMEOUT_SECS", 2)

	cfg.Proxy.MaxRequestSecs = getEnvFloat("MAX_REQUEST_SECS", 5400)
	cfg.Proxy.StreamIdleTimeoutSecs = getEnvFloat("STREAM_IDLE_TIMEOUT_SECS", 180)

	cfg.Reaper.PeriodSecs = getEnvFloat("REAPER_PERIOD", 60)
	cfg.Reaper.IdleSecs = getEnvFloat("IP_IDLE_SECS", 900)

	cfg.Quota.RedisAddr = os.Getenv("QUOTA_REDIS_ADDR")
	cfg.Quota.RedisPassword = os.Getenv("QUOTA_REDIS_PASSWORD")
	cfg.Quota.RedisDB = getEnvInt("QUOTA_REDIS_DB", 0)

	policyPath := getEnv("GATEWAY_POLICY_PATH", "policy.yaml")
	policy, err := loadPolicy(policyPath)
	if err != nil {
		slog.Warn("config: failed to load policy file, using defaults", "path", policyPath, "error", err)
		policy = Policy{}
	}
	policy.applyDefaults()
	cfg.Policy = policy

	return cfg, nil
}

func loadPolicy(path string) (Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return Policy{}, err
	}
	defer f.Close()

	var p Policy
	if err := yaml.NewDecoder(f).Decode(&p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p *Policy) applyDefaults() {
	if p.Health.IntervalSecs == 0 {
		p.Health.IntervalSecs = 15
	}
	if p.Health.FailThreshold == 0 {
		p.Health.FailThreshold = 3
	}
	if p.Health.RecoverThreshold == 0 {
		p.Health.RecoverThreshold = 2
	}
	if p.Health.ProbeTimeoutSecs == 0 {
		p.Health.ProbeTimeoutSecs = 2
	}
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func requireSingle(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	return []string{v}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
