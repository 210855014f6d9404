package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the lancet application configuration.
type Config struct {
	Environment string          `toml:"environment" validate:"oneof=development production"`
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	DNS         DNSConfig       `toml:"dns"`
	IPv6        IPv6Config      `toml:"ipv6"`
	Session     SessionConfig   `toml:"session"`
	Challenge   ChallengeConfig `toml:"challenge"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
	Profile     ProfileConfig   `toml:"profile"`
	Fetch       FetchConfig     `toml:"fetch"`
	Browser     BrowserConfig   `toml:"browser"`
	Budget      BudgetConfig    `toml:"budget"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Verify      VerifyConfig    `toml:"verify"`
	Gemini      GeminiConfig    `toml:"gemini"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default: "15:04:05.000"
}

// StorageConfig locates the sqlite job store and the badger state store.
type StorageConfig struct {
	SQLitePath     string `toml:"sqlite_path"`     // jobs/task_budgets/edges/fragments/claims database
	BadgerPath     string `toml:"badger_path"`     // sessions/dns cache/ipv6 stats KV
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// DNSConfig governs proxy route selection and resolution-cache behaviour.
type DNSConfig struct {
	TorProxyAddr  string        `toml:"tor_proxy_addr"`  // e.g. "127.0.0.1:9050"
	DirectCacheTTL time.Duration `toml:"direct_cache_ttl"`
	LeakCheckEnabled bool `toml:"leak_check_enabled"`
}

// IPv6Config governs the Happy-Eyeballs dialer and per-domain EMA learning.
type IPv6Config struct {
	Enabled        bool          `toml:"enabled"`
	RaceDelay      time.Duration `toml:"race_delay"`       // held by the IPv6 manager; attempts run one at a time with no staggered start
	EMAAlpha       float64       `toml:"ema_alpha"`        // default 0.1
	MinSamples     int           `toml:"min_samples"`      // samples required before auto-disable can trigger
	FailureThreshold float64     `toml:"failure_threshold"` // IPv6 success-rate EMA below which IPv6 is disabled for a domain
}

// SessionConfig governs cookie/header transfer between browser and HTTP client.
type SessionConfig struct {
	MaxSessions int           `toml:"max_sessions"` // LRU bound
	SessionTTL  time.Duration `toml:"session_ttl"`
}

// ChallengeConfig governs the challenge/CAPTCHA detector.
type ChallengeConfig struct {
	Enabled bool `toml:"enabled"`
}

// RateLimitConfig governs per-domain request pacing.
type RateLimitConfig struct {
	DefaultRequestsPerSecond float64       `toml:"default_requests_per_second"`
	DefaultBurst             int           `toml:"default_burst"`
	Jitter                   time.Duration `toml:"jitter"`
}

// ProfileConfig governs the browser-fingerprint audit.
type ProfileConfig struct {
	Enabled     bool          `toml:"enabled"`
	AuditPeriod time.Duration `toml:"audit_period"`
}

// FetchConfig governs the HTTP fetcher.
type FetchConfig struct {
	UserAgent      string        `toml:"user_agent"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	MaxBodySize    int64         `toml:"max_body_size"`
}

// BrowserConfig governs the real-browser fetcher.
type BrowserConfig struct {
	RemoteDebugHost   string        `toml:"remote_debug_host"`  // host the attached browser listens on
	DebugPortBase     int           `toml:"debug_port_base"`    // worker i attaches to DebugPortBase+i (deterministic port-per-worker mapping)
	AutoStartScript   string        `toml:"auto_start_script"`  // project script invoked to launch the browser when unreachable
	AttachTimeout     time.Duration `toml:"attach_timeout"`     // initial attach timeout (spec: <=6s)
	AutoStartPollTimeout time.Duration `toml:"auto_start_poll_timeout"` // post-auto-start polling timeout (spec: <=15s)
	NavigationTimeout time.Duration `toml:"navigation_timeout"`
	PoolSize          int           `toml:"pool_size"`
}

// BudgetConfig governs per-task admission accounting.
type BudgetConfig struct {
	WarmupWindow       time.Duration `toml:"warmup_window"` // default 30s; the LLM-ratio check is skipped until it elapses (page and time limits apply from the start)
	DefaultMaxPages    int           `toml:"default_max_pages"`
	DefaultMaxTime     time.Duration `toml:"default_max_time"`
	DefaultMaxLLMRatio float64       `toml:"default_max_llm_ratio"`
}

// SchedulerConfig governs the job scheduler and worker pool.
type SchedulerConfig struct {
	PollInterval       time.Duration `toml:"poll_interval"`
	Slots              map[string]int `toml:"slots"` // slot name -> concurrent worker count
	StaleClaimTimeout  time.Duration `toml:"stale_claim_timeout"`
}

// VerifyConfig governs cross-verification.
type VerifyConfig struct {
	RecallLimit         int     `toml:"recall_limit"`
	NLIBatchSize        int     `toml:"nli_batch_size"`
	MaxDomains          int     `toml:"max_domains"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	SaveNeutral         bool    `toml:"save_neutral"`
}

// GeminiConfig configures the genai embed/NLI client used by cross-verification.
type GeminiConfig struct {
	APIKey     string `toml:"api_key"`
	EmbedModel string `toml:"embed_model"`
	NLIModel   string `toml:"nli_model"`
}

// NewDefaultConfig creates a configuration with sensible defaults.
// Technical parameters are hardcoded here for production stability;
// only user-facing settings should be exposed in lancet.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Storage: StorageConfig{
			SQLitePath: "./data/lancet.db",
			BadgerPath: "./data/badger",
		},
		DNS: DNSConfig{
			TorProxyAddr:     "127.0.0.1:9050",
			DirectCacheTTL:   10 * time.Minute,
			LeakCheckEnabled: true,
		},
		IPv6: IPv6Config{
			Enabled:          true,
			RaceDelay:        300 * time.Millisecond,
			EMAAlpha:         0.1,
			MinSamples:       5,
			FailureThreshold: 0.5,
		},
		Session: SessionConfig{
			MaxSessions: 500,
			SessionTTL:  24 * time.Hour,
		},
		Challenge: ChallengeConfig{
			Enabled: true,
		},
		RateLimit: RateLimitConfig{
			DefaultRequestsPerSecond: 1,
			DefaultBurst:             1,
			Jitter:                   250 * time.Millisecond,
		},
		Profile: ProfileConfig{
			Enabled:     true,
			AuditPeriod: 1 * time.Hour,
		},
		Fetch: FetchConfig{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestTimeout: 30 * time.Second,
			MaxBodySize:    20 * 1024 * 1024,
		},
		Browser: BrowserConfig{
			RemoteDebugHost:      "localhost",
			DebugPortBase:        9222,
			AutoStartScript:      "./scripts/start-browser.sh",
			AttachTimeout:        6 * time.Second,
			AutoStartPollTimeout: 15 * time.Second,
			NavigationTimeout:    45 * time.Second,
			PoolSize:             3,
		},
		Budget: BudgetConfig{
			WarmupWindow:       30 * time.Second,
			DefaultMaxPages:    50,
			DefaultMaxTime:     30 * time.Minute,
			DefaultMaxLLMRatio: 0.4,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 500 * time.Millisecond,
			Slots: map[string]int{
				"gpu":             1,
				"browser_headful": 1,
				"network_client":  4,
				"cpu_nlp":         8,
			},
			StaleClaimTimeout: 10 * time.Minute,
		},
		Verify: VerifyConfig{
			RecallLimit:         20,
			NLIBatchSize:        8,
			MaxDomains:          5,
			ConfidenceThreshold: 0.7,
			SaveNeutral:         false,
		},
		Gemini: GeminiConfig{
			EmbedModel: "text-embedding-004",
			NLIModel:   "gemini-3-flash-preview",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("LANCET_ENV"); env != "" {
		config.Environment = env
	}
	if port := os.Getenv("LANCET_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("LANCET_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if level := os.Getenv("LANCET_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if sqlitePath := os.Getenv("LANCET_SQLITE_PATH"); sqlitePath != "" {
		config.Storage.SQLitePath = sqlitePath
	}
	if badgerPath := os.Getenv("LANCET_BADGER_PATH"); badgerPath != "" {
		config.Storage.BadgerPath = badgerPath
	}
	if torAddr := os.Getenv("LANCET_TOR_PROXY_ADDR"); torAddr != "" {
		config.DNS.TorProxyAddr = torAddr
	}
	if apiKey := os.Getenv("LANCET_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	} else if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if remoteDebugHost := os.Getenv("LANCET_BROWSER_REMOTE_DEBUG_HOST"); remoteDebugHost != "" {
		config.Browser.RemoteDebugHost = remoteDebugHost
	}
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
