// Package config loads service configuration from an optional
// pricewatch.yaml and PRICEWATCH_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/use-agent/pricewatch/cleaner"
	"github.com/use-agent/pricewatch/models"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Store     StoreConfig     `mapstructure:"store"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Log       LogConfig       `mapstructure:"log"`
	Sources   []models.Source `mapstructure:"sources"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKeys []string `mapstructure:"api_keys"`
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"rps"`
	Burst             int     `mapstructure:"burst"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Type       string        `mapstructure:"type"` // none, memory, redis
	RedisURL   string        `mapstructure:"redis_url"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// FetchConfig controls the HTTP fetch path and retries.
type FetchConfig struct {
	Retries          int           `mapstructure:"retries"`
	Backoff          time.Duration `mapstructure:"backoff"`
	ScheduledTimeout time.Duration `mapstructure:"scheduled_timeout"`
	AdhocTimeout     time.Duration `mapstructure:"adhoc_timeout"`
	AcceptLanguage   string        `mapstructure:"accept_language"`
	Referer          string        `mapstructure:"referer"`
	UserAgents       []string      `mapstructure:"user_agents"`
	FragmentFormat   string        `mapstructure:"fragment_format"` // html or markdown
}

// BrowserConfig controls the headless Chromium renderer.
type BrowserConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	Headless             bool          `mapstructure:"headless"`
	NoSandbox            bool          `mapstructure:"no_sandbox"`
	Bin                  string        `mapstructure:"bin"`
	Proxy                string        `mapstructure:"proxy"`
	Stealth              bool          `mapstructure:"stealth"`
	BlockAds             bool          `mapstructure:"block_ads"`
	BlockedResourceTypes []string      `mapstructure:"blocked_resource_types"`
	NavTimeout           time.Duration `mapstructure:"nav_timeout"`
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxConcurrent        int           `mapstructure:"max_concurrent"`
	MemoryTTL            time.Duration `mapstructure:"memory_ttl"`
}

// LLMConfig selects the extraction provider.
type LLMConfig struct {
	Provider string        `mapstructure:"provider"` // gemini or openai
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects the persistence sink. An empty DatabaseURL keeps
// the latest run in memory.
type StoreConfig struct {
	DatabaseURL    string `mapstructure:"database_url"`
	MaxConns       int    `mapstructure:"max_conns"`
	SimpleProtocol bool   `mapstructure:"simple_protocol"`
	Table          string `mapstructure:"table"`
}

// ScheduleConfig controls the periodic run. Interval 0 disables it.
type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// WebhookConfig is the run-completion notification target.
type WebhookConfig struct {
	URL    string `mapstructure:"url"`
	Secret string `mapstructure:"secret"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// DefaultSources are scraped when no sources are configured.
var DefaultSources = []models.Source{
	{Name: "EcoFarmacias", URL: "https://www.ecofarmacias.cl/"},
	{Name: "Farmex", URL: "https://farmex.cl/"},
	{Name: "Meki", URL: "https://farmaciameki.cl/"},
}

// Load reads configuration from the environment and an optional config file.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigName("pricewatch")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pricewatch/")

	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindLegacyEnv(v)

	// The config file is optional.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// PRICEWATCH_SOURCES arrives as a flat string; the file form is a list.
	var envSources []models.Source
	if raw, ok := v.Get("sources").(string); ok {
		parsed, err := ParseSources(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		envSources = parsed
		v.Set("sources", []map[string]any{})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if len(envSources) > 0 {
		cfg.Sources = envSources
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = append([]models.Source(nil), DefaultSources...)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.api_keys", []string{})

	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.max_entries", 1000)

	v.SetDefault("fetch.retries", 3)
	v.SetDefault("fetch.backoff", "1s")
	v.SetDefault("fetch.scheduled_timeout", "10s")
	v.SetDefault("fetch.adhoc_timeout", "12s")
	v.SetDefault("fetch.accept_language", "es-CL,es;q=0.9")
	v.SetDefault("fetch.referer", "https://www.google.cl/")
	v.SetDefault("fetch.user_agents", []string{})
	v.SetDefault("fetch.fragment_format", cleaner.FormatHTML)

	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.proxy", "")
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.block_ads", true)
	v.SetDefault("browser.blocked_resource_types", []string{"Image", "Stylesheet", "Font", "Media"})
	v.SetDefault("browser.nav_timeout", "25s")
	v.SetDefault("browser.timeout", "60s")
	v.SetDefault("browser.max_concurrent", 2)
	v.SetDefault("browser.memory_ttl", "24h")

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.simple_protocol", false)
	v.SetDefault("store.table", "prices")

	v.SetDefault("schedule.interval", "1h")

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// bindLegacyEnv accepts the unprefixed variable names used by earlier
// deployments next to the PRICEWATCH_ ones.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("llm.api_key", "PRICEWATCH_LLM_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("cache.redis_url", "PRICEWATCH_CACHE_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("store.database_url", "PRICEWATCH_STORE_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("auth.api_keys", "PRICEWATCH_AUTH_API_KEYS", "APP_API_KEY")
}

// ParseSources reads "Name=URL" pairs separated by commas, the form used
// when sources come from a single environment variable.
func ParseSources(raw string) ([]models.Source, error) {
	var out []models.Source
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, u, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("source %q must be Name=URL", part)
		}
		out = append(out, models.Source{Name: strings.TrimSpace(name), URL: strings.TrimSpace(u)})
	}
	return out, nil
}

func validate(cfg *Config) error {
	switch cfg.Cache.Type {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("cache type must be 'none', 'memory' or 'redis', got: %s", cfg.Cache.Type)
	}
	if cfg.Cache.Type == "redis" && cfg.Cache.RedisURL == "" {
		return fmt.Errorf("redis URL is required when cache type is 'redis'")
	}

	switch cfg.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("llm provider must be 'gemini' or 'openai', got: %s", cfg.LLM.Provider)
	}

	if cfg.Fetch.Retries < 1 {
		return fmt.Errorf("fetch retries must be at least 1, got: %d", cfg.Fetch.Retries)
	}
	if cfg.Fetch.FragmentFormat != cleaner.FormatHTML && cfg.Fetch.FragmentFormat != cleaner.FormatMarkdown {
		return fmt.Errorf("fragment format must be 'html' or 'markdown', got: %s", cfg.Fetch.FragmentFormat)
	}

	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text', got: %s", cfg.Log.Format)
	}

	seen := make(map[string]struct{}, len(cfg.Sources))
	for i, src := range cfg.Sources {
		if strings.TrimSpace(src.Name) == "" {
			return fmt.Errorf("source %d has no name", i)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("source %q is configured twice", src.Name)
		}
		seen[src.Name] = struct{}{}

		u, err := url.Parse(src.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("source %q has an invalid url: %q", src.Name, src.URL)
		}
		if src.Selector != "" {
			if err := cleaner.ValidateSelector(src.Selector); err != nil {
				return fmt.Errorf("source %q has an invalid selector: %w", src.Name, err)
			}
		}
	}
	return nil
}
