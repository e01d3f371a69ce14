package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	envPrefix = "READAPI"

	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultLogLevel      = "info"
	defaultDriver        = DriverSQLite
	defaultDatabasePath  = "read-api.db"
	defaultAuthIssuer    = "read-auth"
	defaultCookieName    = "app_session"
	defaultRedditAPIURL  = "https://oauth.reddit.com"
	defaultRedditAgent   = "read-api/1.0"
	defaultRedditTimeout = 10 * time.Second
	defaultLLMModel      = "gpt-4o-mini"
	defaultLLMTimeout    = 60 * time.Second
	defaultLLMParallel   = 4
	defaultCacheBackend  = CacheDatabase
	defaultReportsCron   = "0 0 7 * * *"
	defaultStaleAfter    = 18 * time.Hour
	defaultFetchTimeout  = 8 * time.Second
)

var defaultAllowedModels = []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini"}

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Supported feed cache backends.
const (
	CacheDatabase = "database"
	CacheRedis    = "redis"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string
	LogLevel       string
	LogFile        string

	Database DatabaseConfig
	Auth     AuthConfig
	Reddit   RedditConfig
	LLM      LLMConfig
	Cache    CacheConfig
	Feed     FeedConfig
	Reports  ReportsConfig
}

type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

type AuthConfig struct {
	SigningSecret string
	Issuer        string
	CookieName    string
}

type RedditConfig struct {
	APIURL    string
	UserAgent string
	Timeout   time.Duration
}

// LLMConfig leaves the summarizer disabled when APIKey is empty.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	DefaultModel   string
	AllowedModels  []string
	Timeout        time.Duration
	MaxConcurrency int64
}

type CacheConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type FeedConfig struct {
	PostLimit           int
	SubredditFanout     int
	PerSubredditLimit   int
	RecommendationLimit int
	FetchTimeout        time.Duration
}

// ReportsConfig schedules the report sweep. An empty Schedule disables it.
type ReportsConfig struct {
	Schedule   string
	StaleAfter time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")

	configViper.SetDefault("database.driver", defaultDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")

	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)

	configViper.SetDefault("reddit.api_url", defaultRedditAPIURL)
	configViper.SetDefault("reddit.user_agent", defaultRedditAgent)
	configViper.SetDefault("reddit.timeout", defaultRedditTimeout)

	configViper.SetDefault("llm.api_key", "")
	configViper.SetDefault("llm.base_url", "")
	configViper.SetDefault("llm.default_model", defaultLLMModel)
	configViper.SetDefault("llm.allowed_models", defaultAllowedModels)
	configViper.SetDefault("llm.timeout", defaultLLMTimeout)
	configViper.SetDefault("llm.max_concurrency", defaultLLMParallel)

	configViper.SetDefault("cache.backend", defaultCacheBackend)
	configViper.SetDefault("redis.addr", "127.0.0.1:6379")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)

	configViper.SetDefault("feed.post_limit", 25)
	configViper.SetDefault("feed.subreddit_fanout", 10)
	configViper.SetDefault("feed.per_subreddit_limit", 15)
	configViper.SetDefault("feed.recommendation_limit", 5)
	configViper.SetDefault("feed.fetch_timeout", defaultFetchTimeout)

	configViper.SetDefault("reports.schedule", defaultReportsCron)
	configViper.SetDefault("reports.stale_after", defaultStaleAfter)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		AllowedOrigins: splitList(configViper.GetStringSlice("http.allowed_origins")),
		LogLevel:       configViper.GetString("log.level"),
		LogFile:        strings.TrimSpace(configViper.GetString("log.file")),
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:   configViper.GetString("database.path"),
			DSN:    configViper.GetString("database.dsn"),
		},
		Auth: AuthConfig{
			SigningSecret: configViper.GetString("auth.signing_secret"),
			Issuer:        configViper.GetString("auth.issuer"),
			CookieName:    configViper.GetString("auth.cookie_name"),
		},
		Reddit: RedditConfig{
			APIURL:    configViper.GetString("reddit.api_url"),
			UserAgent: configViper.GetString("reddit.user_agent"),
			Timeout:   configViper.GetDuration("reddit.timeout"),
		},
		LLM: LLMConfig{
			APIKey:         configViper.GetString("llm.api_key"),
			BaseURL:        configViper.GetString("llm.base_url"),
			DefaultModel:   configViper.GetString("llm.default_model"),
			AllowedModels:  splitList(configViper.GetStringSlice("llm.allowed_models")),
			Timeout:        configViper.GetDuration("llm.timeout"),
			MaxConcurrency: configViper.GetInt64("llm.max_concurrency"),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(strings.TrimSpace(configViper.GetString("cache.backend"))),
			RedisAddr:     configViper.GetString("redis.addr"),
			RedisPassword: configViper.GetString("redis.password"),
			RedisDB:       configViper.GetInt("redis.db"),
		},
		Feed: FeedConfig{
			PostLimit:           configViper.GetInt("feed.post_limit"),
			SubredditFanout:     configViper.GetInt("feed.subreddit_fanout"),
			PerSubredditLimit:   configViper.GetInt("feed.per_subreddit_limit"),
			RecommendationLimit: configViper.GetInt("feed.recommendation_limit"),
			FetchTimeout:        configViper.GetDuration("feed.fetch_timeout"),
		},
		Reports: ReportsConfig{
			Schedule:   strings.TrimSpace(configViper.GetString("reports.schedule")),
			StaleAfter: configViper.GetDuration("reports.stale_after"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// Env vars arrive as a single comma separated string.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.Auth.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.Auth.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.Cache.Backend {
	case CacheDatabase:
	case CacheRedis:
		if strings.TrimSpace(c.Cache.RedisAddr) == "" {
			return fmt.Errorf("redis.addr is required for the redis cache")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}
	if c.Feed.PostLimit < 0 || c.Feed.SubredditFanout < 0 || c.Feed.PerSubredditLimit < 0 || c.Feed.RecommendationLimit < 0 {
		return fmt.Errorf("feed limits must not be negative")
	}
	if c.Reports.Schedule != "" {
		if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(c.Reports.Schedule); err != nil {
			return fmt.Errorf("reports.schedule is invalid: %w", err)
		}
	}
	if c.Reports.StaleAfter <= 0 {
		return fmt.Errorf("reports.stale_after must be positive")
	}
	return nil
}
