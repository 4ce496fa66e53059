// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Supported news sources and cache backends.
const (
	SourceNaver = "naver"
	SourceRSS   = "rss"

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// DefaultRSSSearchURL is a Google News search feed with a %s query placeholder.
const DefaultRSSSearchURL = "https://news.google.com/rss/search?q=%s&hl=ko&gl=KR&ceid=KR:ko"

// Config holds the application configuration.
type Config struct {
	LogLevel      string
	DatabasePath  string
	WatchlistPath string
	OpsAddr       string

	NewsSource        string
	NaverClientID     string
	NaverClientSecret string
	NaverBaseURL      string
	RSSSearchURL      string
	NewsRateInterval  time.Duration

	QueryTimeout        time.Duration
	ComputeTimeout      time.Duration
	SimilarityThreshold float64
	MaxQueries          int
	MaxResults          int
	FetchConcurrency    int

	CacheBackend     string
	RedisURL         string
	CacheMaxEntries  int
	SchedulerTTL     time.Duration
	OnDemandTTL      time.Duration
	SchedulerWorkers int

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	TelegramBotToken string
	AllowedUsers     []int64
	AlertChatIDs     []int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var r envReader
	cfg := &Config{
		LogLevel:      r.str("LOG_LEVEL", "info"),
		DatabasePath:  r.str("DATABASE_PATH", "./data/engine.db"),
		WatchlistPath: r.str("WATCHLIST_PATH", ""),
		OpsAddr:       r.str("OPS_ADDR", ":8080"),

		NewsSource:        strings.ToLower(r.str("NEWS_SOURCE", SourceNaver)),
		NaverClientID:     r.str("NAVER_CLIENT_ID", ""),
		NaverClientSecret: r.str("NAVER_CLIENT_SECRET", ""),
		NaverBaseURL:      r.str("NAVER_BASE_URL", "https://openapi.naver.com"),
		RSSSearchURL:      r.str("RSS_SEARCH_URL", DefaultRSSSearchURL),
		NewsRateInterval:  r.duration("NEWS_RATE_INTERVAL", 100*time.Millisecond),

		QueryTimeout:        r.duration("QUERY_TIMEOUT", 10*time.Second),
		ComputeTimeout:      r.duration("COMPUTE_TIMEOUT", time.Minute),
		SimilarityThreshold: r.float("SIMILARITY_THRESHOLD", 0.78),
		MaxQueries:          r.integer("MAX_QUERIES", 5),
		MaxResults:          r.integer("MAX_RESULTS", 100),
		FetchConcurrency:    r.integer("FETCH_CONCURRENCY", 4),

		CacheBackend:     strings.ToLower(r.str("CACHE_BACKEND", BackendMemory)),
		RedisURL:         r.str("REDIS_URL", "redis://localhost:6379/0"),
		CacheMaxEntries:  r.integer("CACHE_MAX_ENTRIES", 1024),
		SchedulerTTL:     r.duration("SCHEDULER_TTL", 30*time.Minute),
		OnDemandTTL:      r.duration("ON_DEMAND_TTL", 5*time.Minute),
		SchedulerWorkers: r.integer("SCHEDULER_WORKERS", 2),

		OpenAIAPIKey:  r.str("OPENAI_API_KEY", ""),
		OpenAIModel:   r.str("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: r.str("OPENAI_BASE_URL", ""),

		TelegramBotToken: r.str("TELEGRAM_BOT_TOKEN", ""),
		AllowedUsers:     r.ids("ALLOWED_USERS"),
		AlertChatIDs:     r.ids("ALERT_CHAT_IDS"),
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.NewsSource {
	case SourceNaver:
		if c.NaverClientID == "" || c.NaverClientSecret == "" {
			return fmt.Errorf("NAVER_CLIENT_ID and NAVER_CLIENT_SECRET are required for the naver source")
		}
	case SourceRSS:
		if strings.Count(c.RSSSearchURL, "%s") != 1 {
			return fmt.Errorf("RSS_SEARCH_URL must contain exactly one %%s placeholder")
		}
	default:
		return fmt.Errorf("unknown NEWS_SOURCE %q (valid: naver, rss)", c.NewsSource)
	}

	switch c.CacheBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q (valid: memory, redis)", c.CacheBackend)
	}

	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in (0, 1], got %v", c.SimilarityThreshold)
	}
	for name, v := range map[string]int{
		"MAX_QUERIES":       c.MaxQueries,
		"MAX_RESULTS":       c.MaxResults,
		"FETCH_CONCURRENCY": c.FetchConcurrency,
		"CACHE_MAX_ENTRIES": c.CacheMaxEntries,
		"SCHEDULER_WORKERS": c.SchedulerWorkers,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	for name, d := range map[string]time.Duration{
		"QUERY_TIMEOUT":   c.QueryTimeout,
		"COMPUTE_TIMEOUT": c.ComputeTimeout,
		"SCHEDULER_TTL":   c.SchedulerTTL,
		"ON_DEMAND_TTL":   c.OnDemandTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// ScoringEnabled reports whether an OpenAI key is configured.
func (c *Config) ScoringEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// ConsoleEnabled reports whether the Telegram console should start.
func (c *Config) ConsoleEnabled() bool {
	return c.TelegramBotToken != ""
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID)
}

// envReader reads typed values and keeps the first parse error.
type envReader struct {
	err error
}

func (r *envReader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(fmt.Errorf("invalid duration %q in %s: %w", raw, key, err))
		return def
	}
	return d
}

func (r *envReader) integer(key string, def int) int {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(fmt.Errorf("invalid integer %q in %s: %w", raw, key, err))
		return def
	}
	return n
}

func (r *envReader) float(key string, def float64) float64 {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.fail(fmt.Errorf("invalid number %q in %s: %w", raw, key, err))
		return def
	}
	return f
}

func (r *envReader) ids(key string) []int64 {
	var out []int64
	for _, s := range strings.Split(os.Getenv(key), ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			r.fail(fmt.Errorf("invalid ID %q in %s: %w", s, key, err))
			continue
		}
		out = append(out, id)
	}
	return out
}

func (r *envReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}
