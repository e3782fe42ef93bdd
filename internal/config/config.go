package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	MetricsAddr string
	DatabaseURL string
	SecretKey   string
	AdminSecret string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	Environment string
	LogLevel    string
	RedisURL    string
	Moderation  Moderation
	AutoReply   AutoReply
	RateLimits  RateLimits
}

type Moderation struct {
	Enabled  bool
	APIURL   string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type AutoReply struct {
	Enabled      bool
	GenAIAPIKey  string
	Model        string
	Tag          string
	DefaultDelay int
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	Workers      int
}

type RateLimits struct {
	PostPerMinute    int
	CommentPerMinute int
	AuthPerMinute    int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; variables already set take precedence.
func Load() Config {
	_ = godotenv.Load()

	addr := envString("SCRIBE_ADDR", "")
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}
	cfg := Config{
		Addr:        addr,
		MetricsAddr: envString("SCRIBE_METRICS_ADDR", ":9090"),
		DatabaseURL: envString("DATABASE_URL", "scribe.db"),
		SecretKey:   envString("SECRET_KEY", "dev-secret-key"),
		AdminSecret: envString("SCRIBE_ADMIN_SECRET", "dev-admin-secret"),
		AccessTTL:   envDuration("ACCESS_TOKEN_TTL", 30*time.Minute),
		RefreshTTL:  envDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		Environment: envString("ENVIRONMENT", "development"),
		LogLevel:    envString("LOG_LEVEL", "info"),
		RedisURL:    envString("REDIS_URL", ""),
		Moderation: Moderation{
			Enabled:  envBool("MODERATION_ENABLED", true),
			APIURL:   envString("MODERATION_API_URL", ""),
			APIKey:   envString("MODERATION_API_KEY", ""),
			Timeout:  envDuration("MODERATION_TIMEOUT", 10*time.Second),
			CacheTTL: envDuration("VERDICT_CACHE_TTL", 10*time.Minute),
		},
		AutoReply: AutoReply{
			Enabled:      envBool("AUTO_REPLY_ENABLED", true),
			GenAIAPIKey:  envString("GOOGLE_AI_API_KEY", ""),
			Model:        envString("GENAI_MODEL", "gemini-2.5-flash"),
			Tag:          os.Getenv("AUTO_REPLY_TAG"),
			DefaultDelay: envInt("DEFAULT_AUTO_REPLY_DELAY", 60),
			Timeout:      envDuration("GENERATION_TIMEOUT", 15*time.Second),
			MaxAttempts:  envInt("AUTO_REPLY_MAX_ATTEMPTS", 3),
			RetryBackoff: envDuration("AUTO_REPLY_RETRY_BACKOFF", 60*time.Second),
			Workers:      envInt("AUTO_REPLY_WORKERS", 4),
		},
		RateLimits: RateLimits{
			PostPerMinute:    envInt("SCRIBE_RL_POST_PER_MIN", 10),
			CommentPerMinute: envInt("SCRIBE_RL_COMMENT_PER_MIN", 30),
			AuthPerMinute:    envInt("SCRIBE_RL_AUTH_PER_MIN", 20),
		},
	}

	return cfg
}

// IsPostgres reports whether DatabaseURL points at a Postgres server rather
// than a sqlite file.
func (c Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// bare integers are seconds
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
