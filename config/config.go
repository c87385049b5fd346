// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server, workers and CLI read from the environment.
type Config struct {
	Env            string
	DatabaseURL    string
	ListenAddr     string
	GatewayToken   string
	AllowedOrigins []string

	LogLevel  string
	LogFormat string

	RedisAddr       string
	RedisPassword   string
	SummaryCacheTTL time.Duration

	ReferralRefreshInterval time.Duration // 0 disables the scheduled refresh
	ReferralMaxDepth        int
	ReferralMaxNodes        int

	SyncServiceURL string
	SyncInterval   time.Duration

	R2AccountID       string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2Bucket          string
	CDNBaseURL        string

	NotifyWorkers   int
	NotifyQueueSize int
}

// Load reads .env files (most specific first, godotenv never overrides a
// variable that is already set) and then the process environment.
func Load() (*Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	_ = godotenv.Load(".env." + env + ".local")
	if env != "test" {
		_ = godotenv.Load(".env.local")
	}
	_ = godotenv.Load(".env." + env)
	_ = godotenv.Load()

	cfg := &Config{
		Env:               env,
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		ListenAddr:        getString("LISTEN_ADDR", ":5200"),
		GatewayToken:      os.Getenv("GAME_SERVICE_TOKEN"),
		AllowedOrigins:    splitList(getString("ALLOWED_ORIGINS", "http://localhost:3000")),
		LogLevel:          getString("LOG_LEVEL", "info"),
		LogFormat:         getString("LOG_FORMAT", "text"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		SyncServiceURL:    os.Getenv("SYNC_SERVICE_URL"),
		R2AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
		R2Bucket:          os.Getenv("R2_BUCKET_NAME"),
		CDNBaseURL:        os.Getenv("CDN_BASE_URL"),
	}

	var err error
	if cfg.SummaryCacheTTL, err = getDuration("SUMMARY_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReferralRefreshInterval, err = getDuration("REFERRAL_REFRESH_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = getDuration("SYNC_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReferralMaxDepth, err = getInt("REFERRAL_MAX_DEPTH", 5); err != nil {
		return nil, err
	}
	if cfg.ReferralMaxNodes, err = getInt("REFERRAL_MAX_NODES", 10000); err != nil {
		return nil, err
	}
	if cfg.NotifyWorkers, err = getInt("NOTIFY_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.NotifyQueueSize, err = getInt("NOTIFY_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the HTTP server cannot start without.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if c.GatewayToken == "" {
		return fmt.Errorf("GAME_SERVICE_TOKEN environment variable not set")
	}
	return nil
}

// R2Enabled reports whether settlement receipts can be archived.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2Bucket != ""
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, v)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a duration like 5m, got %q", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
