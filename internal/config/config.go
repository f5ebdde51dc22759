package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/cryptoKingdom88/chainwatch/internal/pipelineerr"
)

// Config holds every value the pipeline needs, built once at startup and
// passed explicitly to each component's constructor rather than read from
// a process-wide singleton.
type Config struct {
	// Target
	TargetTokenMint string

	// Upstream provider (webhook source + admin API)
	ProviderAPIKey       string
	ProviderWebhookURL   string
	ProviderAdminBaseURL string

	// Chat channel
	ChatBotToken      string
	ChatChannelID     string
	ChatAdminUserIDs  []string

	// Push
	PushAppToken string

	// Thresholds
	ChatThresholdUSD        float64
	SingleThresholdUSD      float64
	CumulativeThresholdUSD  float64
	WindowSeconds           int64
	FiveSellsThresholdUSD   float64
	SequentialSellsEnabled  bool

	// Price oracle
	PriceTTLSeconds  int64
	DexQuoteURL      string

	// Window store backend (Redis)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Subscription registry (embedded SQLite, single file + WAL)
	RegistryPath string

	// Ingress
	HTTPPort          string
	MaxWorkers        int
	DrainTimeout      time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads environment variables (optionally from a .env file) and
// returns a validated Config, or a ConfigInvalid error describing the
// first missing required value.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Absence of a .env file is not fatal; environment variables
		// supplied by the process environment are still honored.
	}

	cfg := &Config{
		TargetTokenMint: os.Getenv("TARGET_TOKEN_MINT"),

		ProviderAPIKey:       os.Getenv("PROVIDER_API_KEY"),
		ProviderWebhookURL:   os.Getenv("PROVIDER_WEBHOOK_URL"),
		ProviderAdminBaseURL: getEnv("PROVIDER_ADMIN_BASE_URL", "https://api.helius.xyz/v0"),

		ChatBotToken:     os.Getenv("CHAT_BOT_TOKEN"),
		ChatChannelID:    os.Getenv("CHAT_CHANNEL_ID"),
		ChatAdminUserIDs: getEnvAsSlice("CHAT_ADMIN_USER_IDS", nil),

		PushAppToken: os.Getenv("PUSH_APP_TOKEN"),

		ChatThresholdUSD:       getEnvAsFloat("CHAT_THRESHOLD_USD", 500),
		SingleThresholdUSD:     getEnvAsFloat("SINGLE_THRESHOLD_USD", 300),
		CumulativeThresholdUSD: getEnvAsFloat("CUMULATIVE_THRESHOLD_USD", 300),
		WindowSeconds:          getEnvAsInt64("WINDOW_SECONDS", 3600),
		FiveSellsThresholdUSD:  getEnvAsFloat("FIVE_SELLS_THRESHOLD_USD", 300),
		SequentialSellsEnabled: getEnvAsBool("SEQUENTIAL_SELLS_ENABLED", true),

		PriceTTLSeconds: getEnvAsInt64("PRICE_TTL_SECONDS", 60),
		DexQuoteURL:     getEnv("DEX_QUOTE_URL", "https://api.dexscreener.com/latest/dex/tokens"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       int(getEnvAsInt64("REDIS_DB", 0)),
		RedisPoolSize: int(getEnvAsInt64("REDIS_POOL_SIZE", 20)),

		RegistryPath: getEnv("REGISTRY_PATH", "./data/registry.db"),

		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		MaxWorkers:   int(getEnvAsInt64("MAX_WORKERS", 64)),
		DrainTimeout: time.Duration(getEnvAsInt64("DRAIN_TIMEOUT_SECONDS", 30)) * time.Second,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.TargetTokenMint == "" {
		return fmt.Errorf("%w: TARGET_TOKEN_MINT is required", pipelineerr.ErrConfigInvalid)
	}
	if c.ProviderAPIKey == "" {
		return fmt.Errorf("%w: PROVIDER_API_KEY is required", pipelineerr.ErrConfigInvalid)
	}
	if c.ChatBotToken == "" {
		return fmt.Errorf("%w: CHAT_BOT_TOKEN is required", pipelineerr.ErrConfigInvalid)
	}
	if c.ChatChannelID == "" {
		return fmt.Errorf("%w: CHAT_CHANNEL_ID is required", pipelineerr.ErrConfigInvalid)
	}
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("%w: WINDOW_SECONDS must be positive, got %d", pipelineerr.ErrConfigInvalid, c.WindowSeconds)
	}
	if c.PriceTTLSeconds <= 0 {
		return fmt.Errorf("%w: PRICE_TTL_SECONDS must be positive, got %d", pipelineerr.ErrConfigInvalid, c.PriceTTLSeconds)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("%w: MAX_WORKERS must be positive, got %d", pipelineerr.ErrConfigInvalid, c.MaxWorkers)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
