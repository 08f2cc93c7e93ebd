package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	DatabaseURL     string
	HTTPAddr        string
	PollInterval    time.Duration
	SyncInterval    time.Duration
	ActionInterval  time.Duration
	ShutdownTimeout time.Duration
	MaxRetries      int
	SyncConcurrency int

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string

	TokenEncryptionKey string
	CronSecret         string
	JWTSecret          string
	FrontendURL        string

	// Gmail push notifications; disabled when GoogleProjectID is empty.
	GoogleProjectID       string
	PubSubTopic           string
	PubSubSubscription    string
	GoogleCredentialsFile string

	NATSURL string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		DatabaseURL:     dbURL,
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		PollInterval:    getDuration("POLL_INTERVAL", 10*time.Second),
		SyncInterval:    getDuration("SYNC_INTERVAL", 5*time.Minute),
		ActionInterval:  getDuration("ACTION_INTERVAL", 60*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxRetries:      getInt("MAX_RETRIES", 3),
		SyncConcurrency: getInt("SYNC_CONCURRENCY", 10),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", "http://localhost:8080/api/oauth/google/callback"),

		TokenEncryptionKey: os.Getenv("TOKEN_ENCRYPTION_KEY"),
		CronSecret:         os.Getenv("CRON_SECRET"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:3000"),

		GoogleProjectID:       os.Getenv("GOOGLE_PROJECT_ID"),
		PubSubTopic:           getEnv("GMAIL_PUBSUB_TOPIC", "gmail-push"),
		PubSubSubscription:    os.Getenv("GMAIL_PUBSUB_SUBSCRIPTION"),
		GoogleCredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),

		NATSURL: os.Getenv("NATS_URL"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if cfg.PubSubSubscription == "" {
		cfg.PubSubSubscription = cfg.PubSubTopic + "-sub"
	}

	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		log.Warn().Msg("GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set, Gmail API will not work")
	}
	if cfg.TokenEncryptionKey == "" {
		log.Warn().Msg("TOKEN_ENCRYPTION_KEY not set, stored tokens cannot be read or written")
	}

	return cfg, nil
}

// PushEnabled reports whether Gmail push notifications should be consumed.
func (c *Config) PushEnabled() bool {
	return c.GoogleProjectID != ""
}

// PushTopicName is the fully qualified Pub/Sub topic passed to Gmail watch.
func (c *Config) PushTopicName() string {
	if !c.PushEnabled() {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", c.GoogleProjectID, c.PubSubTopic)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
		return fallback
	}
	return d
}
