// Package config loads gateway configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr     string
	LogLevel string

	RedisURL    string
	DatabaseURL string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	GoogleAPIKey    string
	LocalBaseURL    string
	DefaultProvider string

	AWSRegion         string
	BedrockEnabled    bool
	SecretsPrefix     string
	SNSTopicARN       string
	SQSQueueURL       string
	SQSResultQueueURL string
	SQSWorkerEnabled  bool
	SQSWorkers        int

	OTLPEndpoint string

	EncryptionKey       string
	AdminUser           string
	AdminPasswordBcrypt string

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration

	UseDistributedBreaker bool
	EventBufferSize       int
	CacheWarmFile         string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first without overriding variables already
// set, so container environments win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:     getEnv("ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisURL:    getEnv("REDIS_URL", ""),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
		LocalBaseURL:    getEnv("LOCAL_BASE_URL", "http://localhost:11434"),
		DefaultProvider: getEnv("DEFAULT_PROVIDER", "local"),

		AWSRegion:         getEnv("AWS_REGION", ""),
		BedrockEnabled:    getBoolEnv("BEDROCK_ENABLED", false),
		SecretsPrefix:     getEnv("SECRETS_PREFIX", ""),
		SNSTopicARN:       getEnv("SNS_TOPIC_ARN", ""),
		SQSQueueURL:       getEnv("SQS_QUEUE_URL", ""),
		SQSResultQueueURL: getEnv("SQS_RESULT_QUEUE_URL", ""),
		SQSWorkerEnabled:  getBoolEnv("SQS_WORKER_ENABLED", false),
		SQSWorkers:        getIntEnv("SQS_WORKERS", 2),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),

		EncryptionKey:       getEnv("ENCRYPTION_KEY", ""),
		AdminUser:           getEnv("ADMIN_USER", ""),
		AdminPasswordBcrypt: getEnv("ADMIN_PASSWORD_BCRYPT", ""),

		RequestTimeout:  getDurationEnv("REQUEST_TIMEOUT", 120*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		DrainTimeout:    getDurationEnv("DRAIN_TIMEOUT", 15*time.Second),

		UseDistributedBreaker: getBoolEnv("USE_DISTRIBUTED_CB", false),
		EventBufferSize:       getIntEnv("EVENT_BUFFER_SIZE", 1024),
		CacheWarmFile:         getEnv("CACHE_WARM_FILE", ""),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
