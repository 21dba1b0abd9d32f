package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"ADDR", "LOG_LEVEL", "REDIS_URL", "DATABASE_URL",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "ANTHROPIC_API_KEY",
		"GOOGLE_API_KEY", "LOCAL_BASE_URL", "DEFAULT_PROVIDER",
		"AWS_REGION", "BEDROCK_ENABLED", "SECRETS_PREFIX",
		"SNS_TOPIC_ARN", "SQS_QUEUE_URL", "SQS_WORKER_ENABLED", "SQS_WORKERS",
		"OTLP_ENDPOINT", "ENCRYPTION_KEY", "ADMIN_USER", "ADMIN_PASSWORD_BCRYPT",
		"REQUEST_TIMEOUT", "SHUTDOWN_TIMEOUT", "DRAIN_TIMEOUT",
		"USE_DISTRIBUTED_CB", "EVENT_BUFFER_SIZE",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Addr", cfg.Addr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"OpenAIBaseURL", cfg.OpenAIBaseURL, "https://api.openai.com/v1"},
		{"LocalBaseURL", cfg.LocalBaseURL, "http://localhost:11434"},
		{"DefaultProvider", cfg.DefaultProvider, "local"},
		{"RedisURL", cfg.RedisURL, ""},
		{"DatabaseURL", cfg.DatabaseURL, ""},
	}
	for _, tt := range tests {
		if tt.got != tt.expected {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
		}
	}

	if cfg.RequestTimeout != 120*time.Second {
		t.Errorf("RequestTimeout = %v, want 120s", cfg.RequestTimeout)
	}
	if cfg.EventBufferSize != 1024 {
		t.Errorf("EventBufferSize = %d, want 1024", cfg.EventBufferSize)
	}
	if cfg.SQSWorkers != 2 {
		t.Errorf("SQSWorkers = %d, want 2", cfg.SQSWorkers)
	}
	if cfg.UseDistributedBreaker {
		t.Error("UseDistributedBreaker must default to false")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DEFAULT_PROVIDER", "openai")
	t.Setenv("BEDROCK_ENABLED", "true")
	t.Setenv("SQS_WORKERS", "8")
	t.Setenv("REQUEST_TIMEOUT", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if !cfg.BedrockEnabled {
		t.Error("BedrockEnabled = false, want true")
	}
	if cfg.SQSWorkers != 8 {
		t.Errorf("SQSWorkers = %d, want 8", cfg.SQSWorkers)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("SQS_WORKERS", "not-a-number")
	t.Setenv("REQUEST_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SQSWorkers != 2 {
		t.Errorf("SQSWorkers = %d, want default 2", cfg.SQSWorkers)
	}
	if cfg.RequestTimeout != 120*time.Second {
		t.Errorf("RequestTimeout = %v, want default 120s", cfg.RequestTimeout)
	}
}
