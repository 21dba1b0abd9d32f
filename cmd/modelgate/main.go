package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/modelgate/modelgate/internal/api"
	"github.com/modelgate/modelgate/internal/apikeys"
	"github.com/modelgate/modelgate/internal/budget"
	"github.com/modelgate/modelgate/internal/cache"
	"github.com/modelgate/modelgate/internal/circuitbreaker"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/cost"
	"github.com/modelgate/modelgate/internal/crypto"
	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/entitlement"
	"github.com/modelgate/modelgate/internal/events"
	"github.com/modelgate/modelgate/internal/gateway"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/notifications"
	"github.com/modelgate/modelgate/internal/provider"
	"github.com/modelgate/modelgate/internal/provider/anthropic"
	"github.com/modelgate/modelgate/internal/provider/bedrock"
	"github.com/modelgate/modelgate/internal/provider/google"
	"github.com/modelgate/modelgate/internal/provider/local"
	"github.com/modelgate/modelgate/internal/provider/openai"
	"github.com/modelgate/modelgate/internal/queue"
	"github.com/modelgate/modelgate/internal/ratelimit"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/repository"
	"github.com/modelgate/modelgate/internal/secrets"
	"github.com/modelgate/modelgate/internal/telemetry"
	"github.com/modelgate/modelgate/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting modelgate", "addr", cfg.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdownTracing, err := telemetry.Init(ctx, "modelgate", cfg.OTLPEndpoint)
		if err != nil {
			slog.Error("failed to init tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		slog.Info("connected to redis")
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		if err := db.PingContext(ctx); err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("connected to postgres")
	}

	reg := registry.New()
	if err := registry.Seed(reg); err != nil {
		slog.Error("failed to seed model registry", "error", err)
		os.Exit(1)
	}
	reg.Seal()

	bus := events.NewBus(cfg.EventBufferSize)
	defer bus.Close()
	go watchDroppedEvents(ctx, bus)

	providerKeys := secrets.ProviderKeys{
		OpenAI:    cfg.OpenAIAPIKey,
		Anthropic: cfg.AnthropicAPIKey,
		Google:    cfg.GoogleAPIKey,
	}
	if cfg.SecretsPrefix != "" {
		store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to init secrets manager", "error", err)
			os.Exit(1)
		}
		loaded, err := secrets.LoadProviderKeys(ctx, store, cfg.SecretsPrefix)
		if err != nil {
			slog.Warn("failed to load provider keys from secrets manager", "error", err)
		} else {
			providerKeys = loaded
			slog.Info("loaded provider keys from secrets manager")
		}
	}

	adapters, err := buildAdapters(ctx, cfg, providerKeys)
	if err != nil {
		slog.Error("failed to build provider adapters", "error", err)
		os.Exit(1)
	}
	if len(adapters) == 0 {
		slog.Warn("no global providers configured, only per-user keys will work")
	}

	var keyManager *apikeys.Manager
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			slog.Error("invalid encryption key", "error", err)
			os.Exit(1)
		}
		var keyStore apikeys.Store
		if db != nil {
			keyStore = repository.NewPostgresKeyStore(db)
		} else {
			keyStore = repository.NewInMemoryKeyStore()
		}
		keyManager = apikeys.NewManager(keyStore, enc, bus)
	}

	var tracker usage.Tracker
	if db != nil {
		tracker = repository.NewPostgresTracker(db)
	} else {
		tracker = usage.NewInMemoryTracker()
	}

	var entSource entitlement.Source
	if db != nil {
		entSource = repository.NewPostgresEntitlementSource(db)
	}
	resolver := entitlement.NewResolver(entSource, entitlement.DefaultLimits(), 1024, 5*time.Minute)

	var cacheStore cache.Store
	if redisClient != nil {
		cacheStore = cache.NewRedisStoreWithClient(redisClient)
	} else {
		cacheStore = cache.NewInMemoryStore()
	}
	layer := cache.NewLayer(cacheStore, cache.DefaultTTLPolicy())
	if cfg.CacheWarmFile != "" {
		warmCache(ctx, layer, cfg.CacheWarmFile)
	}

	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiterWithClient(redisClient)
	} else {
		limiter = ratelimit.NewInMemoryLimiter()
	}

	var breakerOpts []circuitbreaker.ManagerOption
	if cfg.UseDistributedBreaker && redisClient != nil {
		breakerOpts = append(breakerOpts, circuitbreaker.WithRedisClient(redisClient))
	}
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), breakerOpts...)

	var notifier notifications.Notifier
	if cfg.SNSTopicARN != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			slog.Error("failed to init sns notifier", "error", err)
			os.Exit(1)
		}
		slog.Info("publishing alerts to sns", "topic", cfg.SNSTopicARN)
	} else {
		notifier = notifications.NewInMemoryNotifier()
	}
	notifications.SubscribeBus(bus, notifier)

	budgetLimiter := budget.NewLimiter(tracker, nil, budget.DefaultThresholds())
	budgetLimiter.OnAlert(budget.LogAlertHandler)
	budgetLimiter.OnAlert(notifications.BudgetAlertHandler(notifier))

	gw := gateway.New(gateway.Config{
		Registry:        reg,
		Adapters:        adapters,
		Factory:         transientAdapterFactory(ctx),
		Keys:            keyManager,
		Cache:           layer,
		Limiter:         limiter,
		Entitlements:    resolver,
		Quota:           usage.NewQuotaChecker(tracker),
		Budget:          budgetLimiter,
		Tracker:         tracker,
		Cost:            cost.NewCalculator(reg),
		Breakers:        breakers,
		Bus:             bus,
		DefaultProvider: provider.Kind(cfg.DefaultProvider),
		RequestTimeout:  cfg.RequestTimeout,
	})

	var taskQueue queue.Queue
	if cfg.SQSQueueURL != "" {
		taskQueue, err = queue.NewSQSQueue(ctx, cfg.AWSRegion, cfg.SQSQueueURL, cfg.SQSResultQueueURL)
		if err != nil {
			slog.Error("failed to init sqs queue", "error", err)
			os.Exit(1)
		}
	}
	if taskQueue != nil && cfg.SQSWorkerEnabled {
		worker := queue.NewWorker(taskQueue, gw, cfg.SQSWorkers)
		go worker.Run(ctx)
		slog.Info("task worker started", "workers", cfg.SQSWorkers)
	}

	checkers := buildHealthCheckers(redisClient, db, adapters)

	handler := api.NewHandler(api.Config{
		Gateway:  gw,
		Registry: reg,
		Queue:    taskQueue,
		Admin: api.AdminConfig{
			Username:     cfg.AdminUser,
			PasswordHash: cfg.AdminPasswordBcrypt,
			Cache:        layer,
			Limiter:      limiter,
			Tracker:      tracker,
			Breakers:     breakers,
		},
		Checkers: checkers,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// buildAdapters constructs the globally configured backends, each wrapped
// with retry. Per-user keys go through the transient factory instead.
func buildAdapters(ctx context.Context, cfg *config.Config, keys secrets.ProviderKeys) (map[provider.Kind]provider.Adapter, error) {
	adapters := make(map[provider.Kind]provider.Adapter)
	retryCfg := provider.DefaultRetryConfig()

	if keys.OpenAI != "" {
		client := openai.New(provider.ClientConfig{APIKey: keys.OpenAI, BaseURL: cfg.OpenAIBaseURL})
		adapters[provider.KindOpenAI] = provider.WithRetry(client, retryCfg)
		slog.Info("registered provider", "provider", "openai")
	}
	if keys.Anthropic != "" {
		client := anthropic.New(provider.ClientConfig{APIKey: keys.Anthropic})
		adapters[provider.KindAnthropic] = provider.WithRetry(client, retryCfg)
		slog.Info("registered provider", "provider", "anthropic")
	}
	if keys.Google != "" {
		client, err := google.New(ctx, provider.ClientConfig{APIKey: keys.Google})
		if err != nil {
			return nil, err
		}
		adapters[provider.KindGoogle] = provider.WithRetry(client, retryCfg)
		slog.Info("registered provider", "provider", "google")
	}
	if cfg.BedrockEnabled {
		client, err := bedrock.New(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		adapters[provider.KindBedrock] = provider.WithRetry(client, retryCfg)
		slog.Info("registered provider", "provider", "bedrock", "region", cfg.AWSRegion)
	}
	if cfg.LocalBaseURL != "" {
		client := local.New(provider.ClientConfig{BaseURL: cfg.LocalBaseURL})
		adapters[provider.KindLocal] = provider.WithRetry(client, retryCfg)
		slog.Info("registered provider", "provider", "local", "url", cfg.LocalBaseURL)
	}

	return adapters, nil
}

// transientAdapterFactory builds short-lived adapters around a caller's own
// decrypted key.
func transientAdapterFactory(ctx context.Context) gateway.AdapterFactory {
	return func(kind provider.Kind, cc provider.ClientConfig) (provider.Adapter, error) {
		retryCfg := provider.DefaultRetryConfig()
		switch kind {
		case provider.KindOpenAI:
			return provider.WithRetry(openai.New(cc), retryCfg), nil
		case provider.KindAnthropic:
			return provider.WithRetry(anthropic.New(cc), retryCfg), nil
		case provider.KindGoogle:
			client, err := google.New(ctx, cc)
			if err != nil {
				return nil, err
			}
			return provider.WithRetry(client, retryCfg), nil
		case provider.KindLocal:
			return provider.WithRetry(local.New(cc), retryCfg), nil
		default:
			return nil, fmt.Errorf("no per-user client for backend %s: %w", kind, domain.ErrProviderUnavailable)
		}
	}
}

func buildHealthCheckers(redisClient *redis.Client, db *sql.DB, adapters map[provider.Kind]provider.Adapter) []api.HealthChecker {
	var checkers []api.HealthChecker
	if redisClient != nil {
		checkers = append(checkers, api.NewRedisHealthChecker(redisClient))
	}
	if db != nil {
		checkers = append(checkers, api.NewPostgresHealthChecker(db))
	}
	for _, adapter := range adapters {
		checkers = append(checkers, api.NewProviderHealthChecker(adapter))
	}
	return checkers
}

// warmCache loads pre-computed responses from a JSON file so known common
// requests skip the cold start.
func warmCache(ctx context.Context, layer *cache.Layer, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("cache warm file unreadable", "path", path, "error", err)
		return
	}
	var entries []cache.WarmEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("cache warm file malformed", "path", path, "error", err)
		return
	}
	layer.Warm(ctx, entries)
}

// watchDroppedEvents mirrors the bus drop counter into prometheus.
func watchDroppedEvents(ctx context.Context, bus *events.Bus) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped := bus.Dropped()
			if delta := dropped - last; delta > 0 {
				metrics.EventsDropped.Add(float64(delta))
				slog.Warn("event bus dropping events", "total_dropped", dropped)
			}
			last = dropped
		}
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
