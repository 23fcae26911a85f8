/**
 * @description
 * This is the main entry point for the budget service. It loads configuration,
 * connects the selected store, Redis and RabbitMQ, builds the Plaid client and the
 * application services, and serves the HTTP API until it receives a shutdown signal.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5, go.mongodb.org/mongo-driver: the two store backends.
 * - github.com/redis/go-redis/v9: shared rate-limit counters.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/plaidclient, pkg/rabbitmq: aggregator client and event producer.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kw-0/BudgetGator/internal/api"
	"github.com/kw-0/BudgetGator/internal/app"
	"github.com/kw-0/BudgetGator/internal/config"
	"github.com/kw-0/BudgetGator/internal/domain"
	"github.com/kw-0/BudgetGator/internal/store"
	"github.com/kw-0/BudgetGator/pkg/plaidclient"
	"github.com/kw-0/BudgetGator/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found; using process environment")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Amounts go over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	logger.Info("starting budget service", "port", cfg.ServerPort, "store", cfg.StoreBackend, "sharing_mode", cfg.SharingMode)

	repo, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("store initialization failed", "store", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var publisher rabbitmq.Publisher
	if cfg.RabbitMQURL == "" {
		logger.Warn("RABBITMQ_URL not set; domain events disabled")
		publisher = rabbitmq.NewFallbackProducer(logger)
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger); err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		publisher = rabbitmq.NewFallbackProducer(logger)
	} else {
		logger.Info("rabbitmq producer connected")
		publisher = producer
	}
	defer publisher.Close()

	limiter := newRateLimiter(cfg, logger)
	if closer, ok := limiter.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	plaidBaseURL := cfg.PlaidBaseURL
	if strings.TrimSpace(plaidBaseURL) == "" {
		plaidBaseURL = plaidclient.BaseURLForEnv(cfg.PlaidEnv)
	}
	plaid := plaidclient.NewClient(plaidclient.Config{
		BaseURL:     plaidBaseURL,
		ClientID:    cfg.PlaidClientID,
		Secret:      cfg.PlaidSecret,
		ClientName:  cfg.PlaidClientName,
		RedirectURI: cfg.PlaidRedirectURI,
	}, logger)

	mode := domain.SharingMode(cfg.SharingMode)
	engine := app.NewSyncEngine(plaid, app.SyncConfig{
		MaxParallel:         cfg.SyncMaxParallel,
		CredentialTimeout:   cfg.SyncCredentialTimeout(),
		NotReadyMaxAttempts: cfg.SyncNotReadyMaxAttempts,
		NotReadyBaseDelay:   cfg.SyncNotReadyBaseDelay(),
	}, logger)

	authService := app.NewAuthService(repo, cfg.JWTSecret, cfg.JWTTTL(), logger)
	handlers := api.NewHandlers(
		authService,
		app.NewCredentialLinkManager(repo, plaid, publisher, cfg.EventsExchange, mode, logger),
		app.NewBudgetService(repo, plaid, engine, publisher, cfg.EventsExchange, cfg.DefaultWindowDays, logger),
		app.NewGoalTracker(repo, logger, time.Now),
		app.NewAccessSharingManager(repo, publisher, cfg.EventsExchange, mode, logger),
		logger,
	)

	router := api.NewRouter(handlers, api.RouterOptions{
		Verifier:       authService,
		Limiter:        limiter,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// openStore connects the configured backend and returns the repository with its closer.
func openStore(cfg config.Config, logger *slog.Logger) (app.Repository, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if cfg.StoreBackend == config.StoreBackendMongo {
		client, err := store.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		repo, err := store.NewMongoRepository(ctx, client, cfg.MongoDatabase)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		logger.Info("mongodb connected", "database", cfg.MongoDatabase)
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil
	}

	if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
		return nil, nil, err
	}
	logger.Info("database migrations applied")

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database url parse failed: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("database connected")
	return store.NewPostgresRepository(dbpool), dbpool.Close, nil
}

// newRateLimiter connects Redis when configured. Without it the API runs unthrottled.
func newRateLimiter(cfg config.Config, logger *slog.Logger) app.RateLimiter {
	if cfg.RedisURL == "" {
		logger.Warn("redis url missing; rate limiting disabled", "env", "REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; rate limiting disabled", "error", err)
		return nil
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; rate limiting disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	policy := app.RateLimitPolicy{
		PerMinute: cfg.RateLimitPerMinute,
		Scopes:    map[string]int{app.ScopeSync: cfg.RateLimitSyncPerMinute},
	}
	return &closingLimiter{RedisRateLimiter: app.NewRedisRateLimiter(client, cfg.RedisRateLimitPrefix, policy), client: client}
}

type closingLimiter struct {
	*app.RedisRateLimiter
	client *redis.Client
}

func (l *closingLimiter) Close() error {
	return l.client.Close()
}
