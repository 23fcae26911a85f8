/**
 * @description
 * This package handles the configuration management for the budget service. It uses
 * Viper to read settings from environment variables and an optional .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 *
 * @notes
 * - Numeric settings are parsed by hand so a malformed value falls back to its default
 *   with a warning instead of failing startup.
 */

package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMongo    = "mongo"

	SharingModeSnapshot   = "snapshot"
	SharingModeLiveLinked = "live-linked"
)

// Config holds all the configuration variables for the budget service.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	StoreBackend         string `mapstructure:"STORE_BACKEND"`
	MongoURI             string `mapstructure:"MONGO_URI"`
	MongoDatabase        string `mapstructure:"MONGO_DATABASE"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventsExchange       string `mapstructure:"EVENTS_EXCHANGE"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`
	PlaidClientID        string `mapstructure:"PLAID_CLIENT_ID"`
	PlaidSecret          string `mapstructure:"PLAID_SECRET"`
	PlaidEnv             string `mapstructure:"PLAID_ENV"`
	PlaidBaseURL         string `mapstructure:"PLAID_BASE_URL"`
	PlaidClientName      string `mapstructure:"PLAID_CLIENT_NAME"`
	PlaidRedirectURI     string `mapstructure:"PLAID_REDIRECT_URI"`
	SharingMode          string `mapstructure:"SHARING_MODE"`

	RateLimitPerMinute           int      `mapstructure:"-"`
	RateLimitSyncPerMinute       int      `mapstructure:"-"`
	JWTTTLHours                  int      `mapstructure:"-"`
	SyncMaxParallel              int      `mapstructure:"-"`
	SyncCredentialTimeoutSeconds int      `mapstructure:"-"`
	SyncNotReadyMaxAttempts      int      `mapstructure:"-"`
	SyncNotReadyBaseDelayMS      int      `mapstructure:"-"`
	DefaultWindowDays            int      `mapstructure:"-"`
	CORSAllowedOrigins           []string `mapstructure:"-"`
}

var intDefaults = map[string]int{
	"RATE_LIMIT_PER_MINUTE":           60,
	"RATE_LIMIT_SYNC_PER_MINUTE":      6,
	"JWT_TTL_HOURS":                   24,
	"SYNC_MAX_PARALLEL":               4,
	"SYNC_CREDENTIAL_TIMEOUT_SECONDS": 20,
	"SYNC_NOT_READY_MAX_ATTEMPTS":     5,
	"SYNC_NOT_READY_BASE_DELAY_MS":    2000,
	"DEFAULT_WINDOW_DAYS":             30,
}

// LoadConfig reads configuration from environment variables and an optional .env file
// in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_BACKEND", StoreBackendPostgres)
	viper.SetDefault("MONGO_DATABASE", "budgetgator")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "budgetgator:rate_limit")
	viper.SetDefault("EVENTS_EXCHANGE", "budgetgator.events")
	viper.SetDefault("PLAID_ENV", "sandbox")
	viper.SetDefault("PLAID_CLIENT_NAME", "BudgetGator")
	viper.SetDefault("SHARING_MODE", SharingModeSnapshot)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	for key, value := range intDefaults {
		viper.SetDefault(key, value)
	}

	// Bind explicitly so values appear in Unmarshal.
	for _, key := range []string{
		"SERVER_PORT", "PORT", "DATABASE_URL", "STORE_BACKEND", "MONGO_URI", "MONGO_DATABASE",
		"REDIS_RATE_LIMIT_PREFIX", "RABBITMQ_URL", "EVENTS_EXCHANGE", "JWT_SECRET",
		"PLAID_CLIENT_ID", "PLAID_SECRET", "PLAID_ENV", "PLAID_BASE_URL", "PLAID_CLIENT_NAME",
		"PLAID_REDIRECT_URI", "SHARING_MODE", "CORS_ALLOWED_ORIGINS",
	} {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "BUDGET_REDIS_URL")
	for key := range intDefaults {
		_ = viper.BindEnv(key)
	}

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "error", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "budgetgator:rate_limit"
	}

	config.StoreBackend = strings.ToLower(strings.TrimSpace(config.StoreBackend))
	if config.StoreBackend != StoreBackendPostgres && config.StoreBackend != StoreBackendMongo {
		slog.Warn("unknown STORE_BACKEND; using postgres", "component", "config", "value", config.StoreBackend)
		config.StoreBackend = StoreBackendPostgres
	}

	config.SharingMode = strings.ToLower(strings.TrimSpace(config.SharingMode))
	if config.SharingMode != SharingModeSnapshot && config.SharingMode != SharingModeLiveLinked {
		slog.Warn("unknown SHARING_MODE; using snapshot", "component", "config", "value", config.SharingMode)
		config.SharingMode = SharingModeSnapshot
	}

	config.RateLimitPerMinute = positiveInt("RATE_LIMIT_PER_MINUTE")
	config.RateLimitSyncPerMinute = positiveInt("RATE_LIMIT_SYNC_PER_MINUTE")
	config.JWTTTLHours = positiveInt("JWT_TTL_HOURS")
	config.SyncMaxParallel = positiveInt("SYNC_MAX_PARALLEL")
	config.SyncCredentialTimeoutSeconds = positiveInt("SYNC_CREDENTIAL_TIMEOUT_SECONDS")
	config.SyncNotReadyMaxAttempts = positiveInt("SYNC_NOT_READY_MAX_ATTEMPTS")
	config.SyncNotReadyBaseDelayMS = positiveInt("SYNC_NOT_READY_BASE_DELAY_MS")
	config.DefaultWindowDays = positiveInt("DEFAULT_WINDOW_DAYS")
	config.CORSAllowedOrigins = splitList(viper.GetString("CORS_ALLOWED_ORIGINS"))

	return config, nil
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.StoreBackend {
	case StoreBackendMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return errors.New("MONGO_URI is required when STORE_BACKEND=mongo")
		}
	default:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	}
	return nil
}

func (c Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLHours) * time.Hour
}

func (c Config) SyncCredentialTimeout() time.Duration {
	return time.Duration(c.SyncCredentialTimeoutSeconds) * time.Second
}

func (c Config) SyncNotReadyBaseDelay() time.Duration {
	return time.Duration(c.SyncNotReadyBaseDelayMS) * time.Millisecond
}

// positiveInt reads key as an integer, falling back to its default when the value is
// malformed or not positive.
func positiveInt(key string) int {
	def := intDefaults[key]
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer setting; using default", "component", "config", "key", key, "value", raw, "default", def, "error", err)
		return def
	}
	if value <= 0 {
		slog.Warn("non-positive integer setting; using default", "component", "config", "key", key, "value", value, "default", def)
		return def
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
