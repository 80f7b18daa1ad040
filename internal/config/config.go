package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "WalletLedger"
	defaultAppEnv         = "development"
	defaultPort           = "3000"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultStoreBackend   = StoreMemory
	defaultBadgerDir      = "data/ledger"
	defaultKafkaTopic     = "wallet.ledger.transactions"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultStorageTimeout = 5 * time.Second
	defaultMutationLimit  = 120
	defaultEnvFile        = ".env"
)

// Ledger store backends.
const (
	StorePostgres = "postgres"
	StoreBadger   = "badger"
	StoreMemory   = "memory"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName           string
	AppEnv            string
	Port              string
	LogLevel          string
	LogFormat         string
	StoreBackend      string
	DatabaseURL       string
	BadgerDir         string
	RedisURL          string
	KafkaBrokers      []string
	KafkaTopic        string
	ShutdownPeriod    time.Duration
	IdempotencyTTL    time.Duration
	StorageTimeout    time.Duration
	MutationRateLimit int
	VerifyOnStart     bool
}

// Load reads an optional .env file (ENV_FILE overrides the path; variables
// already set in the environment win) and populates a Config instance.
func Load() (Config, error) {
	envFile := getEnv("ENV_FILE", defaultEnvFile)
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		AppName:      getEnv("APP_NAME", defaultAppName),
		AppEnv:       getEnv("APP_ENV", defaultAppEnv),
		Port:         getEnv("PORT", defaultPort),
		LogLevel:     strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:    strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", defaultStoreBackend)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		BadgerDir:    getEnv("BADGER_DIR", defaultBadgerDir),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", defaultKafkaTopic),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv("SHUTDOWN_TIMEOUT_SECONDS", "SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv("IDEMPOTENCY_TTL_SECONDS", "IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.StorageTimeout, err = durationFromEnv("STORAGE_TIMEOUT_SECONDS", "STORAGE_TIMEOUT", defaultStorageTimeout); err != nil {
		return Config{}, err
	}

	cfg.MutationRateLimit = defaultMutationLimit
	if v := os.Getenv("MUTATION_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MUTATION_RATE_LIMIT: %w", err)
		}
		cfg.MutationRateLimit = n
	}

	if v := os.Getenv("VERIFY_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid VERIFY_ON_START: %w", err)
		}
		cfg.VerifyOnStart = b
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORE_BACKEND=%s", StorePostgres)
		}
	case StoreBadger:
		if c.BadgerDir == "" {
			return fmt.Errorf("BADGER_DIR must be set when STORE_BACKEND=%s", StoreBadger)
		}
	case StoreMemory:
		if !c.IsDev() {
			return fmt.Errorf("STORE_BACKEND=%s is not durable and only allowed in development", StoreMemory)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if !c.IsDev() && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.StorageTimeout <= 0 {
		return fmt.Errorf("storage timeout must be positive")
	}
	return nil
}

// IsDev reports whether the service runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func durationFromEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
