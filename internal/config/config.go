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
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type AppConfig struct {
	Port     string
	LogLevel string
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type RedisConfig struct {
	Addr    string
	Channel string
}

type OrdersConfig struct {
	Storage           string
	TransitionMode    string
	SeedCount         int
	PersistMaxRetries uint64
}

type PricingConfig struct {
	FreeShippingThreshold float64
	FlatShipping          float64
	TaxRate               float64
}

type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Orders   OrdersConfig
	Pricing  PricingConfig
}

// NewConfig reads an optional .env file from the working directory and then the environment.
func NewConfig() (*Config, error) {
	return Load(".env")
}

func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}
	var err error

	cfg.App.Port = getEnv("APP_PORT", "8080")
	cfg.App.LogLevel = getEnv("LOG_LEVEL", "info")

	cfg.Orders.Storage = strings.ToLower(getEnv("STORAGE", StoragePostgres))
	if cfg.Orders.Storage != StoragePostgres && cfg.Orders.Storage != StorageMemory {
		return nil, fmt.Errorf("STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, cfg.Orders.Storage)
	}
	cfg.Orders.TransitionMode = getEnv("ORDER_TRANSITION_MODE", "permissive")
	if cfg.Orders.SeedCount, err = getInt("SEED_COUNT", 20); err != nil {
		return nil, err
	}
	if cfg.Orders.SeedCount < 0 {
		return nil, fmt.Errorf("SEED_COUNT must not be negative, got %d", cfg.Orders.SeedCount)
	}
	retries, err := getInt("PERSIST_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	if retries < 0 {
		return nil, fmt.Errorf("PERSIST_MAX_RETRIES must not be negative, got %d", retries)
	}
	cfg.Orders.PersistMaxRetries = uint64(retries)

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Channel = getEnv("REDIS_CHANNEL", "orders:changes")

	if cfg.Pricing.FreeShippingThreshold, err = getFloat("FREE_SHIPPING_THRESHOLD", 50); err != nil {
		return nil, err
	}
	if cfg.Pricing.FlatShipping, err = getFloat("FLAT_SHIPPING", 5.99); err != nil {
		return nil, err
	}
	if cfg.Pricing.TaxRate, err = getFloat("TAX_RATE", 0.08); err != nil {
		return nil, err
	}

	if err := loadPostgres(&cfg.Postgres, cfg.Orders.Storage == StoragePostgres); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadPostgres(pg *PostgresConfig, required bool) error {
	pg.Host = os.Getenv("DB_HOST")
	pg.Port = os.Getenv("DB_PORT")
	pg.User = os.Getenv("DB_USER")
	pg.Password = os.Getenv("DB_PASSWORD")
	pg.DBName = os.Getenv("DB_NAME")
	pg.SSLMode = getEnv("DB_SSLMODE", "disable")

	if required {
		for _, v := range []struct{ name, value string }{
			{"DB_HOST", pg.Host},
			{"DB_PORT", pg.Port},
			{"DB_USER", pg.User},
			{"DB_PASSWORD", pg.Password},
			{"DB_NAME", pg.DBName},
		} {
			if v.value == "" {
				return fmt.Errorf("%s is required", v.name)
			}
		}
	}

	maxConns, err := getInt("DB_MAX_CONNS", 10)
	if err != nil {
		return err
	}
	minConns, err := getInt("DB_MIN_CONNS", 2)
	if err != nil {
		return err
	}
	if minConns > maxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", minConns, maxConns)
	}
	pg.MaxConns = int32(maxConns)
	pg.MinConns = int32(minConns)

	lifetime := getEnv("DB_MAX_CONN_LIFETIME", "30m")
	pg.MaxConnLifetime, err = time.ParseDuration(lifetime)
	if err != nil {
		return fmt.Errorf("invalid DB_MAX_CONN_LIFETIME %q: %w", lifetime, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}
