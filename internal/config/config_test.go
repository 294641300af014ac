package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"APP_PORT", "LOG_LEVEL", "STORAGE", "ORDER_TRANSITION_MODE", "SEED_COUNT", "PERSIST_MAX_RETRIES",
	"REDIS_ADDR", "REDIS_CHANNEL", "FREE_SHIPPING_THRESHOLD", "FLAT_SHIPPING", "TAX_RATE",
	"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
	"DB_MAX_CONNS", "DB_MIN_CONNS", "DB_MAX_CONN_LIFETIME",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func setPostgresEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "orders")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "storefront")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	setPostgresEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, StoragePostgres, cfg.Orders.Storage)
	assert.Equal(t, "permissive", cfg.Orders.TransitionMode)
	assert.Equal(t, 20, cfg.Orders.SeedCount)
	assert.Equal(t, uint64(3), cfg.Orders.PersistMaxRetries)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, "orders:changes", cfg.Redis.Channel)
	assert.Equal(t, 50.0, cfg.Pricing.FreeShippingThreshold)
	assert.Equal(t, 5.99, cfg.Pricing.FlatShipping)
	assert.Equal(t, 0.08, cfg.Pricing.TaxRate)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	assert.Equal(t, int32(10), cfg.Postgres.MaxConns)
	assert.Equal(t, int32(2), cfg.Postgres.MinConns)
	assert.Equal(t, 30*time.Minute, cfg.Postgres.MaxConnLifetime)
}

func TestLoad_MemoryStorageNeedsNoDatabase(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.Orders.Storage)
	assert.Empty(t, cfg.Postgres.Host)
}

func TestLoad_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "missing DB host", env: map[string]string{"DB_HOST": ""}, wantErr: "DB_HOST is required"},
		{name: "unknown storage", env: map[string]string{"STORAGE": "mongo"}, wantErr: "STORAGE must be"},
		{name: "bad seed count", env: map[string]string{"SEED_COUNT": "many"}, wantErr: "invalid SEED_COUNT"},
		{name: "negative retries", env: map[string]string{"PERSIST_MAX_RETRIES": "-1"}, wantErr: "PERSIST_MAX_RETRIES must not be negative"},
		{name: "bad tax rate", env: map[string]string{"TAX_RATE": "eight"}, wantErr: "invalid TAX_RATE"},
		{name: "bad lifetime", env: map[string]string{"DB_MAX_CONN_LIFETIME": "forever"}, wantErr: "invalid DB_MAX_CONN_LIFETIME"},
		{name: "min above max", env: map[string]string{"DB_MIN_CONNS": "20"}, wantErr: "must not exceed"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			setPostgresEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load("")
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set, even to "".
	os.Unsetenv("APP_PORT")
	os.Unsetenv("STORAGE")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APP_PORT=9090\nSTORAGE=memory\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("APP_PORT")
		os.Unsetenv("STORAGE")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, StorageMemory, cfg.Orders.Storage)
}

func TestLoad_MissingDotEnvIsIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE", "memory")

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}
