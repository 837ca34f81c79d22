package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4900, cfg.Engine.PaginationCap)
	assert.Equal(t, []float64{0, 1, 5, 10, 20, 50, 100}, cfg.Engine.PriceBoundaries)
	assert.Len(t, cfg.Engine.SortOrders, 6)
	assert.Equal(t, "-relevance", cfg.Engine.DefaultSort)
	assert.Equal(t, DelayRange{Min: 2 * time.Second, Max: 5 * time.Second}, cfg.Engine.ShortDelay)
	assert.Equal(t, DelayRange{Min: 7 * time.Second, Max: 15 * time.Second}, cfg.Engine.LongDelay)
	assert.Equal(t, "https://www.fab.com/i/listings/search", cfg.Fab.SearchURL)
	assert.Equal(t, "redis", cfg.Registry.Backend)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
fab:
  fetcher: browser
  timeout: 45s
engine:
  pagination_cap: 1000
  price_boundaries: [0, 10, 100]
  workers: 3
  short_delay:
    min: 1s
    max: 2s
registry:
  backend: memory
sink:
  backend: memory
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "browser", cfg.Fab.Fetcher)
	assert.Equal(t, 45*time.Second, cfg.Fab.Timeout)
	assert.Equal(t, 1000, cfg.Engine.PaginationCap)
	assert.Equal(t, []float64{0, 10, 100}, cfg.Engine.PriceBoundaries)
	assert.Equal(t, 3, cfg.Engine.Workers)
	assert.Equal(t, time.Second, cfg.Engine.ShortDelay.Min)
	assert.Equal(t, "memory", cfg.Sink.Backend)
	// Untouched sections keep their defaults
	assert.Equal(t, "fab:registry:", cfg.Registry.KeyPrefix)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ENGINE_WORKERS", "8")
	t.Setenv("REDIS_HOST", "redis.internal")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_Boundaries(t *testing.T) {
	tests := []struct {
		name       string
		boundaries string
	}{
		{name: "does not start at zero", boundaries: "[1, 5, 10]"},
		{name: "not ascending", boundaries: "[0, 10, 5]"},
		{name: "duplicate", boundaries: "[0, 5, 5]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "engine:\n  price_boundaries: "+tt.boundaries+"\n")
			_, err := Load(path)
			assert.ErrorContains(t, err, "price_boundaries")
		})
	}
}

func TestValidate_FieldConstraints(t *testing.T) {
	path := writeConfig(t, `
fab:
  fetcher: carrier-pigeon
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid config")
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "fab", User: "u", Password: "p"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=fab sslmode=disable", d.DSN())
}
