package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadIn runs the loader with the working directory switched to dir so
// that a stray pricewatch.yaml in the repository never leaks in.
func loadIn(t *testing.T, dir string) (*Config, error) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return load(viper.New())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadIn(t, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 3, cfg.Fetch.Retries)
	assert.Equal(t, 10*time.Second, cfg.Fetch.ScheduledTimeout)
	assert.Equal(t, 12*time.Second, cfg.Fetch.AdhocTimeout)
	assert.Equal(t, "https://www.google.cl/", cfg.Fetch.Referer)
	assert.Equal(t, 60*time.Second, cfg.Browser.Timeout)
	assert.Equal(t, 2, cfg.Browser.MaxConcurrent)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, time.Hour, cfg.Schedule.Interval)
	assert.Equal(t, "prices", cfg.Store.Table)
	assert.Equal(t, DefaultSources, cfg.Sources)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PRICEWATCH_SERVER_PORT", "9090")
	t.Setenv("PRICEWATCH_CACHE_TYPE", "none")
	t.Setenv("PRICEWATCH_FETCH_RETRIES", "5")
	t.Setenv("PRICEWATCH_SCHEDULE_INTERVAL", "0s")
	t.Setenv("PRICEWATCH_LOG_FORMAT", "text")

	cfg, err := loadIn(t, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "none", cfg.Cache.Type)
	assert.Equal(t, 5, cfg.Fetch.Retries)
	assert.Zero(t, cfg.Schedule.Interval)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("DATABASE_URL", "postgres://localhost/prices")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PRICEWATCH_CACHE_TYPE", "redis")

	cfg, err := loadIn(t, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "g-key", cfg.LLM.APIKey)
	assert.Equal(t, "postgres://localhost/prices", cfg.Store.DatabaseURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cache.RedisURL)
}

func TestLoad_SourcesFromEnv(t *testing.T) {
	t.Setenv("PRICEWATCH_SOURCES", "A=https://a.example/, B=https://b.example/ofertas")

	cfg, err := loadIn(t, t.TempDir())
	require.NoError(t, err)

	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "A", cfg.Sources[0].Name)
	assert.Equal(t, "https://b.example/ofertas", cfg.Sources[1].URL)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
fetch:
  fragment_format: markdown
sources:
  - name: Farmex
    url: https://farmex.cl/
    selector: ".product-grid"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pricewatch.yaml"), []byte(yaml), 0o644))

	cfg, err := loadIn(t, dir)
	require.NoError(t, err)

	assert.Equal(t, "markdown", cfg.Fetch.FragmentFormat)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, ".product-grid", cfg.Sources[0].Selector)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"cache type", map[string]string{"PRICEWATCH_CACHE_TYPE": "disk"}, "cache type"},
		{"redis without url", map[string]string{"PRICEWATCH_CACHE_TYPE": "redis"}, "redis URL"},
		{"provider", map[string]string{"PRICEWATCH_LLM_PROVIDER": "claude"}, "llm provider"},
		{"retries", map[string]string{"PRICEWATCH_FETCH_RETRIES": "0"}, "retries"},
		{"fragment format", map[string]string{"PRICEWATCH_FETCH_FRAGMENT_FORMAT": "pdf"}, "fragment format"},
		{"source pair", map[string]string{"PRICEWATCH_SOURCES": "nourl"}, "Name=URL"},
		{"source scheme", map[string]string{"PRICEWATCH_SOURCES": "A=ftp://a.example/"}, "invalid url"},
		{"duplicate source", map[string]string{"PRICEWATCH_SOURCES": "A=https://a.example/,A=https://b.example/"}, "twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("REDIS_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadIn(t, t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseSources(t *testing.T) {
	got, err := ParseSources(" A=https://a.example/ ,,B=https://b.example/")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "B", got[1].Name)

	_, err = ParseSources("broken")
	assert.Error(t, err)
}
