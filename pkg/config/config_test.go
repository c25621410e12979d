package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SIEM_DB_DSN", "")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.CollectionInterval())
	assert.Equal(t, 30*time.Second, c.CorrelationInterval())
	assert.Equal(t, 10*time.Minute, c.CorrelationWindow())
	assert.Equal(t, 5, c.Correlation.AlertThreshold)
	assert.Equal(t, 3, c.Correlation.SignatureThreshold)
	assert.Equal(t, 500, c.Correlation.RecentLimit)
	assert.Equal(t, 24*time.Hour, c.CacheTTL())
	assert.Equal(t, 30, c.Store.RetentionDays)
	assert.True(t, c.EnrichmentEnabled())
	assert.False(t, c.OutputStderrEnabled())
	assert.Equal(t, "", c.Store.DSN)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "siem.yaml")
	yml := `source:
  path: /tmp/alerts.log
correlation:
  window_minutes: 15
  alert_threshold: 8
store:
  driver: PostgreSQL
  dsn: postgres://localhost/siem
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))
	t.Setenv("SIEM_API_ADDR", ":9999")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/alerts.log", c.Source.Path)
	assert.Equal(t, 15, c.Correlation.WindowMinutes)
	assert.Equal(t, 8, c.Correlation.AlertThreshold)
	assert.Equal(t, 3, c.Correlation.SignatureThreshold)
	assert.Equal(t, "postgres", c.Store.Driver)
	assert.Equal(t, ":9999", c.API.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero window", func(c *Config) { c.Correlation.WindowMinutes = 0 }},
		{"zero threshold", func(c *Config) { c.Correlation.AlertThreshold = 0 }},
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }},
		{"no source", func(c *Config) { c.Source.Path = "" }},
		{"file output without path", func(c *Config) { c.Output.File.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "siem.yaml")
	require.NoError(t, os.WriteFile(path, []byte("correlation:\n  alert_threshold: 5\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan int, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { got <- c.Correlation.AlertThreshold })
	}()

	// Give the watcher time to register before rewriting.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("correlation:\n  alert_threshold: 9\n"), 0644))

	select {
	case v := <-got:
		assert.Equal(t, 9, v)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	cancel()
	require.NoError(t, <-done)
}
