package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "release", cfg.TimeoutAction)
	assert.Equal(t, 5*time.Second, cfg.DNSTimeout)
	assert.True(t, cfg.Record)
	assert.True(t, cfg.MITM)
	assert.Equal(t, time.Hour, cfg.CertTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 100, cfg.Log.MaxSizeMB)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("INTERCEPT_LISTEN", ":3128")
	t.Setenv("INTERCEPT_REQUESTS", "true")
	t.Setenv("INTERCEPT_TIMEOUT", "30s")
	t.Setenv("INTERCEPT_TIMEOUT_ACTION", "drop")
	t.Setenv("INTERCEPT_BASIC_AUTH", "admin:s3cr:et")
	t.Setenv("INTERCEPT_LOG_FORMAT", "json")
	t.Setenv("INTERCEPT_LOG_FILE", "/var/log/intercept.log")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":3128", cfg.Listen)
	assert.True(t, cfg.InterceptRequests)
	assert.False(t, cfg.InterceptResponses)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/var/log/intercept.log", cfg.Log.File)

	user, pass, ok := cfg.Credentials()
	assert.True(t, ok)
	assert.Equal(t, "admin", user)
	assert.Equal(t, "s3cr:et", pass)
}

func TestLoadError(t *testing.T) {
	t.Setenv("INTERCEPT_TIMEOUT", "soon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	for name, mutate := range map[string]func(*Config){
		"timeout action": func(c *Config) { c.TimeoutAction = "explode" },
		"log level":      func(c *Config) { c.Log.Level = "loud" },
		"log format":     func(c *Config) { c.Log.Format = "xml" },
		"basic auth":     func(c *Config) { c.BasicAuth = "nocolon" },
		"listeners":      func(c *Config) { c.Listen = "" },
		"negative limit": func(c *Config) { c.MaxConcurrent = -1 },
		"lonely CA cert": func(c *Config) { c.CACert = "ca.pem" },
	} {
		t.Run(name, func(t *testing.T) {
			c := cfg
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	_, _, ok := cfg.Credentials()
	assert.False(t, ok)
}
