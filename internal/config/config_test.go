package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func load(t *testing.T, file string) (Config, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	v := viper.New()
	if err := Setup(v, file); err != nil {
		return Config{}, err
	}
	return Decode(v)
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t, "")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:5000", cfg.Service.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Service.RequestTimeout)
	assert.True(t, cfg.Stream.Enabled)
	assert.Equal(t, 200*time.Millisecond, cfg.Stream.PreviewInterval)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  base_url: http://camera.local:8000/
  request_timeout: 3s
stream:
  enabled: false
`), 0o644))
	t.Setenv("CLOAK_LOG_LEVEL", "debug")
	t.Setenv("CLOAK_SERVICE_REQUEST_TIMEOUT", "750ms")

	cfg, err := load(t, path)
	require.NoError(t, err)
	assert.Equal(t, "http://camera.local:8000", cfg.Service.BaseURL)
	assert.Equal(t, 750*time.Millisecond, cfg.Service.RequestTimeout, "env beats file")
	assert.False(t, cfg.Stream.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestExplicitFileMustExist(t *testing.T) {
	_, err := load(t, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefaultFileIsRead(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "cloak")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("events:\n  enabled: false\n"), 0o644))

	v := viper.New()
	require.NoError(t, Setup(v, ""))
	cfg, err := Decode(v)
	require.NoError(t, err)
	assert.False(t, cfg.Events.Enabled)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Service: ServiceConfig{BaseURL: "http://127.0.0.1:5000", RequestTimeout: time.Second},
			Log:     LogConfig{Level: "info"},
		}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no scheme", func(c *Config) { c.Service.BaseURL = "127.0.0.1:5000" }},
		{"ftp", func(c *Config) { c.Service.BaseURL = "ftp://host" }},
		{"negative timeout", func(c *Config) { c.Service.RequestTimeout = -time.Second }},
		{"negative preview", func(c *Config) { c.Stream.PreviewInterval = -1 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	cfg, err := load(t, "")
	require.NoError(t, err)
	cfg.Service.BaseURL = "http://camera.local:5000"
	cfg.Metrics.Addr = ":9300"

	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	require.NoError(t, WriteFile(path, cfg, false))

	err = WriteFile(path, cfg, false)
	require.ErrorIs(t, err, ErrExists)
	require.NoError(t, WriteFile(path, cfg, true))

	got, err := load(t, path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestYAML(t *testing.T) {
	cfg, err := load(t, "")
	require.NoError(t, err)
	data, err := cfg.YAML()
	require.NoError(t, err)

	var m map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(data, &m))
	assert.Equal(t, "http://127.0.0.1:5000", m["service"]["base_url"])
	assert.Equal(t, true, m["stream"]["enabled"])
}
