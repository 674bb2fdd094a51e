// Package config loads cloakctl settings from defaults, an optional yaml
// file, CLOAK_* environment variables and bound flags, in increasing
// order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/google/renameio/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cloak-fx/cloak/internal/logging"
)

// EnvPrefix is prepended to upper-cased keys, e.g. CLOAK_SERVICE_BASE_URL.
const EnvPrefix = "CLOAK"

// Config is the effective client configuration.
type Config struct {
	Service ServiceConfig `mapstructure:"service" yaml:"service"`
	Stream  StreamConfig  `mapstructure:"stream" yaml:"stream"`
	Events  EventsConfig  `mapstructure:"events" yaml:"events"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

type ServiceConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

type StreamConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	PreviewInterval time.Duration `mapstructure:"preview_interval" yaml:"preview_interval"`
}

type EventsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// SetDefaults installs every key's default on v. Keys without a default
// are invisible to environment lookups.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service.base_url", "http://127.0.0.1:5000")
	v.SetDefault("service.request_timeout", 10*time.Second)
	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.preview_interval", 200*time.Millisecond)
	v.SetDefault("events.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", logging.DefaultFile())
	v.SetDefault("metrics.addr", "")
}

// DefaultDir is ~/.config/cloak.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "cloak"), nil
}

// Setup prepares v: defaults, environment binding and the config file
// location. An explicit file must exist; the default one is optional.
func Setup(v *viper.Viper, file string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
		return nil
	}

	if dir, err := DefaultDir(); err == nil {
		v.AddConfigPath(dir)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Decode returns the validated configuration held by v.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Service.BaseURL = strings.TrimRight(cfg.Service.BaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	u, err := url.Parse(c.Service.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("service.base_url %q: must be an http(s) URL", c.Service.BaseURL)
	}
	if c.Service.RequestTimeout < 0 {
		return fmt.Errorf("service.request_timeout must not be negative")
	}
	if c.Stream.PreviewInterval < 0 {
		return fmt.Errorf("stream.preview_interval must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("log.level %q: unknown level", c.Log.Level)
	}
	return nil
}

// YAML renders the effective configuration.
func (c Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const fileTemplate = `# cloakctl configuration
# Every key can be overridden with CLOAK_<SECTION>_<KEY>, e.g.
# CLOAK_SERVICE_BASE_URL=http://camera.local:5000

service:
  # Camera service base URL
  base_url: "{{ .Service.BaseURL }}"
  # Per-request limit for start / capture / stop calls
  request_timeout: {{ .Service.RequestTimeout }}

stream:
  # Show the live video preview in the TUI
  enabled: {{ .Stream.Enabled }}
  # How often a frame is fully decoded for the preview
  preview_interval: {{ .Stream.PreviewInterval }}

events:
  # Follow the service's /ws status feed
  enabled: {{ .Events.Enabled }}

log:
  # trace, debug, info, warn, error
  level: {{ .Log.Level }}
  # The TUI writes its log here
  file: "{{ .Log.File }}"

metrics:
  # Serve client metrics on this address (empty disables)
  addr: "{{ .Metrics.Addr }}"
`

var fileTmpl = template.Must(template.New("config").Parse(fileTemplate))

// Render produces a commented config file holding cfg's values.
func Render(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := fileTmpl.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return buf.Bytes(), nil
}

// ErrExists is returned by WriteFile when the target exists and force is
// not set.
var ErrExists = errors.New("config file already exists")

// WriteFile atomically writes the rendered cfg to path.
func WriteFile(path string, cfg Config, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%w: %s (use --force to overwrite)", ErrExists, path)
	}
	data, err := Render(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
