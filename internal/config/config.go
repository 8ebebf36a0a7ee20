package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime settings of the widget host and CLI.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Predict PredictConfig `yaml:"predict"`
	Tips    TipsConfig    `yaml:"tips"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the HTTP widget host.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	StaticRoot      string        `yaml:"static_root"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// PredictConfig points at the classification service.
type PredictConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TipsConfig locates the static tips document.
type TipsConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			StaticRoot:      "./static",
			AllowedOrigins:  []string{"*"},
			MaxUploadBytes:  10 << 20,
		},
		Predict: PredictConfig{
			Endpoint: "http://localhost:5000/predict",
			Timeout:  60 * time.Second,
		},
		Tips: TipsConfig{
			URL:     "http://localhost:8080/aesthetic_recommendations.json",
			Timeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and FACE_* environment variables, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("FACE_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.Addr = getEnv("FACE_ADDR", cfg.Server.Addr)
	cfg.Server.StaticRoot = getEnv("FACE_STATIC_ROOT", cfg.Server.StaticRoot)
	if origins := os.Getenv("FACE_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}
	cfg.Predict.Endpoint = getEnv("FACE_PREDICT_ENDPOINT", cfg.Predict.Endpoint)
	cfg.Tips.URL = getEnv("FACE_TIPS_URL", cfg.Tips.URL)
	cfg.Log.Level = getEnv("FACE_LOG_LEVEL", cfg.Log.Level)
	if v := os.Getenv("FACE_LOG_DEVELOPMENT"); v != "" {
		cfg.Log.Development = v == "1" || strings.EqualFold(v, "true")
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"FACE_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout},
		{"FACE_PREDICT_TIMEOUT", &cfg.Predict.Timeout},
		{"FACE_TIPS_TIMEOUT", &cfg.Tips.Timeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.target = parsed
	}
	return nil
}

// Validate rejects configurations the host cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	if err := validateURL("predict.endpoint", c.Predict.Endpoint); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("tips.url", c.Tips.URL); err != nil {
		errs = append(errs, err)
	}
	if c.Predict.Timeout < 0 || c.Tips.Timeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	return errors.Join(errs...)
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: expected an http(s) URL, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: missing host in %q", field, raw)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
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
