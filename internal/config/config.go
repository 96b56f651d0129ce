package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// StationMap maps CADIP station names to their OData base URLs. The
// environment value is a comma-separated list of name=url pairs, e.g.
// "sgs=https://sgs.example/odata,mps=https://mps.example/odata".
type StationMap map[string]string

// Decode implements envconfig.Decoder.
func (m *StationMap) Decode(value string) error {
	out := map[string]string{}

	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		name, stationURL, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid station mapping %q, want name=url", pair)
		}

		out[strings.TrimSpace(name)] = strings.TrimSpace(stationURL)
	}

	*m = out

	return nil
}

// Config struct for environment variables.
type Config struct {
	LogLevel   string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath     string `envconfig:"DB_PATH" default:"rs_server.db"`
	StagingDir string `envconfig:"STAGING_DIR"`

	StartTimeout time.Duration `envconfig:"START_TIMEOUT" default:"5s"`
	MaxParallel  int           `envconfig:"MAX_PARALLEL" default:"5"`

	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"0"`
	PollWindow   time.Duration `envconfig:"POLL_WINDOW" default:"1h"`

	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	KeepStagingFor  time.Duration `envconfig:"KEEP_STAGING_FOR" default:"24h"`

	WebhookURL    string `envconfig:"WEBHOOK_URL"`
	WebhookAPIKey string `envconfig:"WEBHOOK_API_KEY"`

	TelemetryEnabled bool `envconfig:"TELEMETRY_ENABLED" default:"true"`

	Adgs struct {
		BaseURL      string `split_words:"true"`
		TokenURL     string `split_words:"true"`
		ClientID     string `split_words:"true"`
		ClientSecret string `split_words:"true"`
	}

	Cadip struct {
		Stations     StationMap `split_words:"true"`
		TokenURL     string     `split_words:"true"`
		ClientID     string     `split_words:"true"`
		ClientSecret string     `split_words:"true"`
	}

	S3 struct {
		Endpoint   string        `envconfig:"ENDPOINT"`
		AccessKey  string        `envconfig:"ACCESSKEY"`
		SecretKey  string        `envconfig:"SECRETKEY"`
		Region     string        `envconfig:"REGION" default:"sbg"`
		RetryCount int           `envconfig:"RETRY_COUNT" default:"20"`
		RetryWait  time.Duration `envconfig:"RETRY_WAIT" default:"6s"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8000"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
