package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Upstream  UpstreamConfig  `yaml:"upstream" mapstructure:"upstream"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Sync      SyncConfig      `yaml:"sync" mapstructure:"sync"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the local SQLite store.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// UpstreamConfig configures the remote authoritative Postgres store.
type UpstreamConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// ScrapeConfig configures contact-page fetching.
type ScrapeConfig struct {
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RequestsPerSec   float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxDocumentBytes int64   `yaml:"max_document_bytes" mapstructure:"max_document_bytes"`
}

// PipelineConfig configures extraction processing.
type PipelineConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	MaxPending  int `yaml:"max_pending" mapstructure:"max_pending"`
}

// SyncConfig configures the sync engine.
type SyncConfig struct {
	ExportBatchSize int `yaml:"export_batch_size" mapstructure:"export_batch_size"`
}

// ServerConfig configures the validation callback server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OFFICES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.path", "district_offices.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.max_attempts", 3)
	v.SetDefault("scrape.timeout_secs", 30)
	v.SetDefault("scrape.max_attempts", 3)
	v.SetDefault("scrape.requests_per_sec", 1.0)
	v.SetDefault("scrape.user_agent", "district-offices/1.0 (contact data pipeline)")
	v.SetDefault("scrape.max_document_bytes", 5<<20)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.max_pending", 100)
	v.SetDefault("sync.export_batch_size", 50)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields required for the given run mode. Modes:
// "scrape", "validate", "sync", "status".
func (c *Config) Validate(mode string) error {
	var missing []string

	if c.Store.Path == "" {
		missing = append(missing, "store.path is required")
	}

	switch mode {
	case "scrape":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
		if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 32 {
			missing = append(missing, "pipeline.concurrency must be between 1 and 32")
		}
	case "validate":
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	case "sync":
		if c.Upstream.DatabaseURL == "" {
			missing = append(missing, "upstream.database_url is required")
		}
		if c.Sync.ExportBatchSize < 1 {
			missing = append(missing, "sync.export_batch_size must be >= 1")
		}
	case "status":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
