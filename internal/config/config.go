package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the marketsync service.
type Config struct {
	Storage   Storage         `yaml:"storage"`
	Server    Server          `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Logging   Logging         `yaml:"logging"`
}

// Storage selects and configures the bar store backend.
type Storage struct {
	Driver      string `yaml:"driver"` // "sqlite" or "postgres"
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresURL string `yaml:"postgres_url"`
	ExportDir   string `yaml:"export_dir"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ProvidersConfig selects the active quote and series providers and holds
// per-provider settings. Quote and series may name different providers; the
// free-tier quota terms differ enough that mixing is the common setup.
type ProvidersConfig struct {
	Quote  string `yaml:"quote"`
	Series string `yaml:"series"`

	Yahoo        YahooConfig        `yaml:"yahoo"`
	AlphaVantage AlphaVantageConfig `yaml:"alphavantage"`
	Alpaca       AlpacaConfig       `yaml:"alpaca"`
}

// YahooConfig configures the Yahoo Finance chart API client.
type YahooConfig struct {
	BaseURL             string `yaml:"base_url"`
	RequestIntervalSecs int    `yaml:"request_interval_secs"`
}

// AlphaVantageConfig configures the Alpha Vantage client. The free tier
// allows 5 calls per minute, hence the much larger default spacing.
type AlphaVantageConfig struct {
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	RequestIntervalSecs int    `yaml:"request_interval_secs"`
}

// AlpacaConfig holds credentials and endpoint for the Alpaca market-data API.
type AlpacaConfig struct {
	APIKey              string `yaml:"api_key"`
	APISecret           string `yaml:"api_secret"`
	DataURL             string `yaml:"data_url"`
	RequestIntervalSecs int    `yaml:"request_interval_secs"`
}

// IngestConfig holds the pipeline tunables. All are plain constants supplied
// by configuration, never computed.
type IngestConfig struct {
	Symbols            []string `yaml:"symbols"`
	MaxRetries         int      `yaml:"max_retries"`
	BaseRetryDelaySecs int      `yaml:"base_retry_delay_secs"`
	SymbolIntervalSecs int      `yaml:"symbol_interval_secs"`
	HistoricalStart    string   `yaml:"historical_start"` // YYYY-MM-DD
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Derived values
// ---------------------------------------------------------------------------

// RequestInterval returns the minimum spacing between Yahoo calls.
func (c YahooConfig) RequestInterval() time.Duration {
	return time.Duration(c.RequestIntervalSecs) * time.Second
}

// RequestInterval returns the minimum spacing between Alpha Vantage calls.
func (c AlphaVantageConfig) RequestInterval() time.Duration {
	return time.Duration(c.RequestIntervalSecs) * time.Second
}

// RequestInterval returns the minimum spacing between Alpaca calls.
func (c AlpacaConfig) RequestInterval() time.Duration {
	return time.Duration(c.RequestIntervalSecs) * time.Second
}

// BaseRetryDelay returns the first retry backoff step.
func (c IngestConfig) BaseRetryDelay() time.Duration {
	return time.Duration(c.BaseRetryDelaySecs) * time.Second
}

// SymbolInterval returns the pause between consecutive symbols in a run.
func (c IngestConfig) SymbolInterval() time.Duration {
	return time.Duration(c.SymbolIntervalSecs) * time.Second
}

// HistoricalStartDate parses the configured historical-load start date.
func (c IngestConfig) HistoricalStartDate() (time.Time, error) {
	t, err := time.Parse("2006-01-02", c.HistoricalStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing historical_start %q: %w", c.HistoricalStart, err)
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.PostgresURL = v
	}
	if v := os.Getenv("EXPORT_DIR"); v != "" {
		cfg.Storage.ExportDir = v
	}

	if v := os.Getenv("ALPHA_VANTAGE_API_KEY"); v != "" {
		cfg.Providers.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Providers.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Providers.Alpaca.APISecret = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Providers.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Providers.Alpaca.APISecret = v
	}

	if v := os.Getenv("SYMBOLS"); v != "" {
		parts := strings.Split(v, ",")
		var symbols []string
		for _, p := range parts {
			if s := strings.ToUpper(strings.TrimSpace(p)); s != "" {
				symbols = append(symbols, s)
			}
		}
		if len(symbols) > 0 {
			cfg.Ingest.Symbols = symbols
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Ingest.MaxRetries = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// applyDefaults fills in zero-valued fields with the standard defaults so a
// minimal config file still yields a runnable service.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/marketsync.db"
	}
	if cfg.Storage.ExportDir == "" {
		cfg.Storage.ExportDir = "data/export"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Providers.Quote == "" {
		cfg.Providers.Quote = "yahoo"
	}
	if cfg.Providers.Series == "" {
		cfg.Providers.Series = "yahoo"
	}
	if cfg.Providers.Yahoo.BaseURL == "" {
		cfg.Providers.Yahoo.BaseURL = "https://query1.finance.yahoo.com"
	}
	if cfg.Providers.Yahoo.RequestIntervalSecs == 0 {
		cfg.Providers.Yahoo.RequestIntervalSecs = 3
	}
	if cfg.Providers.AlphaVantage.BaseURL == "" {
		cfg.Providers.AlphaVantage.BaseURL = "https://www.alphavantage.co"
	}
	if cfg.Providers.AlphaVantage.RequestIntervalSecs == 0 {
		// Free tier: 5 calls/minute.
		cfg.Providers.AlphaVantage.RequestIntervalSecs = 15
	}
	if cfg.Providers.Alpaca.RequestIntervalSecs == 0 {
		cfg.Providers.Alpaca.RequestIntervalSecs = 1
	}

	if len(cfg.Ingest.Symbols) == 0 {
		cfg.Ingest.Symbols = []string{"SPY", "QQQ", "DIA", "GLD"}
	}
	if cfg.Ingest.MaxRetries == 0 {
		cfg.Ingest.MaxRetries = 3
	}
	if cfg.Ingest.BaseRetryDelaySecs == 0 {
		cfg.Ingest.BaseRetryDelaySecs = 3
	}
	if cfg.Ingest.SymbolIntervalSecs == 0 {
		cfg.Ingest.SymbolIntervalSecs = 5
	}
	if cfg.Ingest.HistoricalStart == "" {
		cfg.Ingest.HistoricalStart = "2020-01-01"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
