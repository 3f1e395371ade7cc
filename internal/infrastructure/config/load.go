package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"marketdata/internal/domain/model"
)

// Load reads the YAML config at path. Variables from a .env file in the
// working directory and the process environment override file values.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document and applies defaults, environment overrides
// and validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	// environment variables override file values
	applyEnvOverrides(&cfg)

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	setDefault := func(s *string, v string) {
		if *s == "" {
			*s = v
		}
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	setDefault(&cfg.Server.ReadTimeoutStr, "10s")
	setDefault(&cfg.Server.WriteTimeoutStr, "15s")
	setDefault(&cfg.Server.ShutdownTimeoutStr, "10s")

	setDefault(&cfg.Storage.Driver, "postgres")
	setDefault(&cfg.PostgreSQL.SSLMode, "disable")
	setDefault(&cfg.PostgreSQL.ConnMaxLifetimeStr, "30m")

	setDefault(&cfg.Redis.MarketTTLStr, "1h")
	setDefault(&cfg.Redis.TickTTLStr, "2h")

	setDefault(&cfg.Provider.Name, "http")
	setDefault(&cfg.Provider.TimeoutStr, "5s")

	setDefault(&cfg.MarketData.RefreshTimeoutStr, "10s")
	setDefault(&cfg.MarketData.PairStrategy, "direct")
	setDefault(&cfg.MarketData.PollIntervalStr, "0s")
	setDefault(&cfg.MarketData.AggregationIntervalStr, "1m")
	setDefault(&cfg.MarketData.TickRetentionStr, "2h")

	if cfg.Workers.PerExchange == 0 {
		cfg.Workers.PerExchange = 4
	}

	setDefault(&cfg.Logging.Level, "info")
	setDefault(&cfg.Logging.Format, "text")
	if cfg.Logging.EnableStdout == nil {
		stdout := true
		cfg.Logging.EnableStdout = &stdout
	}
	setDefault(&cfg.Mode, "live")
}

func applyEnvOverrides(cfg *Config) {
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// PostgreSQL
	envString("POSTGRES_HOST", &cfg.PostgreSQL.Host)
	envInt("POSTGRES_PORT", &cfg.PostgreSQL.Port)
	envString("POSTGRES_USER", &cfg.PostgreSQL.User)
	envString("POSTGRES_PASSWORD", &cfg.PostgreSQL.Password)
	envString("POSTGRES_DB", &cfg.PostgreSQL.Database)

	// Redis
	envString("REDIS_HOST", &cfg.Redis.Host)
	envInt("REDIS_PORT", &cfg.Redis.Port)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("REDIS_DB", &cfg.Redis.DB)

	envInt("SERVER_PORT", &cfg.Server.Port)
	envInt("METRICS_PORT", &cfg.Server.MetricsPort)
	envString("LOG_FILE", &cfg.Logging.File)
	envString("STORAGE_DRIVER", &cfg.Storage.Driver)
	envString("PROVIDER_URL", &cfg.Provider.BaseURL)
}

func (c *Config) parseDurations() error {
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"server.read_timeout", c.Server.ReadTimeoutStr, &c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeoutStr, &c.Server.WriteTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeoutStr, &c.Server.ShutdownTimeout},
		{"postgresql.conn_max_lifetime", c.PostgreSQL.ConnMaxLifetimeStr, &c.PostgreSQL.ConnMaxLifetime},
		{"redis.market_ttl", c.Redis.MarketTTLStr, &c.Redis.MarketTTL},
		{"redis.tick_ttl", c.Redis.TickTTLStr, &c.Redis.TickTTL},
		{"provider.timeout", c.Provider.TimeoutStr, &c.Provider.Timeout},
		{"market_data.refresh_timeout", c.MarketData.RefreshTimeoutStr, &c.MarketData.RefreshTimeout},
		{"market_data.poll_interval", c.MarketData.PollIntervalStr, &c.MarketData.PollInterval},
		{"market_data.aggregation_interval", c.MarketData.AggregationIntervalStr, &c.MarketData.AggregationInterval},
		{"market_data.tick_retention", c.MarketData.TickRetentionStr, &c.MarketData.TickRetention},
	}

	for _, d := range durations {
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, d.raw, err)
		}
		*d.dst = v
	}
	return nil
}

// Validate checks the decoded configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d", c.Server.Port)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port number: %d", c.Server.MetricsPort)
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.Port {
		return fmt.Errorf("metrics port must differ from the server port")
	}
	if !c.LogToStdout() && c.Logging.File == "" {
		return fmt.Errorf("logging needs a file when stdout is disabled")
	}

	switch c.Storage.Driver {
	case "postgres":
		if c.PostgreSQL.Host == "" || c.PostgreSQL.Database == "" {
			return fmt.Errorf("postgresql host and database are required")
		}
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path cannot be empty for sqlite")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("redis host is required when redis is enabled")
	}

	if _, err := model.ParseDataMode(c.Mode); err != nil {
		return err
	}

	switch c.Provider.Name {
	case "http":
		if c.Provider.BaseURL == "" {
			return fmt.Errorf("provider base_url is required for the http provider")
		}
	case "generator":
	default:
		return fmt.Errorf("unknown price provider %q", c.Provider.Name)
	}
	if c.Provider.Retries < 0 {
		return fmt.Errorf("provider retries cannot be negative")
	}
	if c.MarketData.RefreshTimeout <= 0 {
		return fmt.Errorf("market_data.refresh_timeout must be greater than 0")
	}

	for i, ex := range c.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("exchange %d must have a name", i)
		}
		switch ex.Kind {
		case "tcp":
			if ex.Host == "" || ex.Port == 0 {
				return fmt.Errorf("exchange %s: host and port are required", ex.Name)
			}
		case "ws":
			if ex.URL == "" {
				return fmt.Errorf("exchange %s: url is required", ex.Name)
			}
		case "generator":
		default:
			return fmt.Errorf("exchange %s: unknown kind %q", ex.Name, ex.Kind)
		}
	}

	_, err := c.MarketList()
	return err
}

// AssetList returns the configured assets. Crypto symbols are the upper-cased ids.
func (c *Config) AssetList() []model.Asset {
	assets := make([]model.Asset, 0, len(c.Assets.Fiat)+len(c.Assets.Crypto))
	for _, f := range c.Assets.Fiat {
		symbol := f.Symbol
		if symbol == "" {
			symbol = strings.ToUpper(f.ID)
		}
		assets = append(assets, model.NewFiat(strings.ToLower(f.ID), symbol))
	}
	for _, id := range c.Assets.Crypto {
		assets = append(assets, model.NewCrypto(strings.ToLower(id)))
	}
	return assets
}

// MarketList resolves the configured markets against the configured assets.
func (c *Config) MarketList() ([]model.Market, error) {
	assets := make(map[model.AssetID]model.Asset)
	for _, a := range c.AssetList() {
		assets[a.ID] = a
	}

	seen := make(map[string]bool, len(c.Markets))
	markets := make([]model.Market, 0, len(c.Markets))
	for _, m := range c.Markets {
		id := strings.ToLower(m.ID)
		if id == "" {
			return nil, fmt.Errorf("market %s/%s must have an id", m.Base, m.Quote)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate market %s", id)
		}
		seen[id] = true

		base, ok := assets[strings.ToLower(m.Base)]
		if !ok {
			return nil, fmt.Errorf("market %s: unknown base asset %q", id, m.Base)
		}
		quote, ok := assets[strings.ToLower(m.Quote)]
		if !ok {
			return nil, fmt.Errorf("market %s: unknown quote asset %q", id, m.Quote)
		}
		markets = append(markets, model.NewMarket(id, base, quote, nil))
	}
	return markets, nil
}

func (c *Config) MarketIDs() []model.MarketID {
	ids := make([]model.MarketID, 0, len(c.Markets))
	for _, m := range c.Markets {
		ids = append(ids, strings.ToLower(m.ID))
	}
	return ids
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgreSQL.Host, c.PostgreSQL.Port, c.PostgreSQL.User,
		c.PostgreSQL.Password, c.PostgreSQL.Database, c.PostgreSQL.SSLMode,
	)
}

// LogToStdout reports whether log records go to stdout.
func (c *Config) LogToStdout() bool {
	return c.Logging.EnableStdout == nil || *c.Logging.EnableStdout
}

// StorageDSN returns the data source name for the configured driver.
func (c *Config) StorageDSN() string {
	if c.Storage.Driver == "sqlite" {
		return c.Storage.Path
	}
	return c.PostgresDSN()
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
