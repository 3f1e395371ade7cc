package config

import "time"

type Config struct {
	Mode string `yaml:"mode"`

	Server struct {
		Port               int           `yaml:"port"`
		MetricsPort        int           `yaml:"metrics_port"`
		ReadTimeoutStr     string        `yaml:"read_timeout"`
		WriteTimeoutStr    string        `yaml:"write_timeout"`
		ShutdownTimeoutStr string        `yaml:"shutdown_timeout"`
		ReadTimeout        time.Duration `yaml:"-"`
		WriteTimeout       time.Duration `yaml:"-"`
		ShutdownTimeout    time.Duration `yaml:"-"`
	} `yaml:"server"`

	Storage struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"storage"`

	PostgreSQL struct {
		Host               string        `yaml:"host"`
		Port               int           `yaml:"port"`
		User               string        `yaml:"user"`
		Password           string        `yaml:"password"`
		Database           string        `yaml:"database"`
		SSLMode            string        `yaml:"sslmode"`
		MaxOpenConns       int           `yaml:"max_open_conns"`
		MaxIdleConns       int           `yaml:"max_idle_conns"`
		ConnMaxLifetimeStr string        `yaml:"conn_max_lifetime"`
		ConnMaxLifetime    time.Duration `yaml:"-"`
	} `yaml:"postgresql"`

	Redis struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		MarketTTLStr string        `yaml:"market_ttl"`
		TickTTLStr   string        `yaml:"tick_ttl"`
		MarketTTL    time.Duration `yaml:"-"`
		TickTTL      time.Duration `yaml:"-"`
	} `yaml:"redis"`

	Exchanges []Exchange `yaml:"exchanges"`

	Provider struct {
		Name       string        `yaml:"name"`
		BaseURL    string        `yaml:"base_url"`
		TimeoutStr string        `yaml:"timeout"`
		Retries    int           `yaml:"retries"`
		Timeout    time.Duration `yaml:"-"`
	} `yaml:"provider"`

	MarketData struct {
		RefreshTimeoutStr      string        `yaml:"refresh_timeout"`
		PairStrategy           string        `yaml:"pair_strategy"`
		PollIntervalStr        string        `yaml:"poll_interval"`
		AggregationIntervalStr string        `yaml:"aggregation_interval"`
		TickRetentionStr       string        `yaml:"tick_retention"`
		RefreshTimeout         time.Duration `yaml:"-"`
		PollInterval           time.Duration `yaml:"-"`
		AggregationInterval    time.Duration `yaml:"-"`
		TickRetention          time.Duration `yaml:"-"`
	} `yaml:"market_data"`

	Assets struct {
		Fiat   []FiatAsset `yaml:"fiat"`
		Crypto []string    `yaml:"crypto"`
	} `yaml:"assets"`

	Markets []Market `yaml:"markets"`

	Workers struct {
		PerExchange int `yaml:"per_exchange"`
	} `yaml:"workers"`

	Logging struct {
		Level        string `yaml:"level"`
		Format       string `yaml:"format"`
		File         string `yaml:"file"`
		EnableStdout *bool  `yaml:"enable_stdout"`
	} `yaml:"logging"`
}

// Exchange describes a push feed. Kind is "tcp", "ws" or "generator".
type Exchange struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

type FiatAsset struct {
	ID     string `yaml:"id"`
	Symbol string `yaml:"symbol"`
}

type Market struct {
	ID    string `yaml:"id"`
	Base  string `yaml:"base"`
	Quote string `yaml:"quote"`
}
