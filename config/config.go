package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
)

// Config for the whole application
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	API        APIConfig        `mapstructure:"api"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// General application configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// Configuration for the API server
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	Burst           int           `mapstructure:"burst"`
	MaxInFlight     int64         `mapstructure:"max_in_flight"` // concurrent valuations, 0 disables
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// Configuration for estimation and pricing
type PricingConfig struct {
	LookbackDays      int           `mapstructure:"lookback_days"`
	Trials            int           `mapstructure:"trials"`
	MaxTrials         int           `mapstructure:"max_trials"` // upper bound for per-request trials
	Workers           int           `mapstructure:"workers"` // 0 uses every CPU
	BlockSize         int           `mapstructure:"block_size"`
	Seed              *uint64       `mapstructure:"seed"`
	DividendYield     float64       `mapstructure:"dividend_yield"`
	DividendMode      string        `mapstructure:"dividend_mode"`
	EstimationTimeout time.Duration `mapstructure:"estimation_timeout"`
	ParityTolerance   *float64      `mapstructure:"parity_tolerance"`
}

// Configuration for the market data sources
type MarketDataConfig struct {
	HistorySources     []string      `mapstructure:"history_sources"` // in preference order
	RateSource         string        `mapstructure:"rate_source"`
	RateSeries         string        `mapstructure:"rate_series"`
	FREDAPIKey         string        `mapstructure:"fred_api_key"`
	YahooBaseURL       string        `mapstructure:"yahoo_base_url"`
	FREDBaseURL        string        `mapstructure:"fred_base_url"`
	FixturesFile       string        `mapstructure:"fixtures_file"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	BreakerMaxFailures int           `mapstructure:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
}

// Configuration for Kafka
type KafkaConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Brokers      []string `mapstructure:"brokers"`
	ClientID     string   `mapstructure:"client_id"`
	Topic        string   `mapstructure:"topic"`
	RequestTopic string   `mapstructure:"request_topic"` // empty disables the request consumer
	GroupID      string   `mapstructure:"group_id"`
}

// Configuration for metrics
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Known source names
const (
	SourceYahoo    = "yahoo"
	SourceFRED     = "fred"
	SourceFixtures = "fixtures"
)

// fifty years of trading days
const maxLookbackDays = 50 * 252

// Load reads the configuration from path and OPTVAL_* environment variables.
// An empty path searches ./config for config.yaml and falls back to defaults
// when none exists.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("OPTVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, apperrors.Wrap(apperrors.WithType(err, apperrors.ErrorTypeConfiguration), "failed to read config file")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, apperrors.Wrap(apperrors.WithType(err, apperrors.ErrorTypeConfiguration), "failed to unmarshal config")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks values viper cannot type-check
func (c *Config) Validate() error {
	p := c.Pricing
	switch {
	case p.Trials <= 0:
		return configErr("pricing.trials must be positive, got %d", p.Trials)
	case p.MaxTrials < p.Trials:
		return configErr("pricing.max_trials must be at least pricing.trials (%d), got %d", p.Trials, p.MaxTrials)
	case p.Workers < 0:
		return configErr("pricing.workers must be >= 0, got %d", p.Workers)
	case p.BlockSize <= 0:
		return configErr("pricing.block_size must be positive, got %d", p.BlockSize)
	case p.LookbackDays < 2 || p.LookbackDays > maxLookbackDays:
		return configErr("pricing.lookback_days must be between 2 and %d, got %d", maxLookbackDays, p.LookbackDays)
	case p.DividendYield < 0:
		return configErr("pricing.dividend_yield must be >= 0, got %v", p.DividendYield)
	case p.EstimationTimeout <= 0:
		return configErr("pricing.estimation_timeout must be positive")
	case p.ParityTolerance != nil && *p.ParityTolerance < 0:
		return configErr("pricing.parity_tolerance must be >= 0")
	}
	switch strings.ToLower(p.DividendMode) {
	case "", "reference", "adjusted":
	default:
		return configErr("unknown pricing.dividend_mode %q", p.DividendMode)
	}

	m := c.MarketData
	if len(m.HistorySources) == 0 {
		return configErr("market_data.history_sources must name at least one source")
	}
	for _, s := range m.HistorySources {
		if s != SourceYahoo && s != SourceFixtures {
			return configErr("unknown history source %q", s)
		}
	}
	if m.RateSource != SourceFRED && m.RateSource != SourceFixtures {
		return configErr("unknown rate source %q", m.RateSource)
	}
	if c.UsesFixtures() && m.FixturesFile == "" {
		return configErr("market_data.fixtures_file is required by the fixtures source")
	}
	if m.RequestTimeout <= 0 {
		return configErr("market_data.request_timeout must be positive")
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return configErr("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	return nil
}

// UsesFixtures reports whether any source reads the fixtures file
func (c *Config) UsesFixtures() bool {
	if c.MarketData.RateSource == SourceFixtures {
		return true
	}
	for _, s := range c.MarketData.HistorySources {
		if s == SourceFixtures {
			return true
		}
	}
	return false
}

func configErr(format string, args ...interface{}) error {
	return apperrors.Configuration(fmt.Sprintf(format, args...))
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "option-valuation")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "60s")
	v.SetDefault("api.shutdown_timeout", "30s")
	v.SetDefault("api.rate_limit", 50)
	v.SetDefault("api.burst", 100)
	v.SetDefault("api.max_in_flight", 8)
	v.SetDefault("api.cors.allowed_origins", []string{"*"})
	v.SetDefault("api.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("api.cors.allowed_headers", []string{"Authorization", "Content-Type"})

	// Pricing defaults
	v.SetDefault("pricing.lookback_days", 252)
	v.SetDefault("pricing.trials", 100000)
	v.SetDefault("pricing.max_trials", 10000000)
	v.SetDefault("pricing.workers", 0)
	v.SetDefault("pricing.block_size", 4096)
	v.SetDefault("pricing.dividend_yield", 0.0)
	v.SetDefault("pricing.dividend_mode", "reference")
	v.SetDefault("pricing.estimation_timeout", "30s")
	// no defaults: unset means nil
	_ = v.BindEnv("pricing.seed")
	_ = v.BindEnv("pricing.parity_tolerance")

	// Market data defaults
	v.SetDefault("market_data.history_sources", []string{SourceYahoo})
	v.SetDefault("market_data.rate_source", SourceFRED)
	v.SetDefault("market_data.rate_series", "DTB3")
	v.SetDefault("market_data.fred_api_key", "")
	v.SetDefault("market_data.fixtures_file", "")
	v.SetDefault("market_data.yahoo_base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("market_data.fred_base_url", "https://api.stlouisfed.org")
	v.SetDefault("market_data.request_timeout", "10s")
	v.SetDefault("market_data.breaker_max_failures", 3)
	v.SetDefault("market_data.breaker_timeout", "30s")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "option-valuation")
	v.SetDefault("kafka.topic", "option.valuations")
	v.SetDefault("kafka.request_topic", "")
	v.SetDefault("kafka.group_id", "option-valuation")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}

// GetConfigPath returns OPTVAL_CONFIG_PATH, or empty to search ./config
func GetConfigPath() string {
	return os.Getenv("OPTVAL_CONFIG_PATH")
}
