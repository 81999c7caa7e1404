package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"github.com/vadiminshakov/valutatrade/internal/sources"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// DefaultPath config file picked up when --config is not set.
const DefaultPath = "valutatrade.yaml"

// Environment overrides.
const (
	EnvExchangeRateAPIKey = "EXCHANGERATE_API_KEY"
	EnvDataDir            = "VALUTATRADE_DATA_DIR"
	EnvBaseCurrency       = "VALUTATRADE_BASE_CURRENCY"
	EnvRedisAddr          = "VALUTATRADE_REDIS_ADDR"
	EnvLogLevel           = "VALUTATRADE_LOG_LEVEL"
	EnvUser               = "VALUTATRADE_USER"
)

type Config struct {
	BaseCurrency    string
	DataDir         string
	RatesTTL        time.Duration
	RefreshInterval time.Duration
	Listen          string
	Timeout         time.Duration
	Retries         int
	// Sources in merge order, later sources win on conflicts.
	Sources      []domain.Source
	CoinGecko    CoinGecko
	ExchangeRate ExchangeRate
	Redis        Redis
	Log          Log
}

type CoinGecko struct {
	URL string
	// IDs maps a ticker to its CoinGecko id.
	IDs map[string]string
}

type ExchangeRate struct {
	URL        string
	APIKey     string
	Currencies []string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Log struct {
	Level zapcore.Level
	File  string
}

// ConfigTmp raw yaml representation.
type ConfigTmp struct {
	BaseCurrency    string      `yaml:"base_currency,omitempty"`
	DataDir         string      `yaml:"data_dir,omitempty"`
	RatesTTL        string      `yaml:"rates_ttl,omitempty"`
	RefreshInterval string      `yaml:"refresh_interval,omitempty"`
	Listen          string      `yaml:"listen,omitempty"`
	Timeout         string      `yaml:"timeout,omitempty"`
	Retries         string      `yaml:"retries,omitempty"`
	Sources         []SourceTmp `yaml:"sources,omitempty"`
	Redis           RedisTmp    `yaml:"redis,omitempty"`
	Log             LogTmp      `yaml:"log,omitempty"`
}

type SourceTmp struct {
	Name       string            `yaml:"name"`
	Order      int               `yaml:"order,omitempty"`
	Disabled   bool              `yaml:"disabled,omitempty"`
	URL        string            `yaml:"url,omitempty"`
	APIKey     string            `yaml:"api_key,omitempty"`
	IDs        map[string]string `yaml:"ids,omitempty"`
	Currencies []string          `yaml:"currencies,omitempty"`
}

type RedisTmp struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       string `yaml:"db,omitempty"`
}

type LogTmp struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		BaseCurrency:    "USD",
		DataDir:         "data",
		RatesTTL:        5 * time.Minute,
		RefreshInterval: 5 * time.Minute,
		Listen:          ":8080",
		Timeout:         sources.DefaultTimeout,
		Retries:         sources.DefaultRetries,
		Sources:         []domain.Source{domain.SourceCoinGecko, domain.SourceExchangeRate},
		CoinGecko: CoinGecko{
			URL: sources.DefaultCoinGeckoURL,
			IDs: map[string]string{"BTC": "bitcoin", "ETH": "ethereum", "SOL": "solana"},
		},
		ExchangeRate: ExchangeRate{
			URL:        sources.DefaultExchangeRateURL,
			Currencies: []string{"EUR", "GBP", "RUB"},
		},
		Log: Log{Level: zapcore.InfoLevel, File: "logs/actions.log"},
	}
}

// Load reads .env, the yaml file at path and environment overrides.
// An empty path falls back to DefaultPath when that file exists.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}

	var tmp ConfigTmp
	if path != "" {
		f, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(f, &tmp); err != nil {
			return Config{}, fmt.Errorf("incorrect yaml config %s: %w", path, err)
		}
	}

	cfg, err := Parse(tmp)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

// Parse converts raw yaml values into a Config on top of the defaults.
func Parse(c ConfigTmp) (Config, error) {
	cfg := Default()

	if c.BaseCurrency != "" {
		cfg.BaseCurrency = c.BaseCurrency
	}
	if c.DataDir != "" {
		cfg.DataDir = c.DataDir
	}
	if c.Listen != "" {
		cfg.Listen = c.Listen
	}

	var err error
	if cfg.RatesTTL, err = parseDuration("rates_ttl", c.RatesTTL, cfg.RatesTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshInterval, err = parseDuration("refresh_interval", c.RefreshInterval, cfg.RefreshInterval); err != nil {
		return Config{}, err
	}
	if cfg.Timeout, err = parseDuration("timeout", c.Timeout, cfg.Timeout); err != nil {
		return Config{}, err
	}
	if c.Retries != "" {
		retries, err := strconv.Atoi(c.Retries)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'retries' param in yaml config (must be an integer), error: %w", err)
		}
		cfg.Retries = retries
	}

	if len(c.Sources) > 0 {
		if err := cfg.parseSources(c.Sources); err != nil {
			return Config{}, err
		}
	}

	cfg.Redis.Addr = c.Redis.Addr
	cfg.Redis.Password = c.Redis.Password
	if c.Redis.DB != "" {
		db, err := strconv.Atoi(c.Redis.DB)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'redis.db' param in yaml config (must be an integer), error: %w", err)
		}
		cfg.Redis.DB = db
	}

	if c.Log.Level != "" {
		if err := cfg.Log.Level.UnmarshalText([]byte(c.Log.Level)); err != nil {
			return Config{}, fmt.Errorf("incorrect 'log.level' param in yaml config: %w", err)
		}
	}
	if c.Log.File != "" {
		cfg.Log.File = c.Log.File
	}

	return cfg, nil
}

func (cfg *Config) parseSources(raw []SourceTmp) error {
	sorted := append([]SourceTmp(nil), raw...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	cfg.Sources = nil
	seen := make(map[domain.Source]bool)
	for _, s := range sorted {
		src, err := domain.ParseSource(s.Name)
		if err != nil || src == domain.SourceAll {
			return fmt.Errorf("incorrect 'sources.name' param in yaml config: %q", s.Name)
		}
		if seen[src] {
			return fmt.Errorf("source %s configured twice", src)
		}
		seen[src] = true

		switch src {
		case domain.SourceCoinGecko:
			if s.URL != "" {
				cfg.CoinGecko.URL = s.URL
			}
			if len(s.IDs) > 0 {
				cfg.CoinGecko.IDs = make(map[string]string, len(s.IDs))
				for ticker, id := range s.IDs {
					cfg.CoinGecko.IDs[strings.ToUpper(ticker)] = id
				}
			}
		case domain.SourceExchangeRate:
			if s.URL != "" {
				cfg.ExchangeRate.URL = s.URL
			}
			if s.APIKey != "" {
				cfg.ExchangeRate.APIKey = s.APIKey
			}
			if len(s.Currencies) > 0 {
				cfg.ExchangeRate.Currencies = s.Currencies
			}
		}

		if !s.Disabled {
			cfg.Sources = append(cfg.Sources, src)
		}
	}

	return nil
}

func (cfg *Config) applyEnv() error {
	if v := os.Getenv(EnvExchangeRateAPIKey); v != "" {
		cfg.ExchangeRate.APIKey = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvBaseCurrency); v != "" {
		cfg.BaseCurrency = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		if err := cfg.Log.Level.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("incorrect %s: %w", EnvLogLevel, err)
		}
	}
	return nil
}

// Validate checks the config and normalizes currency codes.
func (cfg *Config) Validate() error {
	base, err := domain.NormalizeSymbol(cfg.BaseCurrency)
	if err != nil {
		return fmt.Errorf("incorrect 'base_currency': %w", err)
	}
	cfg.BaseCurrency = base

	if cfg.DataDir == "" {
		return fmt.Errorf("'data_dir' cannot be empty")
	}
	if cfg.RatesTTL < 0 {
		return fmt.Errorf("'rates_ttl' cannot be negative")
	}
	if cfg.RefreshInterval <= 0 {
		return fmt.Errorf("'refresh_interval' must be positive")
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("'timeout' must be positive")
	}
	if cfg.Retries < 0 {
		return fmt.Errorf("'retries' cannot be negative")
	}

	for ticker := range cfg.CoinGecko.IDs {
		if _, err := domain.NormalizeSymbol(ticker); err != nil {
			return fmt.Errorf("incorrect coingecko ticker: %w", err)
		}
	}
	currencies := make([]string, 0, len(cfg.ExchangeRate.Currencies))
	for _, c := range cfg.ExchangeRate.Currencies {
		code, err := domain.NormalizeSymbol(c)
		if err != nil {
			return fmt.Errorf("incorrect exchangerate currency: %w", err)
		}
		currencies = append(currencies, code)
	}
	cfg.ExchangeRate.Currencies = currencies

	return nil
}

// Tmp converts the config back into its yaml representation.
func (cfg Config) Tmp() ConfigTmp {
	tmp := ConfigTmp{
		BaseCurrency:    cfg.BaseCurrency,
		DataDir:         cfg.DataDir,
		RatesTTL:        cfg.RatesTTL.String(),
		RefreshInterval: cfg.RefreshInterval.String(),
		Listen:          cfg.Listen,
		Timeout:         cfg.Timeout.String(),
		Retries:         strconv.Itoa(cfg.Retries),
		Redis:           RedisTmp{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password},
		Log:             LogTmp{Level: cfg.Log.Level.String(), File: cfg.Log.File},
	}
	if cfg.Redis.DB != 0 {
		tmp.Redis.DB = strconv.Itoa(cfg.Redis.DB)
	}
	for i, src := range cfg.Sources {
		s := SourceTmp{Name: src.String(), Order: i + 1}
		switch src {
		case domain.SourceCoinGecko:
			s.URL = cfg.CoinGecko.URL
			s.IDs = cfg.CoinGecko.IDs
		case domain.SourceExchangeRate:
			s.URL = cfg.ExchangeRate.URL
			s.APIKey = cfg.ExchangeRate.APIKey
			s.Currencies = cfg.ExchangeRate.Currencies
		}
		tmp.Sources = append(tmp.Sources, s)
	}
	return tmp
}

// Write stores the config as yaml at path.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg.Tmp())
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func parseDuration(name, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("incorrect '%s' param in yaml config (correct format is 5m), error: %w", name, err)
	}
	return d, nil
}
