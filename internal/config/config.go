package config

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	DataSource struct {
		Provider             string        `yaml:"provider"` // yfinance, chart or mock
		FetchTimeout         time.Duration `yaml:"fetch_timeout"`
		MaxConcurrentFetches int64         `yaml:"max_concurrent_fetches"`
	} `yaml:"data_source"`
	Grid struct {
		Policy         string        `yaml:"policy"` // confirm or auto
		GridPercent    string        `yaml:"grid_percent"`
		SweepInterval  time.Duration `yaml:"sweep_interval"`
		WorkerInterval time.Duration `yaml:"worker_interval"`
		RetryBackoff   time.Duration `yaml:"retry_backoff"`
		PersistAuto    bool          `yaml:"persist_auto"`
	} `yaml:"grid"`
	Assets struct {
		File string `yaml:"file"`
	} `yaml:"assets"`
	Ledger struct {
		File string `yaml:"file"`
	} `yaml:"ledger"`
	Analysis struct {
		File        string `yaml:"file"`
		RefreshCron string `yaml:"refresh_cron"`
		Redis       struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Key      string `yaml:"key"`
		} `yaml:"redis"`
	} `yaml:"analysis"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Console struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"console"`
	Log struct {
		Level      string `yaml:"level"`
		Pretty     bool   `yaml:"pretty"`
		File       string `yaml:"file"`
		MaxSizeMB  int64  `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("GRID_POLICY"); v != "" {
		cfg.Grid.Policy = v
	}
	if v := os.Getenv("ASSET_FILE"); v != "" {
		cfg.Assets.File = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Analysis.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// Defaults
	if cfg.DataSource.Provider == "" {
		cfg.DataSource.Provider = "yfinance"
	}
	if cfg.DataSource.FetchTimeout == 0 {
		cfg.DataSource.FetchTimeout = 20 * time.Second
	}
	if cfg.DataSource.MaxConcurrentFetches == 0 {
		cfg.DataSource.MaxConcurrentFetches = 4
	}
	if cfg.Grid.Policy == "" {
		cfg.Grid.Policy = "confirm"
	}
	if cfg.Grid.GridPercent == "" {
		cfg.Grid.GridPercent = "0.04"
	}
	if cfg.Grid.SweepInterval == 0 {
		cfg.Grid.SweepInterval = 60 * time.Second
	}
	if cfg.Grid.WorkerInterval == 0 {
		cfg.Grid.WorkerInterval = 15 * time.Second
	}
	if cfg.Grid.RetryBackoff == 0 {
		cfg.Grid.RetryBackoff = 10 * time.Second
	}
	if cfg.Assets.File == "" {
		cfg.Assets.File = "app_config.json"
	}
	if cfg.Ledger.File == "" {
		cfg.Ledger.File = "transactions.csv"
	}
	if cfg.Analysis.File == "" {
		cfg.Analysis.File = "analysis_cache.json"
	}
	if cfg.Analysis.RefreshCron == "" {
		cfg.Analysis.RefreshCron = "0 5 0 * * *"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/grid_sentinel.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return cfg, nil
}

// GridStep returns the auto policy's fallback grid step.
func (c *Config) GridStep() decimal.Decimal {
	d, err := decimal.NewFromString(c.Grid.GridPercent)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// TelegramEnabled reports whether alerts go to Telegram.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != ""
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required with telegram.bot_token")
	}
	switch c.DataSource.Provider {
	case "yfinance", "chart", "mock":
	default:
		return fmt.Errorf("data_source.provider %q is not one of yfinance, chart, mock", c.DataSource.Provider)
	}
	if c.DataSource.MaxConcurrentFetches < 1 {
		return fmt.Errorf("data_source.max_concurrent_fetches must be positive")
	}
	switch c.Grid.Policy {
	case "confirm", "auto":
	default:
		return fmt.Errorf("grid.policy %q is not one of confirm, auto", c.Grid.Policy)
	}
	step, err := decimal.NewFromString(c.Grid.GridPercent)
	if err != nil {
		return fmt.Errorf("grid.grid_percent: %w", err)
	}
	if !step.IsPositive() || step.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("grid.grid_percent must be in (0, 1)")
	}
	if c.Grid.SweepInterval <= 0 || c.Grid.WorkerInterval <= 0 || c.Grid.RetryBackoff <= 0 {
		return fmt.Errorf("grid intervals must be positive")
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Analysis.RefreshCron); err != nil {
		return fmt.Errorf("analysis.refresh_cron: %w", err)
	}
	return nil
}
