package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full process configuration for the risk engine.
type Config struct {
	Environment string `json:"environment"`
	Symbol      string `json:"symbol"`
	LogDir      string `json:"log_dir"`
	Debug       bool   `json:"debug"`

	Risk     RiskLimits     `json:"risk"`
	Metrics  MetricsConfig  `json:"metrics"`
	Engine   EngineConfig   `json:"engine"`
	Strategy StrategyConfig `json:"strategy"`
	API      APIConfig      `json:"api"`
	Storage  StorageConfig  `json:"storage"`
	Exchange ExchangeConfig `json:"exchange"`

	Notifications NotificationsConfig `json:"notifications"`
}

// MetricsConfig controls the performance aggregator.
type MetricsConfig struct {
	ReportingCadence Duration `json:"reporting_cadence"` // bucket width for Sharpe returns
	PeriodsPerYear   float64  `json:"periods_per_year"`
	Window           int      `json:"window"` // trailing trades in a snapshot, 0 = all
	MaxSamples       int      `json:"max_samples"`
}

// EngineConfig drives the trading loop.
type EngineConfig struct {
	Interval                  Duration `json:"interval"`
	RollupInterval            Duration `json:"rollup_interval"`
	CheckpointInterval        Duration `json:"checkpoint_interval"`
	MaxConsecutiveCycleErrors int      `json:"max_consecutive_cycle_errors"`
	DryRun                    bool     `json:"dry_run"`
	PaperEquity               float64  `json:"paper_equity"`
}

type APIConfig struct {
	ListenAddr        string  `json:"listen_addr"`
	RateLimitBurst    int     `json:"rate_limit_burst"`
	RateLimitPerSec   float64 `json:"rate_limit_per_sec"`
	OverrideTokenHash string  `json:"-"` // bcrypt hash, env only
}

type StorageConfig struct {
	Driver string `json:"driver"` // "file", "postgres" or "memory"
	Path   string `json:"path"`   // state directory for the file driver
	DSN    string `json:"-"`      // env only
}

type ExchangeConfig struct {
	Name      string `json:"name"`     // "bybit" or "paper"
	Category  string `json:"category"` // bybit product category, "linear" or "spot"
	Testnet   bool   `json:"testnet"`
	Demo      bool   `json:"demo"`
	APIKey    string `json:"-"`
	APISecret string `json:"-"`
}

// NotificationsConfig enables Telegram risk alerts when a bot token is present.
type NotificationsConfig struct {
	TelegramToken  string `json:"-"` // env only
	TelegramChatID int64  `json:"telegram_chat_id"`
	QueueSize      int    `json:"queue_size"`
}

func (n NotificationsConfig) Enabled() bool {
	return n.TelegramToken != ""
}

// Default returns a configuration that runs against the paper gateway with a file store.
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// Load reads an optional JSON file, applies defaults, then environment overrides, and validates.
// A bare file name is looked up under configs/ and ".json" is appended when missing.
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if !strings.ContainsAny(configFile, "/\\") {
			configFile = filepath.Join("configs", configFile)
		}
		if !strings.HasSuffix(configFile, ".json") {
			configFile += ".json"
		}
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.setDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadEnvFile loads a .env file into the process environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func (c *Config) setDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Symbol == "" {
		c.Symbol = "BTCUSDT"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}

	c.Risk.setDefaults()

	if c.Metrics.ReportingCadence == 0 {
		c.Metrics.ReportingCadence = Duration(24 * time.Hour)
	}
	if c.Metrics.PeriodsPerYear == 0 {
		c.Metrics.PeriodsPerYear = 365
	}
	if c.Metrics.MaxSamples == 0 {
		c.Metrics.MaxSamples = 10000
	}

	if c.Engine.Interval == 0 {
		c.Engine.Interval = Duration(time.Minute)
	}
	if c.Engine.RollupInterval == 0 {
		c.Engine.RollupInterval = Duration(time.Hour)
	}
	if c.Engine.MaxConsecutiveCycleErrors == 0 {
		c.Engine.MaxConsecutiveCycleErrors = 5
	}
	if c.Engine.CheckpointInterval == 0 {
		c.Engine.CheckpointInterval = Duration(5 * time.Minute)
	}
	if c.Engine.PaperEquity == 0 {
		c.Engine.PaperEquity = 10000
	}
	c.Strategy.setDefaults()

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = 20
	}
	if c.API.RateLimitPerSec == 0 {
		c.API.RateLimitPerSec = 5
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data"
	}

	if c.Exchange.Name == "" {
		c.Exchange.Name = "paper"
	}
	if c.Exchange.Category == "" {
		c.Exchange.Category = "linear"
	}

	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = 64
	}
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("ENV", c.Environment)
	c.Symbol = getEnv("TRADING_SYMBOL", c.Symbol)
	c.LogDir = getEnv("LOG_DIR", c.LogDir)
	c.Debug = getEnvAsBool("DEBUG", c.Debug)

	c.Risk.MaxDrawdownTripPct = getEnvAsFloat("RISK_MAX_DRAWDOWN_PCT", c.Risk.MaxDrawdownTripPct)
	c.Risk.CooldownDuration = Duration(getEnvAsDuration("RISK_COOLDOWN", c.Risk.Cooldown()))

	c.Engine.Interval = Duration(getEnvAsDuration("ENGINE_INTERVAL", c.Engine.Interval.Std()))
	c.Engine.DryRun = getEnvAsBool("DRY_RUN", c.Engine.DryRun)

	c.API.ListenAddr = getEnv("API_LISTEN_ADDR", c.API.ListenAddr)
	c.API.OverrideTokenHash = getEnv("RISK_OVERRIDE_TOKEN_HASH", c.API.OverrideTokenHash)

	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Path = getEnv("STORAGE_PATH", c.Storage.Path)
	c.Storage.DSN = getEnv("DATABASE_URL", c.Storage.DSN)

	c.Exchange.Name = getEnv("EXCHANGE_NAME", c.Exchange.Name)
	c.Exchange.Testnet = getEnvAsBool("EXCHANGE_TESTNET", c.Exchange.Testnet)
	c.Exchange.Demo = getEnvAsBool("EXCHANGE_DEMO", c.Exchange.Demo)
	c.Exchange.APIKey = getEnv("BYBIT_API_KEY", c.Exchange.APIKey)
	c.Exchange.APISecret = getEnv("BYBIT_API_SECRET", c.Exchange.APISecret)

	c.Notifications.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notifications.TelegramToken)
	c.Notifications.TelegramChatID = getEnvAsInt64("TELEGRAM_CHAT_ID", c.Notifications.TelegramChatID)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if c.Metrics.ReportingCadence <= 0 {
		return fmt.Errorf("metrics.reporting_cadence must be positive")
	}
	if c.Metrics.PeriodsPerYear <= 0 {
		return fmt.Errorf("metrics.periods_per_year must be positive")
	}
	if c.Metrics.Window < 0 {
		return fmt.Errorf("metrics.window must not be negative")
	}
	if c.Engine.Interval <= 0 {
		return fmt.Errorf("engine.interval must be positive")
	}
	if c.Engine.MaxConsecutiveCycleErrors < 1 {
		return fmt.Errorf("engine.max_consecutive_cycle_errors must be at least 1")
	}

	switch c.Storage.Driver {
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the file driver")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	switch c.Exchange.Name {
	case "paper":
	case "bybit":
		if !c.Engine.DryRun && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
			return fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET are required for bybit")
		}
	default:
		return fmt.Errorf("unsupported exchange %q", c.Exchange.Name)
	}

	if c.Notifications.Enabled() && c.Notifications.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.Notifications.QueueSize < 1 {
		return fmt.Errorf("notifications.queue_size must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	value, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
