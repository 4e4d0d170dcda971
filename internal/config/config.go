package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Fees       FeesConfig       `mapstructure:"fees"`
	Dispute    DisputeConfig    `mapstructure:"dispute"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// StorageConfig holds the SQLite status ledger location
type StorageConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// FeesConfig holds fee rates in basis points of the losing stake
type FeesConfig struct {
	PlatformBps       int64  `mapstructure:"platform_bps"`
	CreatorBps        int64  `mapstructure:"creator_bps"`
	PlatformRecipient string `mapstructure:"platform_recipient"`
	UnitsPerUSD       int64  `mapstructure:"units_per_usd"`
}

// DisputeConfig holds the contest-window policy
type DisputeConfig struct {
	ContestWindow    time.Duration `mapstructure:"contest_window"`
	Arbiters         []string      `mapstructure:"arbiters"`
	FilingsPerMinute int           `mapstructure:"filings_per_minute"`
}

// SettlementConfig holds submission and confirmation policy
type SettlementConfig struct {
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	Confirmations  int           `mapstructure:"confirmations"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	WorkerInterval time.Duration `mapstructure:"worker_interval"`
	AutoSubmit     bool          `mapstructure:"auto_submit"`
}

// LedgerConfig holds the external ledger connection
type LedgerConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	ChainID         string `mapstructure:"chain_id"`
	ProgramID       string `mapstructure:"program_id"`
	SignerKeyBase58 string `mapstructure:"signer_key"`
}

// BackendConfig holds the off-chain preparation/notification service. An
// empty BaseURL means the in-process preparer is used.
type BackendConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	ServiceKey string        `mapstructure:"service_key"` // bearer token for /api/settlement/*
}

// TelegramConfig holds Telegram bot and identity configuration
type TelegramConfig struct {
	BotToken  string `mapstructure:"bot_token"`
	AdminID   int64  `mapstructure:"admin_id"`
	ChannelID string `mapstructure:"channel_id"`
	WebAppURL string `mapstructure:"web_app_url"`
}

// Load reads configuration from an optional file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	bindLegacyEnv(v)

	v.SetEnvPrefix("SETTLEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// DISPUTE_DELAY_MINUTES predates the duration setting
	if minutes := v.GetInt("dispute.delay_minutes"); minutes > 0 {
		cfg.Dispute.ContestWindow = time.Duration(minutes) * time.Minute
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("storage.database_path", "/app/data/settlement.db")
	v.SetDefault("logging.level", "info")

	v.SetDefault("fees.platform_bps", 250)
	v.SetDefault("fees.creator_bps", 100)
	v.SetDefault("fees.units_per_usd", 100)

	v.SetDefault("dispute.contest_window", "24h")
	v.SetDefault("dispute.filings_per_minute", 5)

	v.SetDefault("settlement.confirm_timeout", "180s")
	v.SetDefault("settlement.confirmations", 1)
	v.SetDefault("settlement.poll_interval", "2s")
	v.SetDefault("settlement.worker_interval", "1m")
	v.SetDefault("settlement.auto_submit", false)

	v.SetDefault("ledger.rpc_url", "https://api.devnet.solana.com")

	v.SetDefault("backend.timeout", "10s")
}

// bindLegacyEnv keeps the environment variable names the bot deployment already uses.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SETTLEMENT_SERVER_PORT", "PORT")
	_ = v.BindEnv("storage.database_path", "SETTLEMENT_STORAGE_DATABASE_PATH", "DATABASE_PATH")
	_ = v.BindEnv("telegram.bot_token", "SETTLEMENT_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.admin_id", "SETTLEMENT_TELEGRAM_ADMIN_ID", "ADMIN_TELEGRAM_ID")
	_ = v.BindEnv("telegram.channel_id", "SETTLEMENT_TELEGRAM_CHANNEL_ID", "CHANNEL_ID")
	_ = v.BindEnv("telegram.web_app_url", "SETTLEMENT_TELEGRAM_WEB_APP_URL", "WEB_APP_URL")
	_ = v.BindEnv("dispute.delay_minutes", "DISPUTE_DELAY_MINUTES")
	_ = v.BindEnv("ledger.rpc_url", "SETTLEMENT_LEDGER_RPC_URL", "SOLANA_RPC_URL")
	_ = v.BindEnv("backend.service_key", "SETTLEMENT_BACKEND_SERVICE_KEY", "SERVICE_KEY")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}
	if c.Fees.PlatformBps < 0 || c.Fees.CreatorBps < 0 {
		return fmt.Errorf("fees must not be negative")
	}
	if c.Fees.PlatformBps+c.Fees.CreatorBps > 10000 {
		return fmt.Errorf("fees.platform_bps + fees.creator_bps must not exceed 10000")
	}
	if c.Fees.UnitsPerUSD < 1 {
		return fmt.Errorf("fees.units_per_usd must be at least 1")
	}
	if c.Dispute.ContestWindow <= 0 {
		return fmt.Errorf("dispute.contest_window must be positive")
	}
	if c.Dispute.FilingsPerMinute < 1 {
		return fmt.Errorf("dispute.filings_per_minute must be at least 1")
	}
	if c.Settlement.ConfirmTimeout <= 0 {
		return fmt.Errorf("settlement.confirm_timeout must be positive")
	}
	if c.Settlement.Confirmations < 1 {
		return fmt.Errorf("settlement.confirmations must be at least 1")
	}
	if c.Settlement.PollInterval <= 0 {
		return fmt.Errorf("settlement.poll_interval must be positive")
	}
	if c.Settlement.AutoSubmit && c.Ledger.SignerKeyBase58 == "" {
		return fmt.Errorf("ledger.signer_key is required when settlement.auto_submit is enabled")
	}
	if c.Ledger.SignerKeyBase58 != "" && c.Ledger.ProgramID == "" {
		return fmt.Errorf("ledger.program_id is required when a signer key is configured")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	return nil
}
