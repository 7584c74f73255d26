// Package config defines all configuration for the market-making bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Merge     MergeConfig     `mapstructure:"merge"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from
// signer when using a proxy wallet).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds Polymarket API endpoints and the L2 credential triplet.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth
// on startup.
type APIConfig struct {
	CLOBBaseURL string `mapstructure:"clob_base_url"`
	DataBaseURL string `mapstructure:"data_base_url"`
	WSMarketURL string `mapstructure:"ws_market_url"`
	WSUserURL   string `mapstructure:"ws_user_url"`
	RPCURL      string `mapstructure:"rpc_url"`
	ApiKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
	Passphrase  string `mapstructure:"passphrase"`
}

// SheetsConfig points at the published spreadsheet that drives market
// selection and strategy hyperparameters. URL is the "publish to web" base;
// tabs are fetched as CSV exports by sheet name.
type SheetsConfig struct {
	URL string `mapstructure:"url"`
}

// TradingConfig tunes the quoting and risk behaviour shared by all markets.
// Per-market parameters (trade size, max size, thresholds) come from the
// spreadsheet; these are the process-wide knobs.
//
//   - MinMergeSize: merge offsetting YES/NO inventory only above this many shares.
//   - TailDelay: pause after each full trading pass before releasing the market lock.
//   - RiskDir: directory for per-market stop-loss cooldown files.
type TradingConfig struct {
	MinMergeSize float64       `mapstructure:"min_merge_size"`
	TailDelay    time.Duration `mapstructure:"tail_delay"`
}

// ReconcileConfig paces the periodic REST reconciliation loop.
//
//   - Interval: positions + orders re-pull cadence.
//   - MarketsEvery: refresh the spreadsheet market set every N reconcile ticks.
//   - PendingMaxAge: drop pending fill entries older than this (missed WS confirms).
type ReconcileConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	MarketsEvery  int           `mapstructure:"markets_every"`
	PendingMaxAge time.Duration `mapstructure:"pending_max_age"`
}

// MergeConfig configures the external merge helper that burns offsetting
// YES/NO token pairs back into USDC on chain. Command is invoked as
// "<command> <raw_amount> <condition_id> <true|false>".
type MergeConfig struct {
	Command string `mapstructure:"command"`
}

// StoreConfig sets where per-market risk state is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY, POLY_API_SECRET, POLY_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Trading.MinMergeSize == 0 {
		c.Trading.MinMergeSize = 1
	}
	if c.Trading.TailDelay == 0 {
		c.Trading.TailDelay = 2 * time.Second
	}
	if c.Reconcile.Interval == 0 {
		c.Reconcile.Interval = 5 * time.Second
	}
	if c.Reconcile.MarketsEvery == 0 {
		c.Reconcile.MarketsEvery = 6
	}
	if c.Reconcile.PendingMaxAge == 0 {
		c.Reconcile.PendingMaxAge = 15 * time.Second
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = "positions"
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.API.DataBaseURL == "" {
		return fmt.Errorf("api.data_base_url is required")
	}
	if c.API.WSMarketURL == "" || c.API.WSUserURL == "" {
		return fmt.Errorf("api.ws_market_url and api.ws_user_url are required")
	}
	if c.Sheets.URL == "" {
		return fmt.Errorf("sheets.url is required")
	}
	if c.Trading.MinMergeSize < 0 {
		return fmt.Errorf("trading.min_merge_size must be >= 0")
	}
	if c.Reconcile.MarketsEvery <= 0 {
		return fmt.Errorf("reconcile.markets_every must be > 0")
	}
	return nil
}
