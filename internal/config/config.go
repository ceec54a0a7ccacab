package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/logging"
)

// Agent modes select which correction strategy the control loop runs.
const (
	ModeLiquidate = "liquidate"
	ModeMaintain  = "maintain"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Network   NetworkConfig   `mapstructure:"network"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	PriceFeed PriceFeedConfig `mapstructure:"pricefeed"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates the optional PostgreSQL audit trail.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// AgentConfig governs correction behaviour and loop timing.
type AgentConfig struct {
	Name                 string        `mapstructure:"name"`
	Mode                 string        `mapstructure:"mode"`
	DryRun               bool          `mapstructure:"dry_run"`
	OnChainPriceOnly     bool          `mapstructure:"on_chain_price_only"`
	AutoSwap             bool          `mapstructure:"auto_swap"`
	MaxPageSize          int           `mapstructure:"max_page_size"`
	Cadence              time.Duration `mapstructure:"cadence"`
	VerifyWait           time.Duration `mapstructure:"verify_wait"`
	StartupDelay         time.Duration `mapstructure:"startup_delay"`
	LowBalanceThreshold  float64       `mapstructure:"low_balance_threshold"`
	MaintenanceThreshold float64       `mapstructure:"maintenance_threshold"`
	SwapThreshold        int64         `mapstructure:"swap_threshold"`
}

// NetworkConfig covers ledger connectivity and the agent key.
type NetworkConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	WSURL          string        `mapstructure:"ws_url"`
	ChainID        int64         `mapstructure:"chain_id"`
	PrivateKey     string        `mapstructure:"private_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ProtocolConfig pins the lending protocol contract addresses.
type ProtocolConfig struct {
	VaultAddress           string `mapstructure:"vault_address"`
	DebtTokenAddress       string `mapstructure:"debt_token_address"`
	CollateralTokenAddress string `mapstructure:"collateral_token_address"`
	WrappedTokenAddress    string `mapstructure:"wrapped_token_address"`
	WrappedUnderlyingAddr  string `mapstructure:"wrapped_underlying_address"`
	RouterAddress          string `mapstructure:"router_address"`
}

// PriceFeedConfig captures the signed off-chain price feed endpoint.
type PriceFeedConfig struct {
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines outbound webhook routing.
type AlertingConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VAULTKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "vaultkeeper")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("agent.name", "vaultkeeper")
	v.SetDefault("agent.mode", ModeMaintain)
	v.SetDefault("agent.dry_run", true)
	v.SetDefault("agent.max_page_size", 100)
	v.SetDefault("agent.cadence", "5m")
	v.SetDefault("agent.verify_wait", "60s")
	v.SetDefault("agent.startup_delay", "0s")
	v.SetDefault("agent.low_balance_threshold", 0.0)
	v.SetDefault("agent.maintenance_threshold", 0.0)
	v.SetDefault("agent.swap_threshold", int64(0))

	v.SetDefault("network.request_timeout", "10s")

	v.SetDefault("pricefeed.request_timeout", "10s")

	v.SetDefault("alerting.request_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x766b6565))
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Agent.Mode {
	case ModeLiquidate, ModeMaintain:
	default:
		return fmt.Errorf("agent.mode must be %q or %q", ModeLiquidate, ModeMaintain)
	}
	if c.Agent.MaxPageSize <= 0 {
		return fmt.Errorf("agent.max_page_size must be greater than zero")
	}
	if c.Agent.Cadence <= 0 {
		return fmt.Errorf("agent.cadence must be greater than zero")
	}
	if c.Agent.VerifyWait <= 0 {
		return fmt.Errorf("agent.verify_wait must be greater than zero")
	}
	if c.Network.RPCURL == "" {
		return fmt.Errorf("network.rpc_url is required")
	}
	if c.Protocol.VaultAddress == "" {
		return fmt.Errorf("protocol.vault_address is required")
	}
	if c.Protocol.DebtTokenAddress == "" {
		return fmt.Errorf("protocol.debt_token_address is required")
	}
	if c.Protocol.CollateralTokenAddress == "" {
		return fmt.Errorf("protocol.collateral_token_address is required")
	}
	if !c.Agent.OnChainPriceOnly && c.PriceFeed.URL == "" {
		return fmt.Errorf("pricefeed.url is required unless agent.on_chain_price_only is set")
	}
	if c.Agent.AutoSwap && c.Protocol.RouterAddress == "" {
		return fmt.Errorf("protocol.router_address is required when agent.auto_swap is set")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
