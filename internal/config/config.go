// Package config loads platform configuration from file and environment.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/caskworks/barrelex/pkg/errors"
)

// Config is the top-level platform configuration
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Database DatabaseConfig `mapstructure:"database"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Reserve  ReserveConfig  `mapstructure:"reserve"`
}

// AdminConfig names the administrative and platform ledger identities
type AdminConfig struct {
	// AdminID administers both authorization sets.
	AdminID string `mapstructure:"admin_id"`
	// PlatformID is the ledger identity the orchestrator mints and
	// transfers under.
	PlatformID string `mapstructure:"platform_id"`
}

// DatabaseConfig selects the backing store
type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// OracleConfig selects the rate source
type OracleConfig struct {
	// Mode is fixed or chainlink.
	Mode string `mapstructure:"mode"`
	// FixedAnswer is the feed answer used in fixed mode.
	FixedAnswer int64 `mapstructure:"fixed_answer"`
	// FeedDecimals is the scale of the feed answer.
	FeedDecimals int32 `mapstructure:"feed_decimals"`
	// RPCURL and FeedAddress configure chainlink mode.
	RPCURL      string `mapstructure:"rpc_url"`
	FeedAddress string `mapstructure:"feed_address"`
}

// ReserveConfig selects the yield reserve
type ReserveConfig struct {
	// Mode is memory or aave.
	Mode string `mapstructure:"mode"`
	// GatewayAddress, ATokenAddress and LendingPoolAddress configure
	// aave mode.
	GatewayAddress     string `mapstructure:"gateway_address"`
	ATokenAddress      string `mapstructure:"atoken_address"`
	LendingPoolAddress string `mapstructure:"lending_pool_address"`
}

// Load reads barrelex.yaml from the working directory (if present) with
// BARRELEX_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("barrelex")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("BARRELEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("admin.admin_id", "")
	v.SetDefault("admin.platform_id", "")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "barrelex.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("oracle.mode", "fixed")
	// The original platform's ETH/USD fixture, feed-scaled to 8 decimals.
	v.SetDefault("oracle.fixed_answer", int64(124477730884))
	v.SetDefault("oracle.feed_decimals", 8)
	v.SetDefault("oracle.rpc_url", "")
	v.SetDefault("oracle.feed_address", "")
	v.SetDefault("reserve.mode", "memory")
	v.SetDefault("reserve.gateway_address", "")
	v.SetDefault("reserve.atoken_address", "")
	v.SetDefault("reserve.lending_pool_address", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err).Explain("read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err).Explain("unmarshal config")
	}
	return &cfg, nil
}
