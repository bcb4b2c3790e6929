// Package config resolves the process-wide paywall configuration at
// startup. Configuration comes from an optional YAML file plus PAYWALL_*
// environment overrides, is validated once, and is immutable afterwards:
// the resulting struct is passed by reference into every component, with
// no ambient lookups inside request handlers.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/friends4payments/dory-x402-gemini/internal/x402"
)

type Config struct {
	App     AppConfig
	Server  ServerConfig
	Payment PaymentConfig
	Assets  []AssetConfig
	Voucher VoucherConfig
	Log     LogConfig
}

type AppConfig struct {
	Name        string
	Environment string
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PaymentConfig identifies where payments go and who verifies them.
type PaymentConfig struct {
	// PayTo is the recipient (treasury) address for all payments.
	PayTo string

	// Network is the CAIP-2 network identifier payments settle on.
	Network string

	// FacilitatorURL is the external payment-verification facilitator.
	FacilitatorURL string

	// FlatPrice is the fixed price of the /pay route (e.g., "$0.01").
	FlatPrice string

	// MaxTimeoutSeconds is the validity period quoted on payment
	// authorizations.
	MaxTimeoutSeconds int

	// VerifyOnly skips settlement when true (verification still required).
	VerifyOnly bool
}

// AssetConfig is one supported currency. The first entry is the default
// asset used to settle flat prices.
type AssetConfig struct {
	Symbol   string
	Address  string
	Decimals uint8
}

type VoucherConfig struct {
	// Store selects the backend: "redis" or "memory".
	Store string

	// TTL expires unredeemed vouchers. Zero keeps them until redeemed.
	TTL time.Duration

	Redis RedisConfig
}

type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the optional YAML file at path and from
// PAYWALL_* environment variables, then validates it. A validation failure
// here is startup-fatal by design.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAYWALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dory-paywall")
	v.SetDefault("app.environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readtimeout", 10*time.Second)
	v.SetDefault("server.writetimeout", 30*time.Second)
	v.SetDefault("server.shutdowntimeout", 15*time.Second)

	v.SetDefault("payment.payto", "")
	v.SetDefault("payment.network", x402.NetworkSolanaDevnet)
	v.SetDefault("payment.facilitatorurl", "")
	v.SetDefault("payment.flatprice", "$0.01")
	v.SetDefault("payment.maxtimeoutseconds", 60)
	v.SetDefault("payment.verifyonly", false)

	// Default registry: USDC on Solana devnet. Additional assets (e.g.
	// CASH, EURC) are added through the assets list in the config file.
	v.SetDefault("assets", []map[string]interface{}{
		{
			"symbol":   "USDC",
			"address":  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			"decimals": 6,
		},
	})

	v.SetDefault("voucher.store", "redis")
	v.SetDefault("voucher.ttl", time.Duration(0))
	v.SetDefault("voucher.redis.address", "localhost:6379")
	v.SetDefault("voucher.redis.password", "")
	v.SetDefault("voucher.redis.db", 0)
	v.SetDefault("voucher.redis.keyprefix", "voucher:")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks the invariants that must hold before the service starts.
func (c *Config) Validate() error {
	if c.Payment.PayTo == "" {
		return errors.New("config: payment.payto is required")
	}
	if c.Payment.Network == "" {
		return errors.New("config: payment.network is required")
	}
	if _, err := x402.ValidateNetwork(c.Payment.Network); err != nil {
		return fmt.Errorf("config: payment.network: %w", err)
	}
	if err := x402.ValidateAddress(c.Payment.PayTo, c.Payment.Network); err != nil {
		return fmt.Errorf("config: payment.payto: %w", err)
	}

	if c.Payment.FacilitatorURL == "" {
		return errors.New("config: payment.facilitatorurl is required")
	}
	u, err := url.Parse(c.Payment.FacilitatorURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: payment.facilitatorurl %q is not a valid URL", c.Payment.FacilitatorURL)
	}

	if len(c.Assets) == 0 {
		return errors.New("config: at least one asset is required")
	}

	switch c.Voucher.Store {
	case "redis":
		if c.Voucher.Redis.Address == "" {
			return errors.New("config: voucher.redis.address is required for the redis store")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown voucher store %q", c.Voucher.Store)
	}

	if c.Voucher.TTL < 0 {
		return errors.New("config: voucher.ttl cannot be negative")
	}
	return nil
}
