package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"livraison/internal/money"
)

const EnvPrefix = "LIVRAISON"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Order    OrderConfig    `mapstructure:"order"`
	Money    MoneyConfig    `mapstructure:"money"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Payments PaymentsConfig `mapstructure:"payments"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Fanout   FanoutConfig   `mapstructure:"fanout"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Refunds  RefundsConfig  `mapstructure:"refunds"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Service string `mapstructure:"service"`
}

type OrderConfig struct {
	MaxRetryAttempts int           `mapstructure:"max_retry_attempts"`
	TxTimeout        time.Duration `mapstructure:"tx_timeout"`

	// Expiry sweep. A zero interval or timeout turns the matching part off.
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval"`
	PendingTimeout      time.Duration `mapstructure:"pending_timeout"`
	UnassignedGrace     time.Duration `mapstructure:"unassigned_grace"`
}

// MoneyConfig carries amounts as strings so they reach decimal.Decimal
// without a float round trip.
type MoneyConfig struct {
	PlatformFlatFee             string   `mapstructure:"platform_flat_fee"`
	DeliveryCommissionThreshold string   `mapstructure:"delivery_commission_threshold"`
	DeliveryCommissionRate      string   `mapstructure:"delivery_commission_rate"`
	DefaultCommissionPercent    string   `mapstructure:"default_commission_percent"`
	ZeroCommissionIDs           []string `mapstructure:"zero_commission_ids"`
	ZeroCommissionNames         []string `mapstructure:"zero_commission_names"`
}

type DeliveryConfig struct {
	BaseFee               string  `mapstructure:"base_fee"`
	PerKmFee              string  `mapstructure:"per_km_fee"`
	IncludedKm            float64 `mapstructure:"included_km"`
	MaxFee                string  `mapstructure:"max_fee"`
	MaxDistanceKm         float64 `mapstructure:"max_distance_km"`
	DiscountThreshold     string  `mapstructure:"discount_threshold"`
	DiscountPercent       string  `mapstructure:"discount_percent"`
	FreeDeliveryThreshold string  `mapstructure:"free_delivery_threshold"`
}

type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	Channel    string `mapstructure:"channel"`
	ChatIDsKey string `mapstructure:"chat_ids_key"`
}

type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

type PaymentsConfig struct {
	Provider string       `mapstructure:"provider"`
	Currency string       `mapstructure:"currency"`
	Stripe   StripeConfig `mapstructure:"stripe"`
	Square   SquareConfig `mapstructure:"square"`
}

type StripeConfig struct {
	APIKey      string `mapstructure:"api_key"`
	Environment string `mapstructure:"environment"`
}

type SquareConfig struct {
	AccessToken string `mapstructure:"access_token"`
	Environment string `mapstructure:"environment"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

type AuthConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type FanoutConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	SeenOrders       int           `mapstructure:"seen_orders"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type RefundsConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Workers        int           `mapstructure:"workers"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepGrace     time.Duration `mapstructure:"sweep_grace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "livraison")
	v.SetDefault("database.password", "secret")
	v.SetDefault("database.name", "livraison")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.service", "livraison")

	v.SetDefault("order.max_retry_attempts", 3)
	v.SetDefault("order.tx_timeout", "5s")
	v.SetDefault("order.expiry_sweep_interval", "1m")
	v.SetDefault("order.pending_timeout", "15m")
	v.SetDefault("order.unassigned_grace", "30m")

	v.SetDefault("money.platform_flat_fee", "0.49")
	v.SetDefault("money.delivery_commission_threshold", "2.50")
	v.SetDefault("money.delivery_commission_rate", "0.10")
	v.SetDefault("money.default_commission_percent", "20")
	v.SetDefault("money.zero_commission_ids", []string{})
	v.SetDefault("money.zero_commission_names", []string{"la bonne pate"})

	v.SetDefault("delivery.base_fee", "2.50")
	v.SetDefault("delivery.per_km_fee", "0.50")
	v.SetDefault("delivery.included_km", 5)
	v.SetDefault("delivery.max_fee", "10.00")
	v.SetDefault("delivery.max_distance_km", 15)
	v.SetDefault("delivery.discount_threshold", "25")
	v.SetDefault("delivery.discount_percent", "20")
	v.SetDefault("delivery.free_delivery_threshold", "50")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "livraison:orders")
	v.SetDefault("redis.chat_ids_key", "livraison:telegram")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "order-events")
	v.SetDefault("kafka.client_id", "livraison")

	v.SetDefault("payments.provider", "disabled")
	v.SetDefault("payments.currency", "eur")
	v.SetDefault("payments.stripe.api_key", "")
	v.SetDefault("payments.stripe.environment", "test")
	v.SetDefault("payments.square.access_token", "")
	v.SetDefault("payments.square.environment", "sandbox")

	v.SetDefault("telegram.bot_token", "")

	// Keys need a default so AutomaticEnv can override them during Unmarshal.
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "livraison")

	v.SetDefault("fanout.poll_interval", "5s")
	v.SetDefault("fanout.subscriber_buffer", 64)
	v.SetDefault("fanout.seen_orders", 4096)

	v.SetDefault("outbox.poll_interval", "2s")
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_attempts", 20)

	v.SetDefault("refunds.max_attempts", 5)
	v.SetDefault("refunds.initial_backoff", "1s")
	v.SetDefault("refunds.max_backoff", "1m")
	v.SetDefault("refunds.workers", 2)
	v.SetDefault("refunds.sweep_interval", "1m")
	v.SetDefault("refunds.sweep_grace", "2m")
}

// Load reads the YAML file at path (optional when empty or missing) and lets
// LIVRAISON_* variables override any key: LIVRAISON_DATABASE_HOST sets
// database.host.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	switch c.Payments.Provider {
	case "stripe", "square", "disabled":
	default:
		return fmt.Errorf("payments.provider must be stripe, square or disabled, got %q", c.Payments.Provider)
	}
	if _, err := c.Money.Policy(); err != nil {
		return err
	}
	if _, err := c.Delivery.Policy(); err != nil {
		return err
	}
	return nil
}

func (m MoneyConfig) Policy() (money.Policy, error) {
	p := money.DefaultPolicy()
	var err error
	if p.PlatformFlatFee, err = parseAmount("money.platform_flat_fee", m.PlatformFlatFee, p.PlatformFlatFee); err != nil {
		return p, err
	}
	if p.DeliveryCommissionThreshold, err = parseAmount("money.delivery_commission_threshold", m.DeliveryCommissionThreshold, p.DeliveryCommissionThreshold); err != nil {
		return p, err
	}
	if p.DeliveryCommissionRate, err = parseAmount("money.delivery_commission_rate", m.DeliveryCommissionRate, p.DeliveryCommissionRate); err != nil {
		return p, err
	}
	if p.DefaultCommissionPercent, err = parseAmount("money.default_commission_percent", m.DefaultCommissionPercent, p.DefaultCommissionPercent); err != nil {
		return p, err
	}
	if m.ZeroCommissionIDs != nil {
		p.ZeroCommissionIDs = m.ZeroCommissionIDs
	}
	if m.ZeroCommissionNames != nil {
		p.ZeroCommissionNames = m.ZeroCommissionNames
	}
	return p, nil
}

func (d DeliveryConfig) Policy() (money.DeliveryFeePolicy, error) {
	p := money.DefaultDeliveryFeePolicy()
	var err error
	if p.BaseFee, err = parseAmount("delivery.base_fee", d.BaseFee, p.BaseFee); err != nil {
		return p, err
	}
	if p.PerKmFee, err = parseAmount("delivery.per_km_fee", d.PerKmFee, p.PerKmFee); err != nil {
		return p, err
	}
	if p.MaxFee, err = parseAmount("delivery.max_fee", d.MaxFee, p.MaxFee); err != nil {
		return p, err
	}
	if p.DiscountThreshold, err = parseAmount("delivery.discount_threshold", d.DiscountThreshold, p.DiscountThreshold); err != nil {
		return p, err
	}
	if p.DiscountPercent, err = parseAmount("delivery.discount_percent", d.DiscountPercent, p.DiscountPercent); err != nil {
		return p, err
	}
	if p.FreeDeliveryThreshold, err = parseAmount("delivery.free_delivery_threshold", d.FreeDeliveryThreshold, p.FreeDeliveryThreshold); err != nil {
		return p, err
	}
	if d.IncludedKm > 0 {
		p.IncludedKm = d.IncludedKm
	}
	if d.MaxDistanceKm > 0 {
		p.MaxDistanceKm = d.MaxDistanceKm
	}
	return p, nil
}

func parseAmount(key, raw string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %q is not a decimal amount", key, raw)
	}
	if d.IsNegative() {
		return fallback, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}
