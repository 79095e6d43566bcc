package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"

	coreconfig "github.com/m3rciful/keyshop/core/config"
	coredatabase "github.com/m3rciful/keyshop/core/database"
)

// ShopConfig holds storefront settings.
type ShopConfig struct {
	// PaymentInstructions is shown to buyers choosing manual payment.
	PaymentInstructions string `yaml:"payment_instructions" envconfig:"SHOP_PAYMENT_INSTRUCTIONS"`
	Currency            string `yaml:"currency" envconfig:"SHOP_CURRENCY"`
	// ProviderToken enables Telegram invoices when set.
	ProviderToken string        `yaml:"provider_token" envconfig:"PAYMENT_PROVIDER_TOKEN"`
	SessionTTL    time.Duration `yaml:"session_ttl" envconfig:"SHOP_SESSION_TTL"`
}

// PaymentsConfig configures the payment webhook server. An empty Listen disables it.
type PaymentsConfig struct {
	Listen        string `yaml:"listen" envconfig:"PAYMENTS_LISTEN"`
	WebhookSecret string `yaml:"webhook_secret" envconfig:"PAYMENTS_WEBHOOK_SECRET"`
}

// EventsConfig configures lifecycle event publishing. An empty NATSURL disables it.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" envconfig:"EVENTS_NATS_URL"`
	SubjectPrefix string `yaml:"subject_prefix" envconfig:"EVENTS_SUBJECT_PREFIX"`
}

// DedupConfig configures webhook delivery dedupe. Without RedisAddr claims
// are kept in memory.
type DedupConfig struct {
	RedisAddr     string        `yaml:"redis_addr" envconfig:"DEDUP_REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" envconfig:"DEDUP_REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" envconfig:"DEDUP_REDIS_DB"`
	KeyPrefix     string        `yaml:"key_prefix" envconfig:"DEDUP_KEY_PREFIX"`
	TTL           time.Duration `yaml:"ttl" envconfig:"DEDUP_TTL"`
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	Shop     ShopConfig          `yaml:"shop"`
	Payments PaymentsConfig      `yaml:"payments"`
	Events   EventsConfig        `yaml:"events"`
	Dedup    DedupConfig         `yaml:"dedup"`
}

// CoreConfig returns the embedded core section.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Config
}

// Normalize validates every section and fills defaults.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}
	if err := c.Database.Normalize(); err != nil {
		return err
	}

	c.Shop.Currency = strings.ToUpper(strings.TrimSpace(c.Shop.Currency))
	if c.Shop.Currency == "" {
		c.Shop.Currency = "USD"
	}
	if len(c.Shop.Currency) != 3 {
		return fmt.Errorf("shop.currency must be a 3-letter ISO code, got %q", c.Shop.Currency)
	}
	if c.Shop.SessionTTL <= 0 {
		c.Shop.SessionTTL = 30 * time.Minute
	}
	if strings.TrimSpace(c.Shop.PaymentInstructions) == "" {
		c.Shop.PaymentInstructions = "Transfer the amount and send a photo of the receipt."
	}

	if c.Payments.Listen != "" && strings.TrimSpace(c.Payments.WebhookSecret) == "" {
		return fmt.Errorf("payments.webhook_secret is required when payments.listen is set")
	}

	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = "keyshop"
	}

	if c.Dedup.KeyPrefix == "" {
		c.Dedup.KeyPrefix = "keyshop:payment:"
	}
	if c.Dedup.TTL <= 0 {
		c.Dedup.TTL = 24 * time.Hour
	}
	return nil
}

// LoadConfig loads .env when present, then the YAML file at path overlaid by
// the environment.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := coreconfig.LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
