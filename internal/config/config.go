package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath      = "CONFIG_PATH"
	EnvDBConnection    = "DB_CONNECTION"
	EnvJWTSecret       = "JWT_SECRET"
	EnvJWTExpiry       = "JWT_EXPIRY"
	EnvRedisAddr       = "REDIS_ADDR"
	EnvInternalToken   = "INTERNAL_TOKEN"
	EnvStripeSecret    = "STRIPE_WEBHOOK_SECRET"
	EnvPaymobSecret    = "PAYMOB_HMAC_SECRET"
	EnvKashierSecret   = "KASHIER_API_KEY"
	EnvFawrySecret     = "FAWRY_SECURITY_KEY"
	EnvCheckoutSuccess = "CHECKOUT_SUCCESS_URL"
	EnvCheckoutFailure = "CHECKOUT_FAILURE_URL"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings for account tokens.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// GatewayConfig holds credentials and endpoints for one payment gateway.
// Constructed once at startup and passed into the adapter by value; adapters
// never read mutable global state.
type GatewayConfig struct {
	Secret        string        `yaml:"secret"`         // Webhook signing secret or HMAC key.
	APIKey        string        `yaml:"api-key"`        // Outbound API credential.
	Endpoint      string        `yaml:"endpoint"`       // Outbound API base URL.
	MerchantID    string        `yaml:"merchant-id"`    // Merchant identifier where the gateway uses one.
	RemoteTimeout time.Duration `yaml:"remote-timeout"` // Bound on outbound calls such as remote cancellation.
}

// GatewaysConfig holds per-gateway settings keyed by gateway name.
type GatewaysConfig struct {
	Stripe  GatewayConfig `yaml:"stripe"`
	Paymob  GatewayConfig `yaml:"paymob"`
	Kashier GatewayConfig `yaml:"kashier"`
	Fawry   GatewayConfig `yaml:"fawry"`
}

// RedisConfig holds optional Redis cache settings. An empty Addr disables
// caching entirely.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CheckoutConfig holds browser redirect targets for hosted-page gateways.
type CheckoutConfig struct {
	SuccessURL string `yaml:"success-url"`
	FailureURL string `yaml:"failure-url"`
}

// PlanOverride allows deployments to adjust plan limits without a rebuild.
type PlanOverride struct {
	StorageLimitBytes  *int64 `yaml:"storage-limit-bytes"`
	MaxFileSizeBytes   *int64 `yaml:"max-file-size-bytes"`
	MonthlyConversions *int64 `yaml:"monthly-conversions"`
	APIRequestsPerDay  *int64 `yaml:"api-requests-per-day"`
}

// ServerConfig holds YAML server-level settings that complement the central
// loaders below.
type ServerConfig struct {
	Gateways      GatewaysConfig          `yaml:"gateways"`
	Redis         RedisConfig             `yaml:"redis"`
	Checkout      CheckoutConfig          `yaml:"checkout"`
	Plans         map[string]PlanOverride `yaml:"plans"`
	SweepInterval time.Duration           `yaml:"sweep-interval"`
	InternalToken string                  `yaml:"internal-token"`
}

// LoadDatabaseDSN reads the database DSN from the YAML config file. The
// DB_CONNECTION environment variable wins over the file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// LoadJWTConfig loads JWT settings from the YAML config file with env
// overrides.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.JWT
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// defaultSweepInterval is used when the config omits the sweep interval.
const defaultSweepInterval = time.Hour

// defaultRemoteTimeout bounds outbound gateway calls when unset.
const defaultRemoteTimeout = 10 * time.Second

// LoadServerConfig loads server settings from the YAML config file with env
// overrides for secrets and normalized defaults.
func LoadServerConfig(configPath string) (ServerConfig, error) {
	var result ServerConfig

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &result); errUnmarshal != nil {
			return ServerConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	}

	if v := strings.TrimSpace(os.Getenv(EnvStripeSecret)); v != "" {
		result.Gateways.Stripe.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPaymobSecret)); v != "" {
		result.Gateways.Paymob.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvKashierSecret)); v != "" {
		result.Gateways.Kashier.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvFawrySecret)); v != "" {
		result.Gateways.Fawry.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisAddr)); v != "" {
		result.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvInternalToken)); v != "" {
		result.InternalToken = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCheckoutSuccess)); v != "" {
		result.Checkout.SuccessURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCheckoutFailure)); v != "" {
		result.Checkout.FailureURL = v
	}

	if result.SweepInterval <= 0 {
		result.SweepInterval = defaultSweepInterval
	}
	for _, gw := range []*GatewayConfig{
		&result.Gateways.Stripe,
		&result.Gateways.Paymob,
		&result.Gateways.Kashier,
		&result.Gateways.Fawry,
	} {
		if gw.RemoteTimeout <= 0 {
			gw.RemoteTimeout = defaultRemoteTimeout
		}
	}

	return result, nil
}
