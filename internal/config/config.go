package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	MFA      MFAConfig      `mapstructure:"mfa"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "postgres" or "memory". Memory is for bootstrap and tests.
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	// Enabled switches the token revocation list from in-process to Redis.
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Tokens  TokenConfig   `mapstructure:"tokens"`
	Lockout LockoutConfig `mapstructure:"lockout"`
	// SensitiveActions always require step-up MFA, for every role.
	SensitiveActions []string `mapstructure:"sensitive_actions"`
	// SigningSecretKey names the SecretStore record holding the token
	// signing secret.
	SigningSecretKey string `mapstructure:"signing_secret_key"`
	// SigningSecretBootstrap optionally seeds the signing secret on first
	// run; when empty a random secret is generated.
	SigningSecretBootstrap string `mapstructure:"signing_secret_bootstrap"`
	// DefaultAdminName is the directory entry created on first run.
	DefaultAdminName string `mapstructure:"default_admin_name"`
}

// TokenConfig holds bearer token configuration
type TokenConfig struct {
	TTL    time.Duration `mapstructure:"ttl"`
	Issuer string        `mapstructure:"issuer"`
}

// LockoutConfig holds the MFA failure lockout policy
type LockoutConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Duration  time.Duration `mapstructure:"duration"`
}

// MFAConfig holds MFA collaborator configuration
type MFAConfig struct {
	// Provider is "totp" or "static" (static is for tests and bootstrap).
	Provider string `mapstructure:"provider"`
	Issuer   string `mapstructure:"issuer"`
	Digits   int    `mapstructure:"digits"`
	Period   int    `mapstructure:"period"`
	// ThrottlePerMinute bounds MFA verification attempts per user.
	ThrottlePerMinute int `mapstructure:"throttle_per_minute"`
}

// IsSensitive reports whether an action is in the configured step-up set.
func (c SecurityConfig) IsSensitive(action string) bool {
	for _, a := range c.SensitiveActions {
		if a == action {
			return true
		}
	}
	return false
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/opsgate")

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Bind environment variables
	v.SetEnvPrefix("OPSGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Store defaults
	v.SetDefault("store.backend", "memory")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "opsgate")
	v.SetDefault("database.user", "opsgate")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Security defaults. The 30-day token TTL mirrors the platform's
	// historical behavior; shorten it via config for hardened deployments.
	v.SetDefault("security.tokens.ttl", "720h")
	v.SetDefault("security.tokens.issuer", "opsgate")
	v.SetDefault("security.lockout.threshold", 5)
	v.SetDefault("security.lockout.duration", "1h")
	v.SetDefault("security.sensitive_actions", []string{"deploy", "delete", "admin", "write"})
	v.SetDefault("security.signing_secret_key", "token-signing")
	v.SetDefault("security.signing_secret_bootstrap", "")
	v.SetDefault("security.default_admin_name", "root")

	// MFA defaults
	v.SetDefault("mfa.provider", "totp")
	v.SetDefault("mfa.issuer", "OpsGate")
	v.SetDefault("mfa.digits", 6)
	v.SetDefault("mfa.period", 30)
	v.SetDefault("mfa.throttle_per_minute", 10)
}
