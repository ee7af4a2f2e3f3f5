package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	// StorageDriver is "postgres" or "memory". The memory driver keeps
	// accounts and challenges in process and is meant for local runs.
	StorageDriver  string
	ChallengeStore string

	ChallengeTTL           time.Duration
	ChallengeClaimLease    time.Duration
	ChallengeSweepInterval time.Duration
	OTPLength              int
	OTPMaxAttempts         int
	MaxTransferAmount      decimal.Decimal

	AuthMode  string
	JWTSecret string

	KafkaBrokers           []string
	KafkaOTPTopic          string
	KafkaNotificationTopic string

	NotifyWorkers   int
	NotifyQueueSize int
	NotifyTimeout   time.Duration

	ShutdownTimeout time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_source", "")
	v.SetDefault("server_port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("storage_driver", "postgres")
	v.SetDefault("challenge_store", "memory")
	v.SetDefault("challenge_ttl", 5*time.Minute)
	v.SetDefault("challenge_claim_lease", 30*time.Second)
	v.SetDefault("challenge_sweep_interval", time.Minute)
	v.SetDefault("otp_length", 6)
	v.SetDefault("otp_max_attempts", 5)
	v.SetDefault("max_transfer_amount", "0")
	v.SetDefault("auth_mode", "jwt")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_otp_topic", "transfer-otp")
	v.SetDefault("kafka_notification_topic", "transfer-notifications")
	v.SetDefault("notify_workers", 4)
	v.SetDefault("notify_queue_size", 256)
	v.SetDefault("notify_timeout", 10*time.Second)
	v.SetDefault("shutdown_timeout", 15*time.Second)
}

// Load reads configuration from the environment and, when path is not
// empty, from a YAML file. Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	maxAmount, err := decimal.NewFromString(v.GetString("max_transfer_amount"))
	if err != nil {
		return nil, fmt.Errorf("MAX_TRANSFER_AMOUNT is not a decimal: %w", err)
	}

	cfg := &Config{
		DBSource:               v.GetString("db_source"),
		Port:                   v.GetString("server_port"),
		Env:                    v.GetString("environment"),
		StorageDriver:          strings.ToLower(v.GetString("storage_driver")),
		ChallengeStore:         strings.ToLower(v.GetString("challenge_store")),
		ChallengeTTL:           v.GetDuration("challenge_ttl"),
		ChallengeClaimLease:    v.GetDuration("challenge_claim_lease"),
		ChallengeSweepInterval: v.GetDuration("challenge_sweep_interval"),
		OTPLength:              v.GetInt("otp_length"),
		OTPMaxAttempts:         v.GetInt("otp_max_attempts"),
		MaxTransferAmount:      maxAmount,
		AuthMode:               strings.ToLower(v.GetString("auth_mode")),
		JWTSecret:              v.GetString("jwt_secret"),
		KafkaBrokers:           splitList(v.GetString("kafka_brokers")),
		KafkaOTPTopic:          v.GetString("kafka_otp_topic"),
		KafkaNotificationTopic: v.GetString("kafka_notification_topic"),
		NotifyWorkers:          v.GetInt("notify_workers"),
		NotifyQueueSize:        v.GetInt("notify_queue_size"),
		NotifyTimeout:          v.GetDuration("notify_timeout"),
		ShutdownTimeout:        v.GetDuration("shutdown_timeout"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case "postgres":
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case "memory":
	default:
		return fmt.Errorf("STORAGE_DRIVER must be postgres or memory, got %q", c.StorageDriver)
	}

	switch c.ChallengeStore {
	case "memory":
	case "postgres":
		if c.StorageDriver != "postgres" {
			return fmt.Errorf("CHALLENGE_STORE=postgres requires STORAGE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("CHALLENGE_STORE must be memory or postgres, got %q", c.ChallengeStore)
	}

	switch c.AuthMode {
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET environment variable is required when AUTH_MODE=jwt")
		}
	case "header":
	default:
		return fmt.Errorf("AUTH_MODE must be jwt or header, got %q", c.AuthMode)
	}

	if c.ChallengeTTL <= 0 {
		return fmt.Errorf("CHALLENGE_TTL must be positive")
	}
	if c.ChallengeClaimLease <= 0 {
		return fmt.Errorf("CHALLENGE_CLAIM_LEASE must be positive")
	}
	if c.ChallengeSweepInterval <= 0 {
		return fmt.Errorf("CHALLENGE_SWEEP_INTERVAL must be positive")
	}
	if c.NotifyTimeout <= 0 {
		return fmt.Errorf("NOTIFY_TIMEOUT must be positive")
	}
	if c.OTPLength < 4 || c.OTPLength > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10")
	}
	if c.OTPMaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}
	if c.MaxTransferAmount.IsNegative() {
		return fmt.Errorf("MAX_TRANSFER_AMOUNT cannot be negative")
	}
	return nil
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
