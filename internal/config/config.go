package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/medrec/anchor/internal/platform/crypto"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	TokenSecret   string        `mapstructure:"TOKEN_SECRET"`
	TokenIssuer   string        `mapstructure:"TOKEN_ISSUER"`
	TokenLifetime time.Duration `mapstructure:"TOKEN_LIFETIME"`

	// KeyAlgorithm selects the KEM used to wrap data encryption keys.
	KeyAlgorithm string `mapstructure:"KEY_ALGORITHM"`

	ChainSuccessRate float64       `mapstructure:"CHAIN_SUCCESS_RATE"`
	ChainMinLatency  time.Duration `mapstructure:"CHAIN_MIN_LATENCY"`
	ChainMaxLatency  time.Duration `mapstructure:"CHAIN_MAX_LATENCY"`

	AnchorInterval  time.Duration `mapstructure:"ANCHOR_INTERVAL"`
	AnchorBatchSize int           `mapstructure:"ANCHOR_BATCH_SIZE"`
	// AnchorSystemUser attributes worker-initiated audit entries.
	AnchorSystemUser string `mapstructure:"ANCHOR_SYSTEM_USER"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("TOKEN_ISSUER", "medrec-anchor")
	v.SetDefault("TOKEN_LIFETIME", "24h")
	v.SetDefault("KEY_ALGORITHM", string(crypto.AlgMLKEM768))
	v.SetDefault("CHAIN_SUCCESS_RATE", 0.9)
	v.SetDefault("CHAIN_MIN_LATENCY", "2s")
	v.SetDefault("CHAIN_MAX_LATENCY", "5s")
	v.SetDefault("ANCHOR_INTERVAL", "30s")
	v.SetDefault("ANCHOR_BATCH_SIZE", 10)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("TOKEN_SECRET")
	v.BindEnv("TOKEN_ISSUER")
	v.BindEnv("TOKEN_LIFETIME")
	v.BindEnv("KEY_ALGORITHM")
	v.BindEnv("CHAIN_SUCCESS_RATE")
	v.BindEnv("CHAIN_MIN_LATENCY")
	v.BindEnv("CHAIN_MAX_LATENCY")
	v.BindEnv("ANCHOR_INTERVAL")
	v.BindEnv("ANCHOR_BATCH_SIZE")
	v.BindEnv("ANCHOR_SYSTEM_USER")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run with.
func (c *Config) Validate() error {
	if c.TokenSecret == "" && c.IsProduction() {
		return fmt.Errorf("TOKEN_SECRET is required in production")
	}
	if c.TokenSecret != "" && len(c.TokenSecret) < 32 {
		return fmt.Errorf("TOKEN_SECRET must be at least 32 bytes, got %d", len(c.TokenSecret))
	}

	switch crypto.Algorithm(c.KeyAlgorithm) {
	case crypto.AlgMLKEM768, crypto.AlgRSAOAEP:
	default:
		return fmt.Errorf("KEY_ALGORITHM must be %q or %q, got %q",
			crypto.AlgMLKEM768, crypto.AlgRSAOAEP, c.KeyAlgorithm)
	}

	if c.ChainSuccessRate < 0 || c.ChainSuccessRate > 1 {
		return fmt.Errorf("CHAIN_SUCCESS_RATE must be between 0 and 1, got %v", c.ChainSuccessRate)
	}
	if c.ChainMinLatency < 0 || c.ChainMaxLatency < c.ChainMinLatency {
		return fmt.Errorf("CHAIN_MAX_LATENCY must be >= CHAIN_MIN_LATENCY")
	}

	if c.AnchorBatchSize <= 0 {
		return fmt.Errorf("ANCHOR_BATCH_SIZE must be positive, got %d", c.AnchorBatchSize)
	}
	if c.AnchorInterval <= 0 {
		return fmt.Errorf("ANCHOR_INTERVAL must be positive, got %v", c.AnchorInterval)
	}

	return nil
}
