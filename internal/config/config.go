package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "device", "password",
}

type Config struct {
	Port                      int    `env:"PORT" envDefault:"8080"`
	DatabaseURL               string `env:"DATABASE_URL,required"`
	RedisURL                  string `env:"REDIS_URL,required"`
	JWTSecret                 string `env:"JWT_SECRET,required"`
	DeviceToken               string `env:"DEVICE_TOKEN,required"`
	TokenTTLHours             int    `env:"TOKEN_TTL_HOURS" envDefault:"168"`
	DeviceReplyTimeoutSeconds int    `env:"DEVICE_REPLY_TIMEOUT_SECONDS" envDefault:"15"`
	MessageRateLimitPerMin    int    `env:"MESSAGE_RATE_LIMIT_PER_MIN" envDefault:"120"`
	WSConnectLimitPerMin      int    `env:"WS_CONNECT_LIMIT_PER_MIN" envDefault:"30"`
	WSMaxMessageBytes         int64  `env:"WS_MAX_MESSAGE_BYTES" envDefault:"65536"`
	LogLevel                  string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

func (c *Config) DeviceReplyTimeout() time.Duration {
	return time.Duration(c.DeviceReplyTimeoutSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.DeviceReplyTimeoutSeconds <= 0 {
		return fmt.Errorf("DEVICE_REPLY_TIMEOUT_SECONDS must be positive")
	}
	if c.TokenTTLHours <= 0 {
		return fmt.Errorf("TOKEN_TTL_HOURS must be positive")
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if err := validateSecret("DEVICE_TOKEN", c.DeviceToken); err != nil {
			return err
		}
		if c.MessageRateLimitPerMin <= 0 {
			log.Warn().Msg("MESSAGE_RATE_LIMIT_PER_MIN is disabled in production: clients are not rate limited")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
