// Package config содержит логику чтения конфигурации сервиса заказов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress     = "localhost:8080"
	defaultGatewayURL     = "https://api.razorpay.com"
	defaultGatewayTimeout = 10 * time.Second
)

// Config содержит параметры конфигурации сервиса заказов.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET"`

	GatewayURL       string        `env:"GATEWAY_URL"`
	GatewayKeyID     string        `env:"GATEWAY_KEY_ID"`
	GatewayKeySecret string        `env:"GATEWAY_KEY_SECRET"`
	GatewayTimeout   time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	Currency         string        `env:"CURRENCY" envDefault:"INR"`

	// Пустые значения отключают соответствующий канал публикации.
	RedisURL     string `env:"REDIS_URL"`
	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC" envDefault:"restaurant.order-events"`

	AdminLogins      []string `env:"ADMIN_LOGINS" envSeparator:","`
	CORSOrigins      []string `env:"CORS_ORIGINS" envSeparator:","`
	RejectWhenClosed bool     `env:"REJECT_WHEN_CLOSED"`
}

// GatewayEnabled сообщает, заданы ли ключи платёжного шлюза.
func (c *Config) GatewayEnabled() bool {
	return c.GatewayKeyID != "" && c.GatewayKeySecret != ""
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envGatewayURL := cfg.GatewayURL

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing auth cookies")
	flag.StringVar(&cfg.GatewayURL, "g", defaultGatewayURL, "payment gateway base URL")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envGatewayURL != "" {
		cfg.GatewayURL = envGatewayURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}

	if cfg.DatabaseURI == "" {
		return nil, fmt.Errorf("database URI is required (-d or DATABASE_URI)")
	}

	return cfg, nil
}
