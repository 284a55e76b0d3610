// Package config содержит логику чтения конфигурации сервиса bundlemart.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса bundlemart.
type Config struct {
	RunAddress             string `env:"RUN_ADDRESS"`
	DatabaseURI            string `env:"DATABASE_URI"`
	PaymentProviderAddress string `env:"PAYMENT_PROVIDER_ADDRESS"`

	AuthSecret    string  `env:"AUTH_SECRET"`
	OperatorIDs   []int64 `env:"OPERATOR_IDS" envSeparator:","`
	PaymentSecret string  `env:"PAYMENT_SECRET"`

	PaymentAbandonAfter time.Duration `env:"PAYMENT_ABANDON_AFTER" envDefault:"30m"`
	ReconcileInterval   time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`

	ReviewServiceAddress string `env:"REVIEW_SERVICE_ADDRESS"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	OrderCacheTTL time.Duration `env:"ORDER_CACHE_TTL" envDefault:"5m"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"order.lifecycle"`
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
	envPaymentAddress := cfg.PaymentProviderAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentProviderAddress, "p", "", "payment provider address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPaymentAddress != "" {
		cfg.PaymentProviderAddress = envPaymentAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.PaymentAbandonAfter <= 0 {
		return nil, fmt.Errorf("PAYMENT_ABANDON_AFTER must be positive, got %s", cfg.PaymentAbandonAfter)
	}
	if cfg.ReconcileInterval <= 0 {
		return nil, fmt.Errorf("RECONCILE_INTERVAL must be positive, got %s", cfg.ReconcileInterval)
	}

	return cfg, nil
}
