package config

import (
	"fmt"
	"strings"

	"github.com/Netflix/go-env"
)

const (
	DispatchModeQueue   = "queue"
	DispatchModeWebhook = "webhook"
)

type Config struct {
	DatabaseDSN         string `env:"DATABASE_DSN,required=true"`
	RedisURL            string `env:"REDIS_URL,required=true"`
	DispatchMode        string `env:"DISPATCH_MODE,default=queue"`
	RabbitMQURL         string `env:"RABBITMQ_URL"`
	WebhookBridgeURL    string `env:"WEBHOOK_BRIDGE_URL"`
	ScanIntervalSeconds int    `env:"SCAN_INTERVAL_SECONDS,default=60"`
	ScanLimit           int    `env:"SCAN_LIMIT,default=500"`
	ScanConcurrency     int    `env:"SCAN_CONCURRENCY,default=16"`
	MaxPendingAgeHours  int    `env:"MAX_PENDING_AGE_HOURS,default=24"`
	DispatchRatePerSec  int    `env:"DISPATCH_RATE_PER_SEC,default=50"`
	OpsPort             int    `env:"OPS_PORT,default=8080"`
	LogLevel            string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.DispatchMode = strings.ToLower(strings.TrimSpace(cfg.DispatchMode))
	switch cfg.DispatchMode {
	case DispatchModeQueue:
		if strings.TrimSpace(cfg.RabbitMQURL) == "" {
			return nil, fmt.Errorf("RABBITMQ_URL is required when DISPATCH_MODE=queue")
		}
	case DispatchModeWebhook:
		if strings.TrimSpace(cfg.WebhookBridgeURL) == "" {
			return nil, fmt.Errorf("WEBHOOK_BRIDGE_URL is required when DISPATCH_MODE=webhook")
		}
	default:
		return nil, fmt.Errorf("invalid DISPATCH_MODE %q (want queue or webhook)", cfg.DispatchMode)
	}

	return &cfg, nil
}
