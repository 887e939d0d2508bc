package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	// RabbitMQURL is optional; delivery lifecycle events are dropped when
	// no broker is configured.
	RabbitMQURL string `env:"RABBITMQ_URL"`

	APIPort     int    `env:"API_PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=9091"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	RateLimitPerSec int `env:"RATE_LIMIT_PER_SEC,default=50"`
	SendTimeoutSec  int `env:"SEND_TIMEOUT_SEC,default=15"`
	RetryScanLimit  int `env:"RETRY_SCAN_LIMIT,default=200"`

	// RetryTriggerToken guards the manual retry-run endpoint.
	RetryTriggerToken string `env:"RETRY_TRIGGER_TOKEN,required=true"`

	WebhookSigningSecret     string `env:"WEBHOOK_SIGNING_SECRET"`
	MobilePushWebhookSecret  string `env:"MOBILE_PUSH_WEBHOOK_SECRET"`
	BrowserPushWebhookSecret string `env:"BROWSER_PUSH_WEBHOOK_SECRET"`
	SMSWebhookSecret         string `env:"SMS_WEBHOOK_SECRET"`
	EmailWebhookSecret       string `env:"EMAIL_WEBHOOK_SECRET"`
	WebhookDevBypass         bool   `env:"WEBHOOK_DEV_BYPASS,default=false"`

	MobilePushEndpoint    string `env:"MOBILE_PUSH_ENDPOINT"`
	MobilePushAccessToken string `env:"MOBILE_PUSH_ACCESS_TOKEN"`

	BrowserPushAuthorization string `env:"BROWSER_PUSH_AUTHORIZATION"`
	BrowserPushTTLSec        int    `env:"BROWSER_PUSH_TTL_SEC,default=86400"`
	BrowserPushUrgency       string `env:"BROWSER_PUSH_URGENCY,default=normal"`

	SMSBaseURL    string `env:"SMS_BASE_URL"`
	SMSAccountSID string `env:"SMS_ACCOUNT_SID"`
	SMSAuthToken  string `env:"SMS_AUTH_TOKEN"`
	SMSFromNumber string `env:"SMS_FROM_NUMBER"`

	EmailBaseURL  string `env:"EMAIL_BASE_URL"`
	EmailAPIKey   string `env:"EMAIL_API_KEY"`
	EmailFromAddr string `env:"EMAIL_FROM_ADDR"`
	EmailFromName string `env:"EMAIL_FROM_NAME"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSec) * time.Second
}

func (c *Config) BrowserPushTTL() time.Duration {
	return time.Duration(c.BrowserPushTTLSec) * time.Second
}
