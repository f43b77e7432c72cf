package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures everything the server needs from the environment so main
// stays lean. Zero values select in-memory stores, which is the dev default.
type Config struct {
	Addr     string `env:"VOUCH_ADDR" envDefault:":8080"`
	LogLevel string `env:"VOUCH_LOG_LEVEL" envDefault:"info"`

	// DevMode relaxes a few behaviors that only make sense on a laptop:
	// issued OTP codes are echoed in the HTTP response instead of being
	// delivered out of band.
	DevMode bool `env:"VOUCH_DEV_MODE" envDefault:"false"`

	PostgresDSN string `env:"VOUCH_POSTGRES_DSN"`
	RedisURL    string `env:"VOUCH_REDIS_URL"`

	JWTSigningKey string `env:"VOUCH_JWT_SIGNING_KEY,required"`

	// RequireStepUp gates approve/reject behind a recent OTP verification.
	OTP OTPConfig `envPrefix:"VOUCH_OTP_"`

	Notify NotifyConfig `envPrefix:"VOUCH_NOTIFY_"`

	// KafkaBrokers enables the audit mirror when non-empty.
	KafkaBrokers    []string `env:"VOUCH_KAFKA_BROKERS"`
	AuditKafkaTopic string   `env:"VOUCH_AUDIT_KAFKA_TOPIC" envDefault:"vouch.audit"`
}

type OTPConfig struct {
	TTL            time.Duration `env:"TTL" envDefault:"5m"`
	StepUpWindow   time.Duration `env:"STEPUP_WINDOW" envDefault:"10m"`
	RequireStepUp  bool          `env:"REQUIRE_STEPUP" envDefault:"true"`
	IssuePerMinute int           `env:"ISSUE_PER_MINUTE" envDefault:"3"`
}

type NotifyConfig struct {
	ChatOpsWebhookURL string        `env:"CHATOPS_WEBHOOK_URL"`
	EmailAPIURL       string        `env:"EMAIL_API_URL"`
	EmailAPIKey       string        `env:"EMAIL_API_KEY"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	BaseBackoff       time.Duration `env:"BASE_BACKOFF" envDefault:"2s"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
