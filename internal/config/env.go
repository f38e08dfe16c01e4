package config

import (
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3100"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	APIKey   string `envconfig:"API_KEY" required:"true"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".volunteerhub/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"volunteerhub/"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
}

// RecordsEnv selects where organisation rows (tasks, notifications,
// volunteer hours, ...) live. "storage" keeps them as documents next to the
// workflows; "postgres" talks to the organisation database.
type RecordsEnv struct {
	RecordsBackend string `envconfig:"RECORDS_BACKEND" default:"storage"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`
}

type SchedulerEnv struct {
	Timezone              string        `envconfig:"TIMEZONE" default:"UTC"`
	ConditionPollInterval time.Duration `envconfig:"CONDITION_POLL_INTERVAL" default:"5m"`
	ActionTimeout         time.Duration `envconfig:"ACTION_TIMEOUT" default:"2m"`
	// WatchStorage reloads workflows edited directly on local storage.
	WatchStorage bool `envconfig:"WATCH_STORAGE" default:"false"`
}

type MailEnv struct {
	// MailAPIURL overrides the Resend API root.
	MailAPIURL string `envconfig:"MAIL_API_URL"`
	MailAPIKey string `envconfig:"MAIL_API_KEY"`
	MailFrom   string `envconfig:"MAIL_FROM" default:"VolunteerHub <noreply@volunteerhub.app>"`
}

type CompletionEnv struct {
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	Model           string `envconfig:"COMPLETION_MODEL" default:"claude-sonnet-4-5"`
	MaxTokens       int64  `envconfig:"COMPLETION_MAX_TOKENS" default:"2000"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:admin@volunteerhub.app"`
}

type Env struct {
	BaseEnv
	StorageEnv
	RecordsEnv
	SchedulerEnv
	MailEnv
	CompletionEnv
	VAPIDEnv
}

const namespace = "VOLUNTEERHUB"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	if _, err := env.Location(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

// Location is the zone time triggers are evaluated in.
func (e *SchedulerEnv) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", e.Timezone, err)
	}
	return loc, nil
}
