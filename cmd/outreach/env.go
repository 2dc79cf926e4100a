package main

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Env is the process configuration read from OUTREACH_* variables. Pointer
// fields override the runtime defaults only when set.
type Env struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Development bool   `env:"DEV"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	WebhookPath     string        `env:"WEBHOOK_PATH" envDefault:"/webhooks/outreach"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	DBDriver      string        `env:"DB_DRIVER" envDefault:"sqlite3"`
	DBDSN         string        `env:"DB_DSN" envDefault:"file:outreach.db?cache=shared&_foreign_keys=on"`
	DBPingTimeout time.Duration `env:"DB_PING_TIMEOUT" envDefault:"5s"`
	DBDebug       bool          `env:"DB_DEBUG"`
	JobCacheTTL   time.Duration `env:"JOB_CACHE_TTL" envDefault:"1m"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisChannel  string `env:"REDIS_CHANNEL"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC"`

	ServiceName *string `env:"SERVICE_NAME"`

	WebhookEnabled      *bool          `env:"WEBHOOK_ENABLED"`
	WebhookAPIKey       *string        `env:"WEBHOOK_API_KEY"`
	WebhookSecret       *string        `env:"WEBHOOK_SECRET"`
	WebhookTTL          *time.Duration `env:"WEBHOOK_TTL"`
	WebhookMaxBodyBytes *int64         `env:"WEBHOOK_MAX_BODY_BYTES"`

	PushEnabled     *bool          `env:"PUSH_ENABLED"`
	PushSecret      *string        `env:"PUSH_SECRET"`
	PushBaseDelay   *time.Duration `env:"PUSH_BASE_DELAY"`
	PushMaxDelay    *time.Duration `env:"PUSH_MAX_DELAY"`
	PushMaxAttempts *int           `env:"PUSH_MAX_ATTEMPTS"`
	PushMaxWait     *time.Duration `env:"PUSH_MAX_WAIT"`
	PushTimeout     *time.Duration `env:"PUSH_TIMEOUT"`

	JobsConcurrency   *int           `env:"JOBS_CONCURRENCY"`
	JobsAttempts      *int           `env:"JOBS_ATTEMPTS"`
	JobsBackoffBase   *time.Duration `env:"JOBS_BACKOFF_BASE"`
	JobsLeaseTimeout  *time.Duration `env:"JOBS_LEASE_TIMEOUT"`
	JobsPollInterval  *time.Duration `env:"JOBS_POLL_INTERVAL"`
	JobsReapInterval  *time.Duration `env:"JOBS_REAP_INTERVAL"`
	JobsKeepCompleted *int           `env:"JOBS_KEEP_COMPLETED"`
	JobsKeepFailed    *int           `env:"JOBS_KEEP_FAILED"`
}

const envPrefix = "OUTREACH_"

func loadEnv() (Env, error) {
	return env.ParseAsWithOptions[Env](env.Options{Prefix: envPrefix})
}

// loadEnvFrom reads variables from vars instead of the process environment.
func loadEnvFrom(vars map[string]string) (Env, error) {
	return env.ParseAsWithOptions[Env](env.Options{Prefix: envPrefix, Environment: vars})
}

// Raw renders the runtime overrides as the nested map the cfgx provider
// decodes, keyed like the koanf tags on core.Config.
func (e Env) Raw() map[string]any {
	raw := map[string]any{}
	put(raw, "service_name", e.ServiceName)

	webhook := map[string]any{}
	put(webhook, "enabled", e.WebhookEnabled)
	put(webhook, "api_key", e.WebhookAPIKey)
	put(webhook, "secret", e.WebhookSecret)
	put(webhook, "ttl", e.WebhookTTL)
	put(webhook, "max_body_bytes", e.WebhookMaxBodyBytes)

	push := map[string]any{}
	put(push, "enabled", e.PushEnabled)
	put(push, "secret", e.PushSecret)
	put(push, "base_delay", e.PushBaseDelay)
	put(push, "max_delay", e.PushMaxDelay)
	put(push, "max_attempts", e.PushMaxAttempts)
	put(push, "max_wait", e.PushMaxWait)
	put(push, "timeout", e.PushTimeout)

	jobs := map[string]any{}
	put(jobs, "concurrency", e.JobsConcurrency)
	put(jobs, "attempts", e.JobsAttempts)
	put(jobs, "backoff_base", e.JobsBackoffBase)
	put(jobs, "lease_timeout", e.JobsLeaseTimeout)
	put(jobs, "poll_interval", e.JobsPollInterval)
	put(jobs, "reap_interval", e.JobsReapInterval)
	put(jobs, "keep_completed", e.JobsKeepCompleted)
	put(jobs, "keep_failed", e.JobsKeepFailed)

	for key, section := range map[string]map[string]any{"webhook": webhook, "push": push, "jobs": jobs} {
		if len(section) > 0 {
			raw[key] = section
		}
	}
	return raw
}

func put[T any](dst map[string]any, key string, value *T) {
	if value != nil {
		dst[key] = *value
	}
}
