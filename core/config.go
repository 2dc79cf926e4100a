package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultSignatureTTL        = 300 * time.Second
	DefaultWebhookMaxBodyBytes = int64(1 << 20)
	DefaultJobConcurrency      = 3
	DefaultJobAttempts         = 3
	DefaultJobBackoffBase      = 3 * time.Second
	DefaultJobLeaseTimeout     = 5 * time.Minute
	DefaultJobPollInterval     = time.Second
	DefaultJobReapInterval     = 30 * time.Second
	DefaultKeepCompletedJobs   = 100
	DefaultKeepFailedJobs      = 500
	DefaultPushBaseDelay       = time.Second
	DefaultPushMaxAttempts     = 5
	DefaultPushTimeout         = 15 * time.Second
)

type WebhookConfig struct {
	Enabled      bool          `koanf:"enabled" mapstructure:"enabled"`
	APIKey       string        `koanf:"api_key" mapstructure:"api_key"`
	Secret       string        `koanf:"secret" mapstructure:"secret"`
	TTL          time.Duration `koanf:"ttl" mapstructure:"ttl"`
	MaxBodyBytes int64         `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
}

type PushConfig struct {
	Enabled     bool          `koanf:"enabled" mapstructure:"enabled"`
	Secret      string        `koanf:"secret" mapstructure:"secret"`
	BaseDelay   time.Duration `koanf:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay" mapstructure:"max_delay"`
	MaxAttempts int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	MaxWait     time.Duration `koanf:"max_wait" mapstructure:"max_wait"`
	Timeout     time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type JobsConfig struct {
	Concurrency   int           `koanf:"concurrency" mapstructure:"concurrency"`
	Attempts      int           `koanf:"attempts" mapstructure:"attempts"`
	BackoffBase   time.Duration `koanf:"backoff_base" mapstructure:"backoff_base"`
	LeaseTimeout  time.Duration `koanf:"lease_timeout" mapstructure:"lease_timeout"`
	PollInterval  time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	ReapInterval  time.Duration `koanf:"reap_interval" mapstructure:"reap_interval"`
	KeepCompleted int           `koanf:"keep_completed" mapstructure:"keep_completed"`
	KeepFailed    int           `koanf:"keep_failed" mapstructure:"keep_failed"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	Webhook     WebhookConfig `koanf:"webhook" mapstructure:"webhook"`
	Push        PushConfig    `koanf:"push" mapstructure:"push"`
	Jobs        JobsConfig    `koanf:"jobs" mapstructure:"jobs"`
}

// DefaultConfig carries no secrets; an enabled webhook or push surface fails
// validation until its secrets are supplied.
func DefaultConfig() Config {
	return Config{
		ServiceName: "outreach",
		Webhook: WebhookConfig{
			Enabled:      true,
			TTL:          DefaultSignatureTTL,
			MaxBodyBytes: DefaultWebhookMaxBodyBytes,
		},
		Push: PushConfig{
			Enabled:     true,
			BaseDelay:   DefaultPushBaseDelay,
			MaxAttempts: DefaultPushMaxAttempts,
			Timeout:     DefaultPushTimeout,
		},
		Jobs: JobsConfig{
			Concurrency:   DefaultJobConcurrency,
			Attempts:      DefaultJobAttempts,
			BackoffBase:   DefaultJobBackoffBase,
			LeaseTimeout:  DefaultJobLeaseTimeout,
			PollInterval:  DefaultJobPollInterval,
			ReapInterval:  DefaultJobReapInterval,
			KeepCompleted: DefaultKeepCompletedJobs,
			KeepFailed:    DefaultKeepFailedJobs,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Webhook.Enabled {
		if strings.TrimSpace(c.Webhook.APIKey) == "" {
			return fmt.Errorf("core: webhook.api_key is required")
		}
		if strings.TrimSpace(c.Webhook.Secret) == "" {
			return fmt.Errorf("core: webhook.secret is required")
		}
		if c.Webhook.TTL <= 0 {
			return fmt.Errorf("core: webhook.ttl must be positive")
		}
	}
	if c.Webhook.MaxBodyBytes < 0 {
		return fmt.Errorf("core: webhook.max_body_bytes must not be negative")
	}
	if c.Push.Enabled {
		if strings.TrimSpace(c.Push.Secret) == "" {
			return fmt.Errorf("core: push.secret is required")
		}
		if c.Push.MaxAttempts <= 0 {
			return fmt.Errorf("core: push.max_attempts must be positive")
		}
	}
	if c.Push.BaseDelay < 0 || c.Push.MaxDelay < 0 || c.Push.MaxWait < 0 || c.Push.Timeout < 0 {
		return fmt.Errorf("core: push delays must not be negative")
	}
	if c.Jobs.Concurrency <= 0 {
		return fmt.Errorf("core: jobs.concurrency must be positive")
	}
	if c.Jobs.Attempts <= 0 {
		return fmt.Errorf("core: jobs.attempts must be positive")
	}
	if c.Jobs.BackoffBase < 0 {
		return fmt.Errorf("core: jobs.backoff_base must not be negative")
	}
	if c.Jobs.LeaseTimeout <= 0 {
		return fmt.Errorf("core: jobs.lease_timeout must be positive")
	}
	if c.Jobs.KeepCompleted < 0 || c.Jobs.KeepFailed < 0 {
		return fmt.Errorf("core: jobs retention counts must not be negative")
	}
	return nil
}
