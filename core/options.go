package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StaticRawConfigLoader serves a fixed raw map.
type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	// validation runs once the runtime layer is merged
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults, loaded and runtime values. Runtime
// values only override when set, so a runtime layer cannot switch a surface
// off by leaving a flag false.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, true),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// ResolveConfig loads and layers configuration with the given collaborators,
// falling back to the cfgx provider and go-options resolver.
func ResolveConfig(ctx context.Context, runtime Config, provider ConfigProvider, resolver OptionsResolver) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	webhook := map[string]any{}
	putBool(webhook, "enabled", cfg.Webhook.Enabled, includeZero)
	putString(webhook, "api_key", cfg.Webhook.APIKey, includeZero)
	putString(webhook, "secret", cfg.Webhook.Secret, includeZero)
	putDuration(webhook, "ttl", cfg.Webhook.TTL, includeZero)
	if includeZero || cfg.Webhook.MaxBodyBytes != 0 {
		webhook["max_body_bytes"] = cfg.Webhook.MaxBodyBytes
	}
	if len(webhook) > 0 {
		layer["webhook"] = webhook
	}

	push := map[string]any{}
	putBool(push, "enabled", cfg.Push.Enabled, includeZero)
	putString(push, "secret", cfg.Push.Secret, includeZero)
	putDuration(push, "base_delay", cfg.Push.BaseDelay, includeZero)
	putDuration(push, "max_delay", cfg.Push.MaxDelay, includeZero)
	putInt(push, "max_attempts", cfg.Push.MaxAttempts, includeZero)
	putDuration(push, "max_wait", cfg.Push.MaxWait, includeZero)
	putDuration(push, "timeout", cfg.Push.Timeout, includeZero)
	if len(push) > 0 {
		layer["push"] = push
	}

	jobs := map[string]any{}
	putInt(jobs, "concurrency", cfg.Jobs.Concurrency, includeZero)
	putInt(jobs, "attempts", cfg.Jobs.Attempts, includeZero)
	putDuration(jobs, "backoff_base", cfg.Jobs.BackoffBase, includeZero)
	putDuration(jobs, "lease_timeout", cfg.Jobs.LeaseTimeout, includeZero)
	putDuration(jobs, "poll_interval", cfg.Jobs.PollInterval, includeZero)
	putDuration(jobs, "reap_interval", cfg.Jobs.ReapInterval, includeZero)
	putInt(jobs, "keep_completed", cfg.Jobs.KeepCompleted, includeZero)
	putInt(jobs, "keep_failed", cfg.Jobs.KeepFailed, includeZero)
	if len(jobs) > 0 {
		layer["jobs"] = jobs
	}
	return layer
}

func putBool(layer map[string]any, key string, value bool, includeZero bool) {
	if includeZero || value {
		layer[key] = value
	}
}

func putString(layer map[string]any, key string, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		layer[key] = value
	}
}

func putInt(layer map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}

func putDuration(layer map[string]any, key string, value time.Duration, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}
