package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
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

// StaticRawConfigLoader serves a fixed map, typically decoded from a file or env.
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
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

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
			configToLayerMap(loaded, false),
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

// ResolveConfig layers defaults, provider-loaded values and runtime overrides.
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
		return Config{}, WrapError(err, goerrors.CategoryValidation, ErrorConfigInvalid, "config load failed")
	}
	resolved, err := resolver.Resolve(defaults, loaded, runtime)
	if err != nil {
		return Config{}, WrapError(err, goerrors.CategoryValidation, ErrorConfigInvalid, "config resolve failed")
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.EncryptionKey) != "" {
		layer["encryption_key"] = cfg.EncryptionKey
	}
	if includeZero || len(cfg.PreviousEncryptionKeys) > 0 {
		layer["previous_encryption_keys"] = append([]string(nil), cfg.PreviousEncryptionKeys...)
	}
	if includeZero || cfg.Strict {
		layer["strict"] = cfg.Strict
	}

	queue := map[string]any{}
	if includeZero || cfg.Queue.VisibilityTimeoutSeconds != 0 {
		queue["visibility_timeout_seconds"] = cfg.Queue.VisibilityTimeoutSeconds
	}
	if includeZero || cfg.Queue.MaxAttempts != 0 {
		queue["max_attempts"] = cfg.Queue.MaxAttempts
	}
	if includeZero || cfg.Queue.BackoffSeconds != 0 {
		queue["backoff_seconds"] = cfg.Queue.BackoffSeconds
	}
	if len(queue) > 0 {
		layer["queue"] = queue
	}

	if includeZero || cfg.Worker.JobTimeoutSeconds != 0 {
		layer["worker"] = map[string]any{
			"job_timeout_seconds": cfg.Worker.JobTimeoutSeconds,
		}
	}
	if includeZero || cfg.Bridge.BatchSize != 0 {
		layer["bridge"] = map[string]any{
			"batch_size": cfg.Bridge.BatchSize,
		}
	}

	delivery := map[string]any{}
	if includeZero || cfg.Delivery.HTTPTimeoutSeconds != 0 {
		delivery["http_timeout_seconds"] = cfg.Delivery.HTTPTimeoutSeconds
	}
	if includeZero || cfg.Delivery.MaxResponseBytes != 0 {
		delivery["max_response_bytes"] = cfg.Delivery.MaxResponseBytes
	}
	if len(delivery) > 0 {
		layer["delivery"] = delivery
	}
	return layer
}
