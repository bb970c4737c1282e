package core

import (
	"context"
	"testing"
	"time"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

func TestResolveConfig_Defaults(t *testing.T) {
	cfg, err := ResolveConfig(context.Background(), Config{}, nil, nil)
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.ServiceName != "outbound" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.Queue.VisibilityTimeoutSeconds != 30 {
		t.Fatalf("expected default visibility timeout 30, got %d", cfg.Queue.VisibilityTimeoutSeconds)
	}
	if cfg.Queue.MaxAttempts != 5 {
		t.Fatalf("expected default max attempts 5, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.JobTimeout() != 0 {
		t.Fatalf("expected no job timeout by default")
	}
}

func TestResolveConfig_RuntimeOverridesLoadedValues(t *testing.T) {
	loaded := DefaultConfig()
	loaded.Queue.MaxAttempts = 7
	loaded.EncryptionKey = "from-file"

	cfg, err := ResolveConfig(context.Background(), Config{
		EncryptionKey: "from-runtime",
		Worker:        WorkerConfig{JobTimeoutSeconds: 3},
	}, &fixedConfigProvider{cfg: loaded}, GoOptionsResolver{})
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.Queue.MaxAttempts != 7 {
		t.Fatalf("expected loaded max attempts 7, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.EncryptionKey != "from-runtime" {
		t.Fatalf("expected runtime encryption key, got %q", cfg.EncryptionKey)
	}
	if cfg.JobTimeout() != 3*time.Second {
		t.Fatalf("expected 3s job timeout, got %s", cfg.JobTimeout())
	}
}

func TestCfgxConfigProvider_LoadsRawValues(t *testing.T) {
	provider := NewCfgxConfigProvider(StaticRawConfigLoader{Values: map[string]any{
		"encryption_key": "raw-key",
		"queue": map[string]any{
			"max_attempts": 2,
		},
	}})
	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EncryptionKey != "raw-key" {
		t.Fatalf("expected raw key, got %q", cfg.EncryptionKey)
	}
	if cfg.Queue.MaxAttempts != 2 {
		t.Fatalf("expected max attempts 2, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.VisibilityTimeoutSeconds != 30 {
		t.Fatalf("expected default visibility timeout kept, got %d", cfg.Queue.VisibilityTimeoutSeconds)
	}
}

func TestResolveConfig_StrictModeRequiresKey(t *testing.T) {
	_, err := ResolveConfig(context.Background(), Config{Strict: true}, nil, nil)
	if err == nil {
		t.Fatalf("expected strict mode without key to fail")
	}
	if !IsErrorCode(err, ErrorConfigInvalid) {
		t.Fatalf("expected config invalid code, got %v", err)
	}
}

func TestConfigValidate_JobTimeoutMustFitInsideLease(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Worker.JobTimeoutSeconds = cfg.Queue.VisibilityTimeoutSeconds
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected job timeout equal to visibility timeout to be rejected")
	}
	cfg.Worker.JobTimeoutSeconds = cfg.Queue.VisibilityTimeoutSeconds - 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected shorter job timeout to pass, got %v", err)
	}
}
