package core

import (
	"fmt"
	"strings"
	"time"
)

type QueueConfig struct {
	VisibilityTimeoutSeconds int `koanf:"visibility_timeout_seconds" mapstructure:"visibility_timeout_seconds"`
	MaxAttempts              int `koanf:"max_attempts" mapstructure:"max_attempts"`
	BackoffSeconds           int `koanf:"backoff_seconds" mapstructure:"backoff_seconds"`
}

type WorkerConfig struct {
	JobTimeoutSeconds int `koanf:"job_timeout_seconds" mapstructure:"job_timeout_seconds"`
}

type BridgeConfig struct {
	BatchSize int `koanf:"batch_size" mapstructure:"batch_size"`
}

type DeliveryConfig struct {
	HTTPTimeoutSeconds int   `koanf:"http_timeout_seconds" mapstructure:"http_timeout_seconds"`
	MaxResponseBytes   int64 `koanf:"max_response_bytes" mapstructure:"max_response_bytes"`
}

type Config struct {
	ServiceName   string         `koanf:"service_name" mapstructure:"service_name"`
	EncryptionKey string         `koanf:"encryption_key" mapstructure:"encryption_key"`
	Strict        bool           `koanf:"strict" mapstructure:"strict"`
	Queue         QueueConfig    `koanf:"queue" mapstructure:"queue"`
	Worker        WorkerConfig   `koanf:"worker" mapstructure:"worker"`
	Bridge        BridgeConfig   `koanf:"bridge" mapstructure:"bridge"`
	Delivery      DeliveryConfig `koanf:"delivery" mapstructure:"delivery"`

	// PreviousEncryptionKeys still decrypt secrets written before a key rotation.
	PreviousEncryptionKeys []string `koanf:"previous_encryption_keys" mapstructure:"previous_encryption_keys"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "outbound",
		Queue: QueueConfig{
			VisibilityTimeoutSeconds: 30,
			MaxAttempts:              5,
			BackoffSeconds:           10,
		},
		Bridge: BridgeConfig{BatchSize: 100},
		Delivery: DeliveryConfig{
			HTTPTimeoutSeconds: 10,
			MaxResponseBytes:   64 * 1024,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Strict && strings.TrimSpace(c.EncryptionKey) == "" {
		return fmt.Errorf("core: encryption_key is required in strict mode")
	}
	for idx, key := range c.PreviousEncryptionKeys {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("core: previous_encryption_keys[%d] is empty", idx)
		}
	}
	if c.Queue.VisibilityTimeoutSeconds <= 0 {
		return fmt.Errorf("core: queue.visibility_timeout_seconds must be positive")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("core: queue.max_attempts must be at least 1")
	}
	if c.Queue.BackoffSeconds < 0 {
		return fmt.Errorf("core: queue.backoff_seconds must not be negative")
	}
	if c.Worker.JobTimeoutSeconds < 0 {
		return fmt.Errorf("core: worker.job_timeout_seconds must not be negative")
	}
	if c.Worker.JobTimeoutSeconds > 0 && c.Worker.JobTimeoutSeconds >= c.Queue.VisibilityTimeoutSeconds {
		return fmt.Errorf("core: worker.job_timeout_seconds must be below queue.visibility_timeout_seconds")
	}
	if c.Bridge.BatchSize < 0 {
		return fmt.Errorf("core: bridge.batch_size must not be negative")
	}
	return nil
}

func (c Config) QueueDefaults() QueueDefaults {
	return QueueDefaults{
		VisibilityTimeout: time.Duration(c.Queue.VisibilityTimeoutSeconds) * time.Second,
		MaxAttempts:       c.Queue.MaxAttempts,
		BackoffSeconds:    c.Queue.BackoffSeconds,
	}.Normalize()
}

func (c Config) JobTimeout() time.Duration {
	if c.Worker.JobTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Worker.JobTimeoutSeconds) * time.Second
}

func (c Config) HTTPTimeout() time.Duration {
	if c.Delivery.HTTPTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Delivery.HTTPTimeoutSeconds) * time.Second
}
