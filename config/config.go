// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	tlsconf "github.com/absmach/syncmq/pkg/tls"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the queue daemon.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Queue     QueueConfig     `yaml:"queue"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds listener and telemetry configuration.
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	APIAddr         string        `yaml:"api_addr"`
	HTTPAddr        string        `yaml:"http_addr"`
	WSAddr          string        `yaml:"ws_addr"`
	HealthAddr      string        `yaml:"health_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"` // OTLP gRPC endpoint
	APIEnabled      bool          `yaml:"api_enabled"`
	HTTPEnabled     bool          `yaml:"http_enabled"`
	WSEnabled       bool          `yaml:"ws_enabled"`
	HealthEnabled   bool          `yaml:"health_enabled"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Optional TLS for the API and HTTP listeners.
	TLS tlsconf.Config `yaml:"tls"`

	// OpenTelemetry configuration
	OtelServiceName     string  `yaml:"otel_service_name"`
	OtelServiceVersion  string  `yaml:"otel_service_version"`
	OtelTracesEnabled   bool    `yaml:"otel_traces_enabled"`
	OtelMetricsEnabled  bool    `yaml:"otel_metrics_enabled"`
	OtelTraceSampleRate float64 `yaml:"otel_trace_sample_rate"` // 0.0 to 1.0
}

// QueueConfig holds registry and protocol settings.
type QueueConfig struct {
	// Maximum payload size in bytes, shared by every queue.
	MaxMessageSize int `yaml:"max_message_size"`
	// Maximum number of live queues. 0 means unlimited.
	MaxQueues int `yaml:"max_queues"`
	// Lock selects the exclusion primitive: "mutex" or "spin".
	Lock string `yaml:"lock"`
	// Default bounds for blocking calls without a caller deadline.
	// 0 blocks indefinitely: a sender whose message is received but never
	// acked stays parked until a consumer acks it or the queue is
	// force-deleted. WebSocket consumers release unacked messages when
	// they disconnect; RPC and HTTP receivers do not.
	SendTimeout    time.Duration `yaml:"send_timeout"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool               `yaml:"enabled"`
	Send    SendLimitConfig    `yaml:"send"`
	Request RequestLimitConfig `yaml:"request"`
}

// SendLimitConfig limits sends per queue.
type SendLimitConfig struct {
	Rate  float64 `yaml:"rate"` // sends per second
	Burst int     `yaml:"burst"`
}

// RequestLimitConfig limits transport requests per client IP.
type RequestLimitConfig struct {
	Rate            float64       `yaml:"rate"` // requests per second
	Burst           int           `yaml:"burst"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled         bool              `yaml:"enabled"`
	QueueSize       int               `yaml:"queue_size"`
	DropPolicy      string            `yaml:"drop_policy"`      // "oldest" or "newest"
	Workers         int               `yaml:"workers"`          // Number of worker goroutines
	IncludePayload  bool              `yaml:"include_payload"`  // Include payload in message.sent events
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"` // Graceful shutdown timeout
	Defaults        WebhookDefaults   `yaml:"defaults"`
	Endpoints       []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookDefaults holds default settings for webhook endpoints.
type WebhookDefaults struct {
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig holds retry configuration for webhook delivery.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// WebhookEndpoint defines a single webhook endpoint.
type WebhookEndpoint struct {
	Name         string            `yaml:"name"`
	URL          string            `yaml:"url"`
	Events       []string          `yaml:"events"`        // Event type filter (empty = all)
	QueueFilters []string          `yaml:"queue_filters"` // Queue id patterns, "*" suffix wildcard (empty = all)
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout,omitempty"` // Override default
	Retry        *RetryConfig      `yaml:"retry,omitempty"`   // Override default
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			NodeID:          "syncmq-1",
			APIAddr:         ":7070",
			APIEnabled:      true,
			HTTPAddr:        ":8080",
			HTTPEnabled:     true,
			WSAddr:          ":8083",
			WSEnabled:       false,
			HealthAddr:      ":8081",
			HealthEnabled:   true,
			MetricsAddr:     "localhost:4317",
			MetricsEnabled:  false,
			ShutdownTimeout: 30 * time.Second,

			OtelServiceName:     "syncmq",
			OtelServiceVersion:  "1.0.0",
			OtelMetricsEnabled:  true,
			OtelTracesEnabled:   false,
			OtelTraceSampleRate: 0.1,
		},
		Queue: QueueConfig{
			MaxMessageSize: 256,
			MaxQueues:      0,
			Lock:           "mutex",
			SendTimeout:    0,
			ReceiveTimeout: 0,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			Send: SendLimitConfig{
				Rate:  100,
				Burst: 10,
			},
			Request: RequestLimitConfig{
				Rate:            200,
				Burst:           50,
				CleanupInterval: 5 * time.Minute,
			},
		},
		Webhook: WebhookConfig{
			Enabled:         false,
			QueueSize:       10000,
			DropPolicy:      "oldest",
			Workers:         5,
			IncludePayload:  false,
			ShutdownTimeout: 30 * time.Second,
			Defaults: WebhookDefaults{
				Timeout: 5 * time.Second,
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 1 * time.Second,
					MaxInterval:     30 * time.Second,
					Multiplier:      2.0,
				},
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     60 * time.Second,
				},
			},
			Endpoints: []WebhookEndpoint{},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !c.Server.APIEnabled && !c.Server.HTTPEnabled && !c.Server.WSEnabled {
		return fmt.Errorf("at least one of server.api_enabled, server.http_enabled, server.ws_enabled must be set")
	}
	if c.Server.APIEnabled && c.Server.APIAddr == "" {
		return fmt.Errorf("server.api_addr cannot be empty when the API is enabled")
	}
	if c.Server.HTTPEnabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr cannot be empty when HTTP is enabled")
	}
	if c.Server.WSEnabled && c.Server.WSAddr == "" {
		return fmt.Errorf("server.ws_addr cannot be empty when WebSocket is enabled")
	}
	if c.Server.HealthEnabled && c.Server.HealthAddr == "" {
		return fmt.Errorf("server.health_addr cannot be empty when health is enabled")
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout cannot be negative")
	}
	if err := c.Server.TLS.Validate(); err != nil {
		return fmt.Errorf("server.tls: %w", err)
	}

	if c.Queue.MaxMessageSize < 1 {
		return fmt.Errorf("queue.max_message_size must be at least 1 byte")
	}
	if c.Queue.MaxQueues < 0 {
		return fmt.Errorf("queue.max_queues cannot be negative")
	}
	if c.Queue.Lock != "mutex" && c.Queue.Lock != "spin" {
		return fmt.Errorf("queue.lock must be 'mutex' or 'spin'")
	}
	if c.Queue.SendTimeout < 0 || c.Queue.ReceiveTimeout < 0 {
		return fmt.Errorf("queue.send_timeout and queue.receive_timeout cannot be negative")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Send.Rate <= 0 || c.RateLimit.Send.Burst < 1 {
			return fmt.Errorf("ratelimit.send requires a positive rate and burst")
		}
		if c.RateLimit.Request.Rate <= 0 || c.RateLimit.Request.Burst < 1 {
			return fmt.Errorf("ratelimit.request requires a positive rate and burst")
		}
		if c.RateLimit.Request.CleanupInterval < time.Second {
			return fmt.Errorf("ratelimit.request.cleanup_interval must be at least 1 second")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	// OpenTelemetry validation (only if metrics enabled)
	if c.Server.MetricsEnabled {
		if c.Server.OtelServiceName == "" {
			return fmt.Errorf("server.otel_service_name cannot be empty when metrics enabled")
		}
		if c.Server.OtelTraceSampleRate < 0.0 || c.Server.OtelTraceSampleRate > 1.0 {
			return fmt.Errorf("server.otel_trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	// Webhook validation (only if enabled)
	if c.Webhook.Enabled {
		if c.Webhook.QueueSize < 100 {
			return fmt.Errorf("webhook.queue_size must be at least 100")
		}
		if c.Webhook.DropPolicy != "oldest" && c.Webhook.DropPolicy != "newest" {
			return fmt.Errorf("webhook.drop_policy must be 'oldest' or 'newest'")
		}
		if c.Webhook.Workers < 1 {
			return fmt.Errorf("webhook.workers must be at least 1")
		}
		if c.Webhook.ShutdownTimeout < time.Second {
			return fmt.Errorf("webhook.shutdown_timeout must be at least 1 second")
		}
		if c.Webhook.Defaults.Timeout < time.Second {
			return fmt.Errorf("webhook.defaults.timeout must be at least 1 second")
		}
		if c.Webhook.Defaults.Retry.MaxAttempts < 1 {
			return fmt.Errorf("webhook.defaults.retry.max_attempts must be at least 1")
		}
		if c.Webhook.Defaults.Retry.Multiplier < 1.0 {
			return fmt.Errorf("webhook.defaults.retry.multiplier must be at least 1.0")
		}
		if c.Webhook.Defaults.CircuitBreaker.FailureThreshold < 1 {
			return fmt.Errorf("webhook.defaults.circuit_breaker.failure_threshold must be at least 1")
		}

		for i, endpoint := range c.Webhook.Endpoints {
			if endpoint.Name == "" {
				return fmt.Errorf("webhook.endpoints[%d].name cannot be empty", i)
			}
			if endpoint.URL == "" {
				return fmt.Errorf("webhook.endpoints[%d].url cannot be empty", i)
			}
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
