// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":7070", cfg.Server.APIAddr)
	assert.True(t, cfg.Server.APIEnabled)
	assert.True(t, cfg.Server.HTTPEnabled)
	assert.Equal(t, 256, cfg.Queue.MaxMessageSize)
	assert.Equal(t, "mutex", cfg.Queue.Lock)
	assert.Zero(t, cfg.Queue.SendTimeout, "sends block until acknowledged by default")
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Webhook.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:   "default config is valid",
			modify: func(c *Config) {},
		},
		{
			name: "no transports enabled",
			modify: func(c *Config) {
				c.Server.APIEnabled = false
				c.Server.HTTPEnabled = false
				c.Server.WSEnabled = false
			},
			wantErr: true,
		},
		{
			name:    "api enabled without address",
			modify:  func(c *Config) { c.Server.APIAddr = "" },
			wantErr: true,
		},
		{
			name:    "tls cert without key",
			modify:  func(c *Config) { c.Server.TLS.CertFile = "cert.pem" },
			wantErr: true,
		},
		{
			name:    "zero message size",
			modify:  func(c *Config) { c.Queue.MaxMessageSize = 0 },
			wantErr: true,
		},
		{
			name:    "negative queue limit",
			modify:  func(c *Config) { c.Queue.MaxQueues = -1 },
			wantErr: true,
		},
		{
			name:    "spin lock",
			modify:  func(c *Config) { c.Queue.Lock = "spin" },
			wantErr: false,
		},
		{
			name:    "unknown lock",
			modify:  func(c *Config) { c.Queue.Lock = "semaphore" },
			wantErr: true,
		},
		{
			name:    "negative send timeout",
			modify:  func(c *Config) { c.Queue.SendTimeout = -time.Second },
			wantErr: true,
		},
		{
			name: "rate limit without burst",
			modify: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.Send.Burst = 0
			},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "invalid" },
			wantErr: true,
		},
		{
			name: "sample rate out of range",
			modify: func(c *Config) {
				c.Server.MetricsEnabled = true
				c.Server.OtelTraceSampleRate = 1.5
			},
			wantErr: true,
		},
		{
			name: "webhook endpoint without url",
			modify: func(c *Config) {
				c.Webhook.Enabled = true
				c.Webhook.Endpoints = []WebhookEndpoint{{Name: "audit"}}
			},
			wantErr: true,
		},
		{
			name: "webhook bad drop policy",
			modify: func(c *Config) {
				c.Webhook.Enabled = true
				c.Webhook.DropPolicy = "random"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, Default(), cfg)
}

func TestLoadPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
queue:
  max_message_size: 1024
  lock: spin
  send_timeout: 5s
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Queue.MaxMessageSize)
	assert.Equal(t, "spin", cfg.Queue.Lock)
	assert.Equal(t, 5*time.Second, cfg.Queue.SendTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr, "unset fields keep defaults")
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  lock: ticket\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid configuration")

	require.NoError(t, os.WriteFile(path, []byte("queue: [\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "failed to parse")
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Server.APIAddr = ":9090"
	cfg.Queue.ReceiveTimeout = 30 * time.Second
	cfg.Webhook.Endpoints = []WebhookEndpoint{{
		Name:         "audit",
		URL:          "http://localhost:9000/hook",
		Events:       []string{"message.sent"},
		QueueFilters: []string{"orders-*"},
	}}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", loaded.Server.APIAddr)
	assert.Equal(t, 30*time.Second, loaded.Queue.ReceiveTimeout)
	require.Len(t, loaded.Webhook.Endpoints, 1)
	assert.Equal(t, []string{"orders-*"}, loaded.Webhook.Endpoints[0].QueueFilters)
}
