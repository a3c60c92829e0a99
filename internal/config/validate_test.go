package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfigValidate(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "cert.pem")
	key := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(cert, []byte("cert"), 0600))
	require.NoError(t, os.WriteFile(key, []byte("key"), 0600))

	tests := []struct {
		name    string
		config  ServerConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:   "plain http",
			config: ServerConfig{HTTPPort: 8080},
		},
		{
			name:    "invalid http port",
			config:  ServerConfig{HTTPPort: 0},
			wantErr: true,
			errMsg:  "invalid HTTP port",
		},
		{
			name:    "rate limit without burst",
			config:  ServerConfig{HTTPPort: 8080, RateLimit: 10},
			wantErr: true,
			errMsg:  "rate burst",
		},
		{
			name:    "negative memory limit",
			config:  ServerConfig{HTTPPort: 8080, MemoryLimitMB: -1},
			wantErr: true,
			errMsg:  "memory limit",
		},
		{
			name:    "http3 without cert",
			config:  ServerConfig{HTTPPort: 8080, HTTP3Port: 8443, TLSKeyFile: key},
			wantErr: true,
			errMsg:  "TLS certificate file is required",
		},
		{
			name:    "http3 same port",
			config:  ServerConfig{HTTPPort: 8443, HTTP3Port: 8443, TLSCertFile: cert, TLSKeyFile: key},
			wantErr: true,
			errMsg:  "must be different",
		},
		{
			name:   "http3 with tls",
			config: ServerConfig{HTTPPort: 8080, HTTP3Port: 8443, TLSCertFile: cert, TLSKeyFile: key},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRedisConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  RedisConfig
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: RedisConfig{
				Addresses:    []string{"localhost:6379"},
				DB:           0,
				MaxRetries:   3,
				PoolSize:     100,
				MinIdleConns: 10,
			},
			wantErr: false,
		},
		{
			name: "missing addresses",
			config: RedisConfig{
				Addresses: []string{},
				DB:        0,
				PoolSize:  100,
			},
			wantErr: true,
			errMsg:  "at least one Redis address is required",
		},
		{
			name: "negative DB",
			config: RedisConfig{
				Addresses: []string{"localhost:6379"},
				DB:        -1,
				PoolSize:  100,
			},
			wantErr: true,
			errMsg:  "invalid Redis database number",
		},
		{
			name: "min idle conns greater than pool size",
			config: RedisConfig{
				Addresses:    []string{"localhost:6379"},
				PoolSize:     10,
				MinIdleConns: 20,
			},
			wantErr: true,
			errMsg:  "min_idle_conns cannot be greater than pool_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoggingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  LoggingConfig
		wantErr bool
	}{
		{"valid stdout", LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, false},
		{"invalid level", LoggingConfig{Level: "loud", Format: "json", Output: "stdout"}, true},
		{"invalid format", LoggingConfig{Level: "info", Format: "xml", Output: "stdout"}, true},
		{"file without size", LoggingConfig{Level: "info", Format: "text", Output: "/tmp/x.log"}, true},
		{"file with rotation", LoggingConfig{Level: "info", Format: "text", Output: "/tmp/x.log", MaxSize: 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func validPlayerConfig() PlayerConfig {
	return PlayerConfig{
		AudioQueueSize:     1024,
		VideoQueueSize:     1024,
		SubtitleQueueSize:  1024,
		TeletextQueueSize:  1024,
		QueueTimeTarget:    4 * time.Second,
		PollInterval:       100 * time.Millisecond,
		OpenTimeout:        time.Second,
		SyncTimeout:        10 * time.Second,
		FlushSyncTimeout:   time.Second,
		DemuxerSyncTimeout: 100 * time.Millisecond,
		MaxSubtitles:       5,
		Seek: SeekConfig{
			TimeForward:        30 * time.Second,
			TimeBackward:       30 * time.Second,
			TimeForwardBig:     10 * time.Minute,
			TimeBackwardBig:    10 * time.Minute,
			PercentForward:     2,
			PercentBackward:    2,
			PercentForwardBig:  10,
			PercentBackwardBig: 10,
		},
		EDL: EDLConfig{MarkerReset: 500 * time.Millisecond},
	}
}

func TestPlayerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PlayerConfig)
		wantErr string
	}{
		{"valid", func(*PlayerConfig) {}, ""},
		{"zero video queue", func(c *PlayerConfig) { c.VideoQueueSize = 0 }, "queue sizes must be positive"},
		{"zero time target", func(c *PlayerConfig) { c.QueueTimeTarget = 0 }, "queue_time_target"},
		{"zero sync timeout", func(c *PlayerConfig) { c.SyncTimeout = 0 }, "synchronization timeouts"},
		{"negative seek step", func(c *PlayerConfig) { c.Seek.TimeBackward = -time.Second }, "time seek steps"},
		{"percent over 100", func(c *PlayerConfig) { c.Seek.PercentForwardBig = 150 }, "cannot exceed 100"},
		{"zero marker reset", func(c *PlayerConfig) { c.EDL.MarkerReset = 0 }, "marker_reset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validPlayerConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBookmarkConfigValidate(t *testing.T) {
	assert.NoError(t, (&BookmarkConfig{Enabled: false, Store: "sqlite"}).Validate())
	assert.NoError(t, (&BookmarkConfig{Enabled: true, Store: "redis", KeyPrefix: "p:"}).Validate())
	assert.Error(t, (&BookmarkConfig{Enabled: true, Store: "sqlite", KeyPrefix: "p:"}).Validate())
	assert.Error(t, (&BookmarkConfig{Enabled: true, Store: "memory"}).Validate())
}
