package config

import (
	"fmt"
	"os"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if c.Bookmarks.Enabled && c.Bookmarks.Store == "redis" {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Player.Validate(); err != nil {
		return fmt.Errorf("player config: %w", err)
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	if err := c.Bookmarks.Validate(); err != nil {
		return fmt.Errorf("bookmarks config: %w", err)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.HTTPPort < 1 || s.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTPPort)
	}

	if s.HTTP3Port < 0 || s.HTTP3Port > 65535 {
		return fmt.Errorf("invalid HTTP3 port: %d", s.HTTP3Port)
	}

	if s.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	if s.RateLimit > 0 && s.RateBurst < 1 {
		return fmt.Errorf("rate burst must be at least 1 when rate limiting")
	}

	if s.MemoryLimitMB < 0 {
		return fmt.Errorf("memory limit must not be negative")
	}

	if s.HTTP3Port == 0 {
		return nil
	}

	if s.HTTP3Port == s.HTTPPort {
		return fmt.Errorf("HTTP and HTTP3 ports must be different")
	}

	if s.TLSCertFile == "" {
		return fmt.Errorf("TLS certificate file is required")
	}

	if s.TLSKeyFile == "" {
		return fmt.Errorf("TLS key file is required")
	}

	// Check if certificate files exist
	if _, err := os.Stat(s.TLSCertFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS certificate file not found: %s", s.TLSCertFile)
	}

	if _, err := os.Stat(s.TLSKeyFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS key file not found: %s", s.TLSKeyFile)
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", r.DB)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns cannot be negative")
	}

	if r.MinIdleConns > r.PoolSize {
		return fmt.Errorf("min_idle_conns cannot be greater than pool_size")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}

	return nil
}

func (p *PlayerConfig) Validate() error {
	if p.AudioQueueSize <= 0 || p.VideoQueueSize <= 0 {
		return fmt.Errorf("audio and video queue sizes must be positive")
	}

	if p.SubtitleQueueSize <= 0 || p.TeletextQueueSize <= 0 {
		return fmt.Errorf("subtitle and teletext queue sizes must be positive")
	}

	if p.QueueTimeTarget <= 0 {
		return fmt.Errorf("queue_time_target must be positive")
	}

	if p.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}

	if p.OpenTimeout <= 0 {
		return fmt.Errorf("open_timeout must be positive")
	}

	if p.SyncTimeout <= 0 || p.FlushSyncTimeout <= 0 || p.DemuxerSyncTimeout <= 0 {
		return fmt.Errorf("synchronization timeouts must be positive")
	}

	if p.MaxSubtitles <= 0 {
		return fmt.Errorf("max_subtitles must be positive")
	}

	if err := p.Seek.Validate(); err != nil {
		return fmt.Errorf("seek config: %w", err)
	}

	if err := p.EDL.Validate(); err != nil {
		return fmt.Errorf("edl config: %w", err)
	}

	return nil
}

func (s *SeekConfig) Validate() error {
	if s.TimeForward <= 0 || s.TimeBackward <= 0 || s.TimeForwardBig <= 0 || s.TimeBackwardBig <= 0 {
		return fmt.Errorf("time seek steps must be positive")
	}

	if s.PercentForward <= 0 || s.PercentBackward <= 0 || s.PercentForwardBig <= 0 || s.PercentBackwardBig <= 0 {
		return fmt.Errorf("percent seek steps must be positive")
	}

	if s.PercentForwardBig > 100 || s.PercentBackwardBig > 100 {
		return fmt.Errorf("percent seek steps cannot exceed 100")
	}

	return nil
}

func (e *EDLConfig) Validate() error {
	if e.MarkerReset <= 0 {
		return fmt.Errorf("marker_reset must be positive")
	}

	if e.CommBreakGrace < 0 || e.SceneBackOffset < 0 {
		return fmt.Errorf("grace periods cannot be negative")
	}

	return nil
}

func (s *SourceConfig) Validate() error {
	if s.ReadBufferSize <= 0 {
		return fmt.Errorf("read_buffer_size must be positive")
	}

	if s.SRT.PayloadSize <= 0 || s.SRT.PayloadSize > 1500 {
		return fmt.Errorf("srt payload_size must be between 1 and 1500")
	}

	if s.SRT.Passphrase != "" && len(s.SRT.Passphrase) < 10 {
		return fmt.Errorf("srt passphrase must be at least 10 characters")
	}

	if s.RTP.BufferSize <= 0 {
		return fmt.Errorf("rtp buffer_size must be positive")
	}

	if s.RTP.VideoPayloadType == s.RTP.AudioPayloadType {
		return fmt.Errorf("rtp audio and video payload types must differ")
	}

	if s.RTP.VideoClockRate == 0 || s.RTP.AudioClockRate == 0 {
		return fmt.Errorf("rtp clock rates must be positive")
	}

	return nil
}

func (b *BookmarkConfig) Validate() error {
	if !b.Enabled {
		return nil
	}

	if b.Store != "memory" && b.Store != "redis" {
		return fmt.Errorf("store must be 'memory' or 'redis'")
	}

	if b.KeyPrefix == "" {
		return fmt.Errorf("key_prefix cannot be empty")
	}

	if b.TTL < 0 {
		return fmt.Errorf("ttl cannot be negative")
	}

	return nil
}
