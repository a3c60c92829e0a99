package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Logging   LoggingConfig  `mapstructure:"logging"`
	Metrics   MetricsConfig  `mapstructure:"metrics"`
	Player    PlayerConfig   `mapstructure:"player"`
	Source    SourceConfig   `mapstructure:"source"`
	Bookmarks BookmarkConfig `mapstructure:"bookmarks"`
}

type ServerConfig struct {
	// HTTP control API
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Control API request limit, zero disables limiting
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second
	RateBurst int     `mapstructure:"rate_burst"`

	// Heap limit for the memory health check, zero disables it
	MemoryLimitMB int `mapstructure:"memory_limit_mb"`

	// Optional HTTP/3 listener, enabled when a port and TLS files are set
	HTTP3Port   int    `mapstructure:"http3_port"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`
}

// HTTP3Enabled reports whether the HTTP/3 listener should be started.
func (s *ServerConfig) HTTP3Enabled() bool {
	return s.HTTP3Port > 0 && s.TLSCertFile != "" && s.TLSKeyFile != ""
}

type RedisConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`   // json or text
	Output     string `mapstructure:"output"`   // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

type PlayerConfig struct {
	// Queue capacities in bytes per stream
	AudioQueueSize    int `mapstructure:"audio_queue_size"`
	VideoQueueSize    int `mapstructure:"video_queue_size"`
	SubtitleQueueSize int `mapstructure:"subtitle_queue_size"`
	TeletextQueueSize int `mapstructure:"teletext_queue_size"`

	QueueTimeTarget time.Duration `mapstructure:"queue_time_target"` // buffered duration reported as 100%
	PutTimeout      time.Duration `mapstructure:"put_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"` // consumer idle tick

	OpenTimeout        time.Duration `mapstructure:"open_timeout"`
	SyncTimeout        time.Duration `mapstructure:"sync_timeout"`         // cross stream start barrier
	FlushSyncTimeout   time.Duration `mapstructure:"flush_sync_timeout"`   // barrier after a hard flush
	DemuxerSyncTimeout time.Duration `mapstructure:"demuxer_sync_timeout"` // wait after posting a seek

	PaceOutput      bool          `mapstructure:"pace_output"` // hold audio/video until their presentation time
	CatchUpInterval time.Duration `mapstructure:"catch_up_interval"`
	MaxSubtitles    int           `mapstructure:"max_subtitles"`

	Seek SeekConfig `mapstructure:"seek"`
	EDL  EDLConfig  `mapstructure:"edl"`
}

type SeekConfig struct {
	UseTimeSeeking bool `mapstructure:"use_time_seeking"`

	TimeForward     time.Duration `mapstructure:"time_forward"`
	TimeBackward    time.Duration `mapstructure:"time_backward"`
	TimeForwardBig  time.Duration `mapstructure:"time_forward_big"`
	TimeBackwardBig time.Duration `mapstructure:"time_backward_big"`

	PercentForward     float64 `mapstructure:"percent_forward"`
	PercentBackward    float64 `mapstructure:"percent_backward"`
	PercentForwardBig  float64 `mapstructure:"percent_forward_big"`
	PercentBackwardBig float64 `mapstructure:"percent_backward_big"`
}

type EDLConfig struct {
	Autoload        bool          `mapstructure:"autoload"`
	MarkerReset     time.Duration `mapstructure:"marker_reset"`      // cadence for re-arming cut skips
	CommBreakGrace  time.Duration `mapstructure:"commbreak_grace"`   // window for seeking back into a skipped break
	SceneBackOffset time.Duration `mapstructure:"scene_back_offset"` // grace when seeking scenes backwards
}

type SourceConfig struct {
	ReadBufferSize int       `mapstructure:"read_buffer_size"`
	SRT            SRTConfig `mapstructure:"srt"`
	RTP            RTPConfig `mapstructure:"rtp"`
}

type SRTConfig struct {
	Latency        time.Duration `mapstructure:"latency"`
	StreamID       string        `mapstructure:"stream_id"`
	Passphrase     string        `mapstructure:"passphrase"` // Min 10 chars
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PayloadSize    int           `mapstructure:"payload_size"`
}

type RTPConfig struct {
	BufferSize       int           `mapstructure:"buffer_size"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	VideoPayloadType uint8         `mapstructure:"video_payload_type"`
	AudioPayloadType uint8         `mapstructure:"audio_payload_type"`
	VideoClockRate   uint32        `mapstructure:"video_clock_rate"`
	AudioClockRate   uint32        `mapstructure:"audio_clock_rate"`
}

type BookmarkConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Store     string        `mapstructure:"store"` // memory or redis
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variable override
	v.SetEnvPrefix("PLAYCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.http3_port", 0)
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.memory_limit_mb", 0)

	// Redis defaults
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 1)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Player queue defaults
	v.SetDefault("player.audio_queue_size", 6*1024*1024)
	v.SetDefault("player.video_queue_size", 40*1024*1024)
	v.SetDefault("player.subtitle_queue_size", 1024*1024)
	v.SetDefault("player.teletext_queue_size", 1024*1024)
	v.SetDefault("player.queue_time_target", "4s")
	v.SetDefault("player.put_timeout", "10s")
	v.SetDefault("player.poll_interval", "100ms")

	// Player synchronization defaults
	v.SetDefault("player.open_timeout", "10s")
	v.SetDefault("player.sync_timeout", "10s")
	v.SetDefault("player.flush_sync_timeout", "1s")
	v.SetDefault("player.demuxer_sync_timeout", "100ms")
	v.SetDefault("player.pace_output", true)
	v.SetDefault("player.catch_up_interval", "1s")
	v.SetDefault("player.max_subtitles", 5)

	// Seek step defaults
	v.SetDefault("player.seek.use_time_seeking", true)
	v.SetDefault("player.seek.time_forward", "30s")
	v.SetDefault("player.seek.time_backward", "30s")
	v.SetDefault("player.seek.time_forward_big", "10m")
	v.SetDefault("player.seek.time_backward_big", "10m")
	v.SetDefault("player.seek.percent_forward", 2.0)
	v.SetDefault("player.seek.percent_backward", 2.0)
	v.SetDefault("player.seek.percent_forward_big", 10.0)
	v.SetDefault("player.seek.percent_backward_big", 10.0)

	// EDL defaults
	v.SetDefault("player.edl.autoload", true)
	v.SetDefault("player.edl.marker_reset", "500ms")
	v.SetDefault("player.edl.commbreak_grace", "10s")
	v.SetDefault("player.edl.scene_back_offset", "5s")

	// Source defaults
	v.SetDefault("source.read_buffer_size", 188*7*64)
	v.SetDefault("source.srt.latency", "120ms")
	v.SetDefault("source.srt.connect_timeout", "5s")
	v.SetDefault("source.srt.payload_size", 1316)
	v.SetDefault("source.rtp.buffer_size", 2097152) // 2MB
	v.SetDefault("source.rtp.read_timeout", "5s")
	v.SetDefault("source.rtp.video_payload_type", 96)
	v.SetDefault("source.rtp.audio_payload_type", 97)
	v.SetDefault("source.rtp.video_clock_rate", 90000)
	v.SetDefault("source.rtp.audio_clock_rate", 48000)

	// Bookmark defaults
	v.SetDefault("bookmarks.enabled", true)
	v.SetDefault("bookmarks.store", "memory")
	v.SetDefault("bookmarks.key_prefix", "playcore:bookmarks:")
	v.SetDefault("bookmarks.ttl", "720h")
}
