// Package config loads runtime configuration from defaults, an optional
// config file and SONET_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"sonet/internal/logging"
)

// Config holds all runtime configuration for the messaging server.
type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Hub     HubConfig      `mapstructure:"hub"`
	Store   StoreConfig    `mapstructure:"store"`
	Index   IndexConfig    `mapstructure:"index"`
	Push    PushConfig     `mapstructure:"push"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Logging logging.Config `mapstructure:"logging"`
}

// ServerConfig contains network-level settings for the websocket listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	WebSocketPath   string        `mapstructure:"websocket_path"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxContentBytes int64         `mapstructure:"max_content_bytes"`
}

// HubConfig controls connection lifecycle, fan-out and typing behavior.
type HubConfig struct {
	AuthTimeout         time.Duration `mapstructure:"auth_timeout"`
	PingInterval        time.Duration `mapstructure:"ping_interval"`
	PongTimeout         time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	SendQueueSize       int           `mapstructure:"send_queue_size"`
	MaxFrameBytes       int64         `mapstructure:"max_frame_bytes"`
	MessageRateLimit    int           `mapstructure:"message_rate_limit"` // per minute
	BanAfterViolations  int           `mapstructure:"ban_after_violations"`
	TypingTimeout       time.Duration `mapstructure:"typing_timeout"`
	TypingFlushInterval time.Duration `mapstructure:"typing_flush_interval"`
	FanoutWorkers       int           `mapstructure:"fanout_workers"`
}

// StoreConfig locates persisted state.
type StoreConfig struct {
	Dir        string `mapstructure:"dir"`
	Passphrase string `mapstructure:"passphrase"`
}

// IndexConfig bounds the search index.
type IndexConfig struct {
	BatchInterval     time.Duration `mapstructure:"batch_interval"`
	MaxBatchSize      int           `mapstructure:"max_batch_size"`
	MaxPendingUpdates int           `mapstructure:"max_pending_updates"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	CacheMaxEntries   int           `mapstructure:"cache_max_entries"`
	MinRelevance      float64       `mapstructure:"min_relevance"`
	RecencyHalfLife   time.Duration `mapstructure:"recency_half_life"`
	Semantic          bool          `mapstructure:"semantic"`
	Stemming          bool          `mapstructure:"stemming"`
}

// PushConfig selects the offline notifier.
type PushConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	RedisURL string        `mapstructure:"redis_url"`
	QueueTTL time.Duration `mapstructure:"queue_ttl"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ListenAddr  string `mapstructure:"listen_addr"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Load reads configuration from defaults, an optional sonet.yaml and the
// environment. Out-of-range values are corrected to defaults.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9096)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.max_content_bytes", int64(10<<20))

	v.SetDefault("hub.auth_timeout", 15*time.Second)
	v.SetDefault("hub.ping_interval", 30*time.Second)
	v.SetDefault("hub.pong_timeout", 75*time.Second)
	v.SetDefault("hub.write_timeout", 10*time.Second)
	v.SetDefault("hub.send_queue_size", 256)
	v.SetDefault("hub.max_frame_bytes", int64(1<<20))
	v.SetDefault("hub.message_rate_limit", 60)
	v.SetDefault("hub.ban_after_violations", 1000)
	v.SetDefault("hub.typing_timeout", 6*time.Second)
	v.SetDefault("hub.typing_flush_interval", time.Second)
	v.SetDefault("hub.fanout_workers", 0)

	v.SetDefault("store.dir", "./data")
	v.SetDefault("store.passphrase", "")

	v.SetDefault("index.batch_interval", 200*time.Millisecond)
	v.SetDefault("index.max_batch_size", 256)
	v.SetDefault("index.max_pending_updates", 4096)
	v.SetDefault("index.cache_ttl", 30*time.Second)
	v.SetDefault("index.cache_max_entries", 512)
	v.SetDefault("index.min_relevance", 0.05)
	v.SetDefault("index.recency_half_life", 72*time.Hour)
	v.SetDefault("index.semantic", true)
	v.SetDefault("index.stemming", true)

	v.SetDefault("push.enabled", false)
	v.SetDefault("push.redis_url", "redis://localhost:6379/0")
	v.SetDefault("push.queue_ttl", 24*time.Hour)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9095")
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("metrics.service_name", "sonet-messaging")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("sonet")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("SONET")
	v.AutomaticEnv()

	// Config file is optional.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Hub.SendQueueSize <= 0 {
		cfg.Hub.SendQueueSize = 256
	}
	if cfg.Hub.MessageRateLimit <= 0 {
		cfg.Hub.MessageRateLimit = 60
	}
	if cfg.Server.MaxContentBytes <= 0 {
		cfg.Server.MaxContentBytes = 10 << 20
	}

	return cfg, nil
}
