package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Admin   AdminConfig   `yaml:"admin"`
	Content ContentConfig `yaml:"content"`
	Store   StoreConfig   `yaml:"store"`
	Relay   RelayConfig   `yaml:"relay"`
	Redis   RedisConfig   `yaml:"redis"`
	SQLite  SQLiteConfig  `yaml:"sqlite"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Upstash UpstashConfig `yaml:"upstash"`
	Pusher  PusherConfig  `yaml:"pusher"`
	Stream  StreamConfig  `yaml:"stream"`
	Viewer  ViewerConfig  `yaml:"viewer"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type AdminConfig struct {
	// Token 是发布接口的共享密钥（x-admin-token）。为空时所有发布都被拒绝。
	Token string `yaml:"token"`
}

type ContentConfig struct {
	Key              string `yaml:"key"`
	Channel          string `yaml:"channel"`
	PlaceholderImage string `yaml:"placeholder_image"`
}

type StoreConfig struct {
	// Driver: memory | redis | sqlite | upstash
	Driver    string        `yaml:"driver"`
	OpTimeout time.Duration `yaml:"op_timeout"`
}

type RelayConfig struct {
	// Driver: memory | redis | mqtt | upstash
	Driver      string        `yaml:"driver"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type UpstashConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type PusherConfig struct {
	AppID   string `yaml:"app_id"`
	Key     string `yaml:"key"`
	Secret  string `yaml:"secret"`
	Cluster string `yaml:"cluster"`
	Channel string `yaml:"channel"`
	Event   string `yaml:"event"`
}

// Enabled 只有四项凭证都配置时才启用 Pusher。
func (p PusherConfig) Enabled() bool {
	return p.AppID != "" && p.Key != "" && p.Secret != "" && p.Cluster != ""
}

type StreamConfig struct {
	KeepAlive time.Duration `yaml:"keep_alive"`
}

// ViewerConfig 会通过 /config/viewer 暴露给观众端。
type ViewerConfig struct {
	ForcePolling      bool          `yaml:"force_polling"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	OpenTimeout       time.Duration `yaml:"open_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default 返回一份可直接运行的本地配置：内存存储 + 内存中继。
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Content: ContentConfig{
			Key:              "content:current",
			Channel:          "content-updates",
			PlaceholderImage: "",
		},
		Store: StoreConfig{Driver: "memory", OpTimeout: 5 * time.Second},
		Relay: RelayConfig{Driver: "memory", SendTimeout: 5 * time.Second},
		Redis: RedisConfig{URL: "redis://localhost:6379/0"},
		SQLite: SQLiteConfig{
			Path: "stagecast.db",
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			TopicPrefix:    "stagecast/",
			QoS:            1,
			ConnectTimeout: 5 * time.Second,
		},
		Pusher: PusherConfig{
			Channel: "content-updates",
			Event:   "content-changed",
		},
		Stream: StreamConfig{KeepAlive: 25 * time.Second},
		Viewer: ViewerConfig{
			PollInterval:      3 * time.Second,
			RetryDelay:        time.Second,
			OpenTimeout:       5 * time.Second,
			ReconnectInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
	}
}

// Load 从文件加载配置。path 为空时只用默认值和环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("apply env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv 用环境变量覆盖配置，密钥类配置通常只从环境变量来。
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	str("LISTEN_ADDR", &c.Server.Addr)
	str("ADMIN_TOKEN", &c.Admin.Token)
	str("CURRENT_KEY", &c.Content.Key)
	str("CHANNEL", &c.Content.Channel)
	str("PLACEHOLDER_IMAGE", &c.Content.PlaceholderImage)
	str("STORE_DRIVER", &c.Store.Driver)
	str("RELAY_DRIVER", &c.Relay.Driver)
	str("REDIS_URL", &c.Redis.URL)
	str("SQLITE_PATH", &c.SQLite.Path)
	str("MQTT_BROKER", &c.MQTT.Broker)
	str("UPSTASH_REDIS_REST_URL", &c.Upstash.URL)
	str("UPSTASH_REDIS_REST_TOKEN", &c.Upstash.Token)
	str("PUSHER_APP_ID", &c.Pusher.AppID)
	str("PUSHER_KEY", &c.Pusher.Key)
	str("PUSHER_SECRET", &c.Pusher.Secret)
	str("PUSHER_CLUSTER", &c.Pusher.Cluster)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	if v, ok := lookup("FORCE_POLLING"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FORCE_POLLING: %w", err)
		}
		c.Viewer.ForcePolling = b
	}
	return nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.Content.Key == "" {
		return fmt.Errorf("content key is required")
	}
	if c.Content.Channel == "" {
		return fmt.Errorf("content channel is required")
	}

	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis url is required for store driver redis (set REDIS_URL)")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required for store driver sqlite (set SQLITE_PATH)")
		}
	case "upstash":
		if err := c.Upstash.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Relay.Driver {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis url is required for relay driver redis (set REDIS_URL)")
		}
	case "mqtt":
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker is required for relay driver mqtt (set MQTT_BROKER)")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	case "upstash":
		if err := c.Upstash.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown relay driver %q", c.Relay.Driver)
	}

	if c.Pusher.Enabled() && (c.Pusher.Channel == "" || c.Pusher.Event == "") {
		return fmt.Errorf("pusher channel and event are required when pusher is enabled")
	}
	if c.Viewer.PollInterval <= 0 {
		return fmt.Errorf("viewer poll interval must be positive")
	}
	return nil
}

func (u UpstashConfig) validate() error {
	if u.URL == "" || u.Token == "" {
		return fmt.Errorf("upstash url and token are required (set UPSTASH_REDIS_REST_URL and UPSTASH_REDIS_REST_TOKEN)")
	}
	return nil
}
