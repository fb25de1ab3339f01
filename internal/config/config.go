package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is shared by the ingestor and the flag processor; each binary reads the
// sections it needs.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Auth       AuthConfig       `yaml:"auth"`
	Store      StoreConfig      `yaml:"store"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Batch      BatchConfig      `yaml:"batch"`
}

type ServerConfig struct {
	GRPCPort        int           `yaml:"grpc_port"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigin   string        `yaml:"allowed_origin"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	// ReviewerRoles may read any session's records.
	ReviewerRoles []string `yaml:"reviewer_roles"`
}

// StoreConfig selects the event store backend: "file" or "postgres".
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Enabled       bool              `yaml:"enabled"`
	Brokers       []string          `yaml:"brokers"`
	Topics        map[string]string `yaml:"topics"`
	ConsumerGroup string            `yaml:"consumer_group"`
}

// FlaggedTopic returns the topic carrying flagged-event index entries.
func (k KafkaConfig) FlaggedTopic() string {
	if t := k.Topics["flagged"]; t != "" {
		return t
	}
	return "integrity.flagged"
}

type ClickHouseConfig struct {
	Addr         string `yaml:"addr"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
}

// TrackerConfig selects where session state lives: "memory" or "redis".
type TrackerConfig struct {
	Backend  string        `yaml:"backend"`
	TTL      time.Duration `yaml:"ttl"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
	LockWait time.Duration `yaml:"lock_wait"`
}

type BatchConfig struct {
	MaxEvents     int           `yaml:"max_events"`
	Size          int           `yaml:"size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 9090
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.AllowedOrigin == "" {
		c.Server.AllowedOrigin = "*"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if len(c.Auth.ReviewerRoles) == 0 {
		c.Auth.ReviewerRoles = []string{"admin", "instructor", "university"}
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
	if c.Store.Dir == "" {
		c.Store.Dir = "data/sessions"
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 10
	}
	if c.ClickHouse.MaxOpenConns == 0 {
		c.ClickHouse.MaxOpenConns = 10
	}
	if c.ClickHouse.MaxIdleConns == 0 {
		c.ClickHouse.MaxIdleConns = 5
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 50
	}
	if c.Tracker.Backend == "" {
		c.Tracker.Backend = "memory"
	}
	if c.Tracker.TTL == 0 {
		c.Tracker.TTL = 2 * time.Hour
	}
	if c.Tracker.LockTTL == 0 {
		c.Tracker.LockTTL = 10 * time.Second
	}
	if c.Tracker.LockWait == 0 {
		c.Tracker.LockWait = 5 * time.Second
	}
	if c.Batch.MaxEvents == 0 {
		c.Batch.MaxEvents = 1000
	}
	if c.Batch.Size == 0 {
		c.Batch.Size = 500
	}
	if c.Batch.FlushInterval == 0 {
		c.Batch.FlushInterval = 5 * time.Second
	}
	if c.Kafka.ConsumerGroup == "" {
		c.Kafka.ConsumerGroup = "integrity-flag-processor"
	}
}

// Validate rejects combinations the binaries cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "file":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("config: store backend postgres requires postgres.dsn")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}

	switch c.Tracker.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: tracker backend redis requires redis.addr")
		}
	default:
		return fmt.Errorf("config: unknown tracker backend %q", c.Tracker.Backend)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka enabled without brokers")
	}
	return nil
}
