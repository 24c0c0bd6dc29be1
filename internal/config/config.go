package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig    `mapstructure:"server"`
	StreamServer ServerConfig    `mapstructure:"stream_server"`
	Redis        RedisConfig     `mapstructure:"redis"`
	MySQL        MySQLConfig     `mapstructure:"mysql"`
	Leader       LeaderConfig    `mapstructure:"leader"`
	Instance     InstanceConfig  `mapstructure:"instance"`
	Store        StoreConfig     `mapstructure:"store"`
	Bidding      BiddingConfig   `mapstructure:"bidding"`
	Ranking      RankingConfig   `mapstructure:"ranking"`
	Broadcast    BroadcastConfig `mapstructure:"broadcast"`
	Log          LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type LeaderConfig struct {
	Key string        `mapstructure:"key"`
	TTL time.Duration `mapstructure:"ttl"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

// StoreConfig selects the offer store backend. The memory driver seeds its
// catalog from CatalogPath when set.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	CatalogPath string `mapstructure:"catalog_path"`
}

type BiddingConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Baseline     string        `mapstructure:"baseline"`
}

type RankingConfig struct {
	DefaultLimit     int    `mapstructure:"default_limit"`
	MaxLimit         int    `mapstructure:"max_limit"`
	SnapshotEnabled  bool   `mapstructure:"snapshot_enabled"`
	SnapshotSchedule string `mapstructure:"snapshot_schedule"`
	SnapshotKey      string `mapstructure:"snapshot_key"`
}

type BroadcastConfig struct {
	InboxSize        int    `mapstructure:"inbox_size"`
	SubscriberBuffer int    `mapstructure:"subscriber_buffer"`
	RelayEnabled     bool   `mapstructure:"relay_enabled"`
	RelayChannel     string `mapstructure:"relay_channel"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

const (
	StoreDriverMySQL  = "mysql"
	StoreDriverMemory = "memory"
)

func Load() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	// Configuration file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/offer-market/")

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return decode(v)
}

// LoadFromFile loads configuration from a specific file path. Keys missing
// from the file take their defaults or environment values.
func LoadFromFile(configPath string) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return decode(v)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("stream_server.port", 8081)
	v.SetDefault("stream_server.host", "0.0.0.0")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mysql.dsn", "offers_user:offers_pass@tcp(localhost:3306)/offer_market?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("leader.key", "ranking_snapshot_leader")
	v.SetDefault("leader.ttl", 30*time.Second)
	v.SetDefault("instance.id", "offer-service-1")
	v.SetDefault("store.driver", StoreDriverMySQL)
	v.SetDefault("store.catalog_path", "")
	v.SetDefault("bidding.max_attempts", 3)
	v.SetDefault("bidding.retry_backoff", 20*time.Millisecond)
	v.SetDefault("bidding.baseline", "zero")
	v.SetDefault("ranking.default_limit", 10)
	v.SetDefault("ranking.max_limit", 100)
	v.SetDefault("ranking.snapshot_enabled", false)
	v.SetDefault("ranking.snapshot_schedule", "@every 30s")
	v.SetDefault("ranking.snapshot_key", "ranking:top_offers")
	v.SetDefault("broadcast.inbox_size", 1024)
	v.SetDefault("broadcast.subscriber_buffer", 64)
	v.SetDefault("broadcast.relay_enabled", false)
	v.SetDefault("broadcast.relay_channel", "price_events")
	v.SetDefault("log.level", "info")

	// Environment variable support
	v.AutomaticEnv()

	// Environment variable mappings
	bindings := map[string]string{
		"server.port":                 "SERVER_PORT",
		"server.host":                 "SERVER_HOST",
		"stream_server.port":          "STREAM_SERVER_PORT",
		"stream_server.host":          "STREAM_SERVER_HOST",
		"redis.address":               "REDIS_ADDRESS",
		"redis.password":              "REDIS_PASSWORD",
		"redis.db":                    "REDIS_DB",
		"mysql.dsn":                   "MYSQL_DSN",
		"mysql.max_open_conns":        "MYSQL_MAX_OPEN_CONNS",
		"mysql.max_idle_conns":        "MYSQL_MAX_IDLE_CONNS",
		"mysql.conn_max_lifetime":     "MYSQL_CONN_MAX_LIFETIME",
		"leader.key":                  "LEADER_KEY",
		"leader.ttl":                  "LEADER_TTL",
		"instance.id":                 "INSTANCE_ID",
		"store.driver":                "STORE_DRIVER",
		"store.catalog_path":          "STORE_CATALOG_PATH",
		"bidding.max_attempts":        "BIDDING_MAX_ATTEMPTS",
		"bidding.retry_backoff":       "BIDDING_RETRY_BACKOFF",
		"bidding.baseline":            "BIDDING_BASELINE",
		"ranking.default_limit":       "RANKING_DEFAULT_LIMIT",
		"ranking.max_limit":           "RANKING_MAX_LIMIT",
		"ranking.snapshot_enabled":    "RANKING_SNAPSHOT_ENABLED",
		"ranking.snapshot_schedule":   "RANKING_SNAPSHOT_SCHEDULE",
		"ranking.snapshot_key":        "RANKING_SNAPSHOT_KEY",
		"broadcast.inbox_size":        "BROADCAST_INBOX_SIZE",
		"broadcast.subscriber_buffer": "BROADCAST_SUBSCRIBER_BUFFER",
		"broadcast.relay_enabled":     "BROADCAST_RELAY_ENABLED",
		"broadcast.relay_channel":     "BROADCAST_RELAY_CHANNEL",
		"log.level":                   "LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverMySQL, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Bidding.Baseline {
	case "zero", "listing_price":
	default:
		return fmt.Errorf("unknown bidding baseline %q", c.Bidding.Baseline)
	}

	if c.Bidding.MaxAttempts < 1 {
		return fmt.Errorf("bidding.max_attempts must be at least 1, got %d", c.Bidding.MaxAttempts)
	}
	if c.Ranking.DefaultLimit < 1 || c.Ranking.MaxLimit < c.Ranking.DefaultLimit {
		return fmt.Errorf("invalid ranking limits: default=%d max=%d", c.Ranking.DefaultLimit, c.Ranking.MaxLimit)
	}
	if c.Broadcast.InboxSize < 1 || c.Broadcast.SubscriberBuffer < 1 {
		return errors.New("broadcast buffers must be positive")
	}
	return nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, Stream: %s:%d, Store: %s, Redis: %s, Instance: %s, Baseline: %s",
		c.Server.Host,
		c.Server.Port,
		c.StreamServer.Host,
		c.StreamServer.Port,
		c.Store.Driver,
		c.Redis.Address,
		c.Instance.ID,
		c.Bidding.Baseline,
	)
}
