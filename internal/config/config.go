package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PolicyCommunity = "community"
	PolicyBroadcast = "broadcast"

	DriverMemory = "memory"
	DriverRedis  = "redis"
)

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Transport TransportConfig
	Fanout    FanoutConfig
	Store     StoreConfig
	Redis     RedisConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address      string `mapstructure:"address"`
	AllowOrigins string `mapstructure:"allowOrigins"`
}

type AuthConfig struct {
	Secret     string        `mapstructure:"secret"`
	Leeway     time.Duration `mapstructure:"leeway"`
	Header     string        `mapstructure:"header"`
	Cookie     string        `mapstructure:"cookie"`
	QueryParam string        `mapstructure:"queryParam"`
}

type TransportConfig struct {
	PingInterval time.Duration `mapstructure:"pingInterval"`
	PongTimeout  time.Duration `mapstructure:"pongTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	SendBuffer   int           `mapstructure:"sendBuffer"`
	DedupeWindow int           `mapstructure:"dedupeWindow"`
}

type FanoutConfig struct {
	// GroupPolicy is "community" (subscribed members only) or "broadcast"
	// (every connected user).
	GroupPolicy string `mapstructure:"groupPolicy"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	HistoryLimit int    `mapstructure:"historyLimit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":3000")
	v.SetDefault("server.allowOrigins", "http://localhost:5173")
	v.SetDefault("auth.leeway", "5s")
	v.SetDefault("auth.header", "x-access-token")
	v.SetDefault("auth.cookie", "token")
	v.SetDefault("auth.queryParam", "token")
	v.SetDefault("transport.pingInterval", "25s")
	v.SetDefault("transport.pongTimeout", "60s")
	v.SetDefault("transport.writeTimeout", "10s")
	v.SetDefault("transport.sendBuffer", 64)
	v.SetDefault("transport.dedupeWindow", 256)
	v.SetDefault("fanout.groupPolicy", PolicyCommunity)
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.historyLimit", 500)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads defaults, then an optional <fileName>.yaml from the working
// directory, then COMMUNITY_* environment variables.
func Load(logger *zap.Logger, fileName string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("COMMUNITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about.
	_ = v.BindEnv("auth.secret")
	_ = v.BindEnv("redis.password")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", fileName, err)
		}
		logger.Warn("config file not found, relying on defaults and env vars", zap.String("name", fileName))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("config: auth.secret is required")
	}
	switch c.Fanout.GroupPolicy {
	case PolicyCommunity, PolicyBroadcast:
	default:
		return fmt.Errorf("config: unknown fanout.groupPolicy %q", c.Fanout.GroupPolicy)
	}
	switch c.Store.Driver {
	case DriverMemory, DriverRedis:
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Transport.PingInterval <= 0 || c.Transport.PongTimeout <= c.Transport.PingInterval {
		return errors.New("config: transport.pongTimeout must exceed transport.pingInterval")
	}
	if c.Transport.SendBuffer <= 0 || c.Transport.DedupeWindow <= 0 {
		return errors.New("config: transport buffers must be positive")
	}
	return nil
}
