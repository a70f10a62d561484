package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Broker struct {
		URL            string        `mapstructure:"url"`
		Username       string        `mapstructure:"username"`
		Password       string        `mapstructure:"password"`
		QoS            int           `mapstructure:"qos"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
		EmbeddedAddr   string        `mapstructure:"embedded_addr"`
		AutoConnect    bool          `mapstructure:"auto_connect"`
	} `mapstructure:"broker"`
	Redis struct {
		Addr      string        `mapstructure:"addr"`
		Password  string        `mapstructure:"password"`
		DB        int           `mapstructure:"db"`
		ReportTTL time.Duration `mapstructure:"report_ttl"`
	} `mapstructure:"redis"`
	Pipeline struct {
		FeedMode        string        `mapstructure:"feed_mode"`
		RefreshInterval time.Duration `mapstructure:"refresh_interval"`
		VisiblePoints   int           `mapstructure:"visible_points"`
		HistoryPoints   int           `mapstructure:"history_points"`
	} `mapstructure:"pipeline"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// New returns a viper instance with defaults and MONITOR_* environment
// overrides (e.g. MONITOR_REDIS_ADDR).
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("monitor")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads config.yaml from path if present and decodes the result. A
// missing file is not an error; defaults and environment still apply.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Pipeline.VisiblePoints <= 0 {
		return errors.New("pipeline.visible_points must be positive")
	}
	if c.Pipeline.HistoryPoints < c.Pipeline.VisiblePoints {
		return errors.New("pipeline.history_points must be at least pipeline.visible_points")
	}
	if c.Pipeline.RefreshInterval <= 0 {
		return errors.New("pipeline.refresh_interval must be positive")
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		return fmt.Errorf("broker.qos must be 0, 1 or 2, got %d", c.Broker.QoS)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("broker.url", "tcp://localhost:1883")
	v.SetDefault("broker.username", "")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.qos", 0)
	v.SetDefault("broker.connect_timeout", 10*time.Second)
	v.SetDefault("broker.embedded_addr", "")
	v.SetDefault("broker.auto_connect", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.report_ttl", 5*time.Minute)
	v.SetDefault("pipeline.feed_mode", "refresh")
	v.SetDefault("pipeline.refresh_interval", 200*time.Millisecond)
	v.SetDefault("pipeline.visible_points", 30)
	v.SetDefault("pipeline.history_points", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
