// Package config loads server configuration from defaults, an optional
// config file, and TRADEPULSE_* environment overrides.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port         string `mapstructure:"port"`
	DatabasePath string `mapstructure:"database_path"`
	JWTSecret    string `mapstructure:"jwt_secret"`

	Push  PushConfig  `mapstructure:"push"`
	Stats StatsConfig `mapstructure:"stats"`
}

type PushConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
	DedupWindow       time.Duration `mapstructure:"dedup_window"`
	MaxReconnects     int           `mapstructure:"max_reconnects"`
	ReconnectBaseWait time.Duration `mapstructure:"reconnect_base_wait"`
}

type StatsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Load reads configuration. A missing config file is not an error; defaults
// and environment variables are enough to run.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("database_path", "tradepulse.db")
	v.SetDefault("jwt_secret", "tradepulse-secret-key")
	v.SetDefault("push.heartbeat_interval", 30*time.Second)
	v.SetDefault("push.write_timeout", 10*time.Second)
	v.SetDefault("push.subscriber_buffer", 256)
	v.SetDefault("push.dedup_window", 5*time.Second)
	v.SetDefault("push.max_reconnects", 3)
	v.SetDefault("push.reconnect_base_wait", 2*time.Second)
	v.SetDefault("stats.cache_ttl", 5*time.Minute)

	v.SetEnvPrefix("TRADEPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
