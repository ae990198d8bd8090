// Package config loads runtime configuration from file, environment, and
// defaults, in that order of increasing precedence for the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// Config is the full runtime configuration of the service
type Config struct {
	Server types.ServerConfig `mapstructure:"server"`
	Log    LogConfig          `mapstructure:"log"`
	Data   DataConfig         `mapstructure:"data"`
	Eval   EvalConfig         `mapstructure:"eval"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level"`       // debug, info, warn, error
	Development bool   `mapstructure:"development"` // console encoder, caller info
}

// DataConfig selects and tunes the market data provider. Cache TTLs are
// per data kind: intraday bars expire fastest, daily bars slower, and
// news or calendar events slowest.
type DataConfig struct {
	Provider         string        `mapstructure:"provider"` // synthetic or file
	Dir              string        `mapstructure:"dir"`      // file provider root
	Seed             int64         `mapstructure:"seed"`     // synthetic provider seed
	CacheIntradayTTL time.Duration `mapstructure:"cacheIntradayTtl"`
	CacheDailyTTL    time.Duration `mapstructure:"cacheDailyTtl"`
	CacheEventTTL    time.Duration `mapstructure:"cacheEventTtl"`
	CacheSize        int           `mapstructure:"cacheSize"`
}

// EvalConfig tunes evaluation parallelism
type EvalConfig struct {
	Workers int `mapstructure:"workers"` // 0 = NumCPU
}

// Load reads configuration from the optional file path plus STRATEVAL_*
// environment variables. A missing file is fine; a malformed one is not.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STRATEVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("strateval")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/strateval")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.readTimeout", 30*time.Second)
	v.SetDefault("server.writeTimeout", 120*time.Second)
	v.SetDefault("server.shutdownTimeout", 15*time.Second)
	v.SetDefault("server.allowedOrigins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("data.provider", "synthetic")
	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.seed", 42)
	v.SetDefault("data.cacheIntradayTtl", 5*time.Minute)
	v.SetDefault("data.cacheDailyTtl", 6*time.Hour)
	v.SetDefault("data.cacheEventTtl", 12*time.Hour)
	v.SetDefault("data.cacheSize", 256)

	v.SetDefault("eval.workers", 0)
}

func (c *Config) validate() error {
	ve := &types.ValidationError{}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		ve.Addf("server.port", "port %d out of range", c.Server.Port)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		ve.Addf("log.level", "unknown level %q", c.Log.Level)
	}
	switch c.Data.Provider {
	case "synthetic", "file":
	default:
		ve.Addf("data.provider", "unknown provider %q", c.Data.Provider)
	}
	if c.Data.Provider == "file" && c.Data.Dir == "" {
		ve.Add("data.dir", "file provider requires a data directory")
	}
	return ve.OrNil()
}
