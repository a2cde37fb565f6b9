// Package config supplies rasterflowd's layered configuration: flags,
// environment variables (RASTERFLOW_ prefix), and an optional YAML file,
// merged by viper the way the retrieved pack's CLI tools do it.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// PoolConfig describes one named worker pool to create at startup.
type PoolConfig struct {
	Name    string `mapstructure:"name"`
	Kind    string `mapstructure:"kind"` // "thread" or "process"
	Workers int    `mapstructure:"workers"`
}

// Config is rasterflowd's resolved runtime configuration.
type Config struct {
	LogLevel  string       `mapstructure:"log_level"`
	CacheRoot string       `mapstructure:"cache_root"`
	Pools     []PoolConfig `mapstructure:"pools"`
}

// defaults mirrors the bare-minimum pool an engine needs to run anything:
// a single in-process "compute" pool.
func defaults() Config {
	return Config{
		LogLevel:  "info",
		CacheRoot: "./cache",
		Pools:     []PoolConfig{{Name: "compute", Kind: "thread", Workers: 4}},
	}
}

// Load resolves configuration from, in ascending priority: built-in
// defaults, an optional YAML file (cfgFile, or ./rasterflow.yaml if
// cfgFile is empty and the file exists), RASTERFLOW_-prefixed
// environment variables, and flags already bound onto fs.
func Load(cfgFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	d := defaults()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("cache_root", d.CacheRoot)
	v.SetDefault("pools", d.Pools)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("rasterflow")
	}

	v.SetEnvPrefix("RASTERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: binding flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}
	if len(cfg.Pools) == 0 {
		cfg.Pools = d.Pools
	}
	return &cfg, nil
}
