package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 配置文件结构体
type Config struct {
	Version string `mapstructure:"version"`

	Sqlite struct {
		Dsn    string `mapstructure:"dsn"`
		Prefix string `mapstructure:"prefix"`
		// RetentionHours 注入历史保留时长，0 表示不清理
		RetentionHours int `mapstructure:"retention_hours"`
	} `mapstructure:"sqlite"`

	Log struct {
		Level  string   `mapstructure:"level"`
		Writer []string `mapstructure:"writer"`
		File   string   `mapstructure:"file"`
	} `mapstructure:"log"`

	DevTools struct {
		URL              string `mapstructure:"url"`
		Concurrency      int    `mapstructure:"concurrency"`
		ProcessTimeoutMS int    `mapstructure:"process_timeout_ms"`
		PollIntervalMS   int    `mapstructure:"poll_interval_ms"`
	} `mapstructure:"devtools"`

	Engine struct {
		// Mode 选择编译策略：declarative（预装规则）或 blocking（逐请求决定）
		Mode string `mapstructure:"mode"`
		// Encoding 复合头部编码：composite 或 keyvalue
		Encoding      string `mapstructure:"encoding"`
		CacheTTLSec   int    `mapstructure:"cache_ttl_sec"`
		SweepEverySec int    `mapstructure:"sweep_every_sec"`
	} `mapstructure:"engine"`

	Settings struct {
		File  string `mapstructure:"file"`
		Watch bool   `mapstructure:"watch"`
	} `mapstructure:"settings"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "mockdriver.sqlite3"
	c.Sqlite.Prefix = "mockdriver_"
	c.Sqlite.RetentionHours = 168
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "logs/mockdriver.log"
	c.DevTools.URL = "http://127.0.0.1:9222"
	c.DevTools.Concurrency = 16
	c.DevTools.ProcessTimeoutMS = 3000
	c.DevTools.PollIntervalMS = 1000
	c.Engine.Mode = "declarative"
	c.Engine.Encoding = "composite"
	c.Engine.CacheTTLSec = 60
	c.Engine.SweepEverySec = 60
	c.Settings.File = "settings.yaml"
	c.Settings.Watch = true
	return c
}

// Load 从文件和 MOCKDRIVER_* 环境变量加载配置，文件为空时只使用默认值和环境变量
func Load(file string) (*Config, error) {
	v := viper.New()
	def := NewConfig()
	v.SetDefault("version", def.Version)
	v.SetDefault("sqlite.dsn", def.Sqlite.Dsn)
	v.SetDefault("sqlite.prefix", def.Sqlite.Prefix)
	v.SetDefault("sqlite.retention_hours", def.Sqlite.RetentionHours)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.writer", def.Log.Writer)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("devtools.url", def.DevTools.URL)
	v.SetDefault("devtools.concurrency", def.DevTools.Concurrency)
	v.SetDefault("devtools.process_timeout_ms", def.DevTools.ProcessTimeoutMS)
	v.SetDefault("devtools.poll_interval_ms", def.DevTools.PollIntervalMS)
	v.SetDefault("engine.mode", def.Engine.Mode)
	v.SetDefault("engine.encoding", def.Engine.Encoding)
	v.SetDefault("engine.cache_ttl_sec", def.Engine.CacheTTLSec)
	v.SetDefault("engine.sweep_every_sec", def.Engine.SweepEverySec)
	v.SetDefault("settings.file", def.Settings.File)
	v.SetDefault("settings.watch", def.Settings.Watch)
	v.SetDefault("metrics.addr", "")

	v.SetEnvPrefix("MOCKDRIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", file, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验枚举类配置
func (c *Config) Validate() error {
	if c.Sqlite.RetentionHours < 0 {
		return fmt.Errorf("negative history retention %d", c.Sqlite.RetentionHours)
	}
	switch c.Engine.Mode {
	case "declarative", "blocking":
	default:
		return fmt.Errorf("unknown engine mode %q", c.Engine.Mode)
	}
	switch c.Engine.Encoding {
	case "composite", "keyvalue":
	default:
		return fmt.Errorf("unknown header encoding %q", c.Engine.Encoding)
	}
	return nil
}
