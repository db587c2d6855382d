// Package config 加载服务配置：默认值 < 配置文件 < 环境变量
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/chaos-io/bgcompare/chroma"
	"github.com/chaos-io/bgcompare/rembg"
	"github.com/chaos-io/bgcompare/replicate"
)

const EnvPrefix = "BGCOMPARE"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Replicate ReplicateConfig `mapstructure:"replicate"`
	Poll      PollConfig      `mapstructure:"poll"`
	Compare   CompareConfig   `mapstructure:"compare"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Removal   RemovalConfig   `mapstructure:"removal"`
	Store     StoreConfig     `mapstructure:"store"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Models    []rembg.Model   `mapstructure:"models"`
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	StaticDir   string `mapstructure:"static_dir"`
	BodyLimitMB int    `mapstructure:"body_limit_mb"`
}

type ReplicateConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Deadline    time.Duration `mapstructure:"deadline"`
}

type CompareConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

type AnalysisConfig struct {
	Version   string `mapstructure:"version"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

type RemovalConfig struct {
	DefaultTolerance int `mapstructure:"default_tolerance"`
	MaxDimension     int `mapstructure:"max_dimension"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type SessionsConfig struct {
	TTL   time.Duration `mapstructure:"ttl"`
	Sweep string        `mapstructure:"sweep"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.static_dir", "dist")
	v.SetDefault("server.body_limit_mb", 50)

	v.SetDefault("replicate.base_url", replicate.DefaultBaseURL)
	v.SetDefault("replicate.api_key", "")
	v.SetDefault("replicate.request_timeout", 30*time.Second)

	v.SetDefault("poll.interval", replicate.DefaultPollInterval)
	v.SetDefault("poll.max_attempts", 600)
	v.SetDefault("poll.deadline", 15*time.Minute)

	v.SetDefault("compare.max_concurrency", 0)

	v.SetDefault("analysis.version", replicate.AnalysisVersion)
	v.SetDefault("analysis.max_tokens", replicate.AnalysisMaxTokens)

	v.SetDefault("removal.default_tolerance", chroma.DefaultTolerance)
	v.SetDefault("removal.max_dimension", 0)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "bgcompare.db")

	v.SetDefault("sessions.ttl", 2*time.Hour)
	v.SetDefault("sessions.sweep", "@every 10m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// envBindings 沿用 Node 服务的环境变量名
var envBindings = []struct {
	key string
	env []string
}{
	{"replicate.api_key", []string{EnvPrefix + "_REPLICATE_API_KEY", "REPLICATE_API_KEY"}},
	{"server.port", []string{EnvPrefix + "_SERVER_PORT", "PORT"}},
}

// Default 只有默认值和环境变量
func Default() (*Config, error) {
	return Load("")
}

// Load path 为空时按 ./bgcompare.yaml、~/.config/bgcompare/ 查找，找不到文件不算错误
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, b := range envBindings {
		if err := v.BindEnv(append([]string{b.key}, b.env...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", b.key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("bgcompare")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "bgcompare"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Replicate.BaseURL = strings.TrimRight(strings.TrimSpace(c.Replicate.BaseURL), "/")
	c.Replicate.APIKey = strings.TrimSpace(c.Replicate.APIKey)
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.BodyLimitMB <= 0 {
		errs = append(errs, errors.New("server.body_limit_mb must be positive"))
	}
	if c.Replicate.BaseURL == "" {
		errs = append(errs, errors.New("replicate.base_url is required"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if c.Poll.MaxAttempts < 0 || c.Poll.Deadline < 0 {
		errs = append(errs, errors.New("poll.max_attempts and poll.deadline must not be negative"))
	}
	if c.Compare.MaxConcurrency < 0 {
		errs = append(errs, errors.New("compare.max_concurrency must not be negative"))
	}
	if err := chroma.ValidateTolerance(c.Removal.DefaultTolerance); err != nil {
		errs = append(errs, fmt.Errorf("removal.default_tolerance: %w", err))
	}
	if c.Removal.MaxDimension < 0 {
		errs = append(errs, errors.New("removal.max_dimension must not be negative"))
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Sessions.TTL <= 0 {
		errs = append(errs, errors.New("sessions.ttl must be positive"))
	}
	if _, err := cron.ParseStandard(c.Sessions.Sweep); err != nil {
		errs = append(errs, fmt.Errorf("sessions.sweep: %w", err))
	}
	if _, err := rembg.NewRegistry(c.Models); err != nil {
		errs = append(errs, fmt.Errorf("models: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) HasServerKey() bool {
	return c.Replicate.APIKey != ""
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func (c *Config) ReplicatePoll() replicate.PollConfig {
	return replicate.PollConfig{
		Interval:    c.Poll.Interval,
		MaxAttempts: c.Poll.MaxAttempts,
		Deadline:    c.Poll.Deadline,
	}
}

func (c *Config) AnalyzeOptions() replicate.AnalyzeOptions {
	return replicate.AnalyzeOptions{Version: c.Analysis.Version, MaxTokens: c.Analysis.MaxTokens}
}
