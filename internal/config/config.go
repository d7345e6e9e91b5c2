// Package config loads the service configuration from a YAML or JSON file
// and ESTATEFLOW_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/rogers-f/estate-workflow/internal/domain"
	"github.com/rogers-f/estate-workflow/internal/workflow"
)

// EnvPrefix is prepended to every environment override, e.g. ESTATEFLOW_REDIS_ADDR.
const EnvPrefix = "ESTATEFLOW"

// DefaultRedisTTL bounds how long a cached application may outlive a missed invalidation.
const DefaultRedisTTL = 10 * time.Minute

// RedisConfig points the read cache at a Redis server. An empty Addr selects the in-memory cache.
// A TTL of 0 keeps entries until they are invalidated.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// WorkflowConfig overrides the default stage layout.
type WorkflowConfig struct {
	Stages                []workflow.Stage `mapstructure:"stages"`
	IntegrationStartIndex int              `mapstructure:"integration_start_index"`
}

// Config holds the service's runtime configuration.
type Config struct {
	DBPath             string         `mapstructure:"db_path"`
	ListenAddr         string         `mapstructure:"listen_addr"`
	LogLevel           string         `mapstructure:"log_level"`
	RateLimitPerMinute int            `mapstructure:"rate_limit_per_minute"`
	Redis              RedisConfig    `mapstructure:"redis"`
	Workflow           WorkflowConfig `mapstructure:"workflow"`
}

// envKeys are bound explicitly so overrides apply even when the file omits the key.
var envKeys = []string{
	"db_path",
	"listen_addr",
	"log_level",
	"rate_limit_per_minute",
	"redis.addr",
	"redis.password",
	"redis.db",
	"redis.ttl",
	"workflow.integration_start_index",
}

// Load reads the config file at path (optional), applies environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys whose zero value is meaningful get viper defaults rather than
	// applyDefaults, so an explicit 0 survives.
	v.SetDefault("redis.ttl", DefaultRedisTTL)
	v.SetDefault("workflow.integration_start_index", workflow.DefaultIntegrationStartIndex)
	for _, k := range envKeys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", k, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Rules builds the transition rules described by the workflow section.
func (c *Config) Rules() (workflow.Rules, error) {
	stages := workflow.DefaultStageMap()
	if len(c.Workflow.Stages) > 0 {
		m, err := workflow.NewStageMap(c.Workflow.Stages)
		if err != nil {
			return workflow.Rules{}, err
		}
		stages = m
	}
	return workflow.Rules{Stages: stages, IntegrationStart: c.Workflow.IntegrationStartIndex}, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "estateflow.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":9800"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.RateLimitPerMinute < 0 {
		problems = append(problems, "rate_limit_per_minute must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("log_level %q is not a valid level", c.LogLevel))
	}
	if c.Redis.DB < 0 {
		problems = append(problems, "redis.db must not be negative")
	}
	if c.Redis.TTL < 0 {
		problems = append(problems, "redis.ttl must not be negative")
	}

	if rules, err := c.Rules(); err != nil {
		problems = append(problems, err.Error())
	} else if c.Workflow.IntegrationStartIndex < 0 || c.Workflow.IntegrationStartIndex >= rules.TotalSteps() {
		problems = append(problems, fmt.Sprintf("workflow.integration_start_index must be in [0, %d)", rules.TotalSteps()))
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
