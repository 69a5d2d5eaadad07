package config

import (
	"fmt"
	"time"

	"mailpipe/pkg/config"
)

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Log      LogConfig             `yaml:"log"`
	Redis    config.RedisConfig    `yaml:"redis"`
	MQ       config.MQConfig       `yaml:"mq"`
	Server   config.ServerConfig   `yaml:"server"`
	DB       config.DBConfig       `yaml:"db"`
	Agent    config.AgentConfig    `yaml:"agent"`
	Pipeline config.PipelineConfig `yaml:"pipeline"`
}

// Load reads config/<CONFIG_ENV>.yaml over config/base.yaml, then applies
// environment overrides.
func Load() (*Config, error) {
	// 使用统一配置中心
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideAgentFromEnv(&cfg.Agent)
	config.OverridePipelineFromEnv(&cfg.Pipeline)
	if level := config.GetEnv("LOG_LEVEL", ""); level != "" {
		cfg.Log.Level = level
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.MQ.Prefetch <= 0 {
		c.MQ.Prefetch = 1
	}
	if c.DB.Port == 0 {
		c.DB.Port = 5432
	}
	if c.Agent.Timeout <= 0 {
		c.Agent.Timeout = 15 * time.Second
	}
	if c.Pipeline.MaxRetries <= 0 {
		c.Pipeline.MaxRetries = 3
	}
	if c.Pipeline.RetryTTL <= 0 {
		c.Pipeline.RetryTTL = time.Hour
	}
}
