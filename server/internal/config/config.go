package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Session SessionConfig `yaml:"session"`
	Redis   RedisConfig   `yaml:"redis"`
	Logging LoggingConfig `yaml:"logging"`
	Paths   PathsConfig   `yaml:"paths"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LLMConfig 补全服务配置。Provider 为空时整个系统走确定性规则路径。
type LLMConfig struct {
	Provider  string            `yaml:"provider"` // "openai", "anthropic" or ""
	Timeout   time.Duration     `yaml:"timeout"`
	OpenAI    LLMProviderConfig `yaml:"openai"`
	Anthropic LLMProviderConfig `yaml:"anthropic"`
}

// LLMProviderConfig LLM 提供商配置
type LLMProviderConfig struct {
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type SessionConfig struct {
	Backend       string        `yaml:"backend"` // "memory" or "redis"
	MaxIdle       time.Duration `yaml:"max_idle"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PathsConfig struct {
	Prompts string `yaml:"prompts"`
}

// Env 环境变量覆盖层，只承载不进配置文件的敏感项与部署项。
type Env struct {
	Port           int    `envconfig:"PORT"`
	OpenAIKey      string `envconfig:"OPENAI_API_KEY"`
	AnthropicKey   string `envconfig:"ANTHROPIC_API_KEY"`
	LLMProvider    string `envconfig:"LLM_PROVIDER"`
	RedisAddr      string `envconfig:"REDIS_ADDR"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	SessionBackend string `envconfig:"SESSION_BACKEND"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
}

// Default 返回不依赖配置文件就能跑起来的缺省配置。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         3001,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			Timeout: 25 * time.Second,
			OpenAI: LLMProviderConfig{
				APIURL:      "https://api.openai.com/v1",
				Model:       "gpt-4o",
				Temperature: 0.2,
				MaxTokens:   1500,
			},
			Anthropic: LLMProviderConfig{
				APIURL:      "https://api.anthropic.com/v1",
				Model:       "claude-sonnet-4-20250514",
				Temperature: 0.2,
				MaxTokens:   1500,
			},
		},
		Session: SessionConfig{
			Backend:       "memory",
			MaxIdle:       time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Paths: PathsConfig{
			Prompts: "configs/prompts",
		},
	}
}

// Load 从文件加载配置并叠加环境变量。文件不存在时退回缺省配置，
// 方便零配置启动。
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// 没有配置文件也能跑，全靠缺省值加环境变量
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	cfg.applyEnv(&env)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(env *Env) {
	if env.Port != 0 {
		c.Server.Port = env.Port
	}
	if env.OpenAIKey != "" {
		c.LLM.OpenAI.APIKey = env.OpenAIKey
	}
	if env.AnthropicKey != "" {
		c.LLM.Anthropic.APIKey = env.AnthropicKey
	}
	if env.LLMProvider != "" {
		c.LLM.Provider = env.LLMProvider
	}
	if env.RedisAddr != "" {
		c.Redis.Addr = env.RedisAddr
	}
	if env.RedisPassword != "" {
		c.Redis.Password = env.RedisPassword
	}
	if env.SessionBackend != "" {
		c.Session.Backend = env.SessionBackend
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "":
		// 规则模式，无需密钥
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("llm provider is openai but OPENAI_API_KEY is empty")
		}
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("llm provider is anthropic but ANTHROPIC_API_KEY is empty")
		}
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}
	if c.Session.MaxIdle <= 0 {
		return fmt.Errorf("session max_idle must be positive")
	}
	return nil
}

// Addr 监听地址。
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
