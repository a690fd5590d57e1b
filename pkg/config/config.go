package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full process configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Log       LogConfig       `mapstructure:"log"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Slack     SlackConfig     `mapstructure:"slack"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Workflows WorkflowsConfig `mapstructure:"workflows"`
}

type ServerConfig struct {
	HTTPPort int `mapstructure:"http_port"`
	GRPCPort int `mapstructure:"grpc_port"`
}

type EngineConfig struct {
	Workers        int         `mapstructure:"workers"`
	StrictBranches bool        `mapstructure:"strict_branches"`
	Retry          RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Factor      float64       `mapstructure:"factor"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	MemoryTTL time.Duration `mapstructure:"memory_ttl"`
}

type StorageConfig struct {
	// Type is "local", "gcs" or empty to disable run archiving
	Type  string             `mapstructure:"type"`
	Local LocalStorageConfig `mapstructure:"local"`
	GCS   GCSStorageConfig   `mapstructure:"gcs"`
}

type LocalStorageConfig struct {
	Path string `mapstructure:"path"`
}

type GCSStorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type LLMConfig struct {
	Provider string        `mapstructure:"provider"`
	OpenAI   OpenAIConfig  `mapstructure:"openai"`
	Gemini   GeminiConfig  `mapstructure:"gemini"`
	Bedrock  BedrockConfig `mapstructure:"bedrock"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type BedrockConfig struct {
	Region  string `mapstructure:"region"`
	ModelID string `mapstructure:"model_id"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Protocol    string `mapstructure:"protocol"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

type GitHubConfig struct {
	Token string `mapstructure:"token"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

type QuotaConfig struct {
	DefaultLimit  int64   `mapstructure:"default_limit"`
	ReserveBuffer float64 `mapstructure:"reserve_buffer"`
}

type WorkflowsConfig struct {
	// Source is "dir" or "postgres"
	Source string `mapstructure:"source"`
	Dir    string `mapstructure:"dir"`
}

var (
	current *Config
	mu      sync.RWMutex
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)

	v.SetDefault("engine.workers", 16)
	v.SetDefault("engine.strict_branches", false)
	v.SetDefault("engine.retry.max_attempts", 3)
	v.SetDefault("engine.retry.base_delay", time.Second)
	v.SetDefault("engine.retry.factor", 2.0)
	v.SetDefault("engine.retry.max_delay", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.memory_ttl", time.Hour)

	v.SetDefault("storage.type", "")
	v.SetDefault("storage.local.path", "/tmp/workflow_runs")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.gemini.model", "gemini-2.0-flash")
	v.SetDefault("llm.bedrock.region", "us-east-1")
	v.SetDefault("llm.bedrock.model_id", "anthropic.claude-3-5-sonnet-20240620-v1:0")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.protocol", "grpc")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "workflow-engine")
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("quota.default_limit", 1_000_000)
	v.SetDefault("quota.reserve_buffer", 0.1)

	v.SetDefault("workflows.source", "dir")
	v.SetDefault("workflows.dir", "workflows")
}

// Load reads configuration from defaults, an optional YAML file and WORKFLOW_* environment variables
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WORKFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Engine.Workers <= 0 {
		return nil, fmt.Errorf("engine.workers must be positive, got %d", cfg.Engine.Workers)
	}

	mu.Lock()
	current = &cfg
	mu.Unlock()

	return &cfg, nil
}

// LoadFromEnv loads configuration without a config file
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// Get returns the last loaded configuration, loading from the environment on first use
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}

	cfg, err := LoadFromEnv()
	if err != nil {
		// Defaults alone always decode, so only an invalid env override lands here
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}
