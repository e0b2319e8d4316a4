package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the agent service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Recovery  RecoveryConfig  `mapstructure:"recovery"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Streams   StreamsConfig   `mapstructure:"streams"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LLMConfig configures the OpenAI-compatible backend and tier routing.
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"`
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	LightModel      string        `mapstructure:"light_model"`
	HeavyModel      string        `mapstructure:"heavy_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	LengthThreshold int           `mapstructure:"length_threshold"`
}

// Enabled reports whether a model backend is configured.
func (c LLMConfig) Enabled() bool {
	return c.Provider != "none" && (strings.TrimSpace(c.APIKey) != "" || strings.TrimSpace(c.BaseURL) != "")
}

func (c LLMConfig) Validate() error {
	switch c.Provider {
	case "openai", "none":
	default:
		return fmt.Errorf("llm.provider must be openai or none, got %q", c.Provider)
	}
	if c.Enabled() && (c.LightModel == "" || c.HeavyModel == "") {
		return fmt.Errorf("llm.light_model and llm.heavy_model are required")
	}
	if c.LengthThreshold < 0 {
		return fmt.Errorf("llm.length_threshold cannot be negative")
	}
	return nil
}

// AgentConfig bounds task execution.
type AgentConfig struct {
	MaxSteps           int           `mapstructure:"max_steps"`
	MaxSubTasks        int           `mapstructure:"max_sub_tasks"`
	MaxTokens          int64         `mapstructure:"max_tokens"`
	TaskTimeout        time.Duration `mapstructure:"task_timeout"`
	ToolTimeout        time.Duration `mapstructure:"tool_timeout"`
	MinCredibility     float64       `mapstructure:"min_credibility"`
	SearchLimit        int           `mapstructure:"search_limit"`
	EventBuffer        int           `mapstructure:"event_buffer"`
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks"`
	DefaultPlatforms   []string      `mapstructure:"default_platforms"`
}

func (c AgentConfig) Validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be > 0")
	}
	if c.MaxSubTasks <= 0 {
		return fmt.Errorf("agent.max_sub_tasks must be > 0")
	}
	if c.MaxTokens < 0 || c.TaskTimeout < 0 || c.ToolTimeout < 0 {
		return fmt.Errorf("agent budgets cannot be negative")
	}
	if c.MinCredibility < 0 || c.MinCredibility > 1 {
		return fmt.Errorf("agent.min_credibility must be between 0 and 1")
	}
	return nil
}

// RecoveryConfig sets retry backoff bounds.
type RecoveryConfig struct {
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
}

func (c RecoveryConfig) Validate() error {
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("recovery delays cannot be negative")
	}
	if c.MaxDelay > 0 && c.BaseDelay > c.MaxDelay {
		return fmt.Errorf("recovery.base_delay must not exceed recovery.max_delay")
	}
	return nil
}

// FetchConfig configures the fetch_detail capability.
type FetchConfig struct {
	Mode      string            `mapstructure:"mode"`
	MaxChars  int               `mapstructure:"max_chars"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	UserAgent string            `mapstructure:"user_agent"`
	Policy    FetchPolicyConfig `mapstructure:"policy"`
}

func (c FetchConfig) Validate() error {
	switch c.Mode {
	case "http", "chromedp":
	default:
		return fmt.Errorf("fetch.mode must be http or chromedp, got %q", c.Mode)
	}
	return c.Policy.Validate()
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether Redis-backed collaborators should be used.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether tasks are persisted to Postgres.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

// DSN returns URL when set, otherwise a URL assembled from the parts.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + port,
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + ssl,
	}
	return u.String()
}

func (p PostgresConfig) Validate() error {
	if !p.Enabled() || strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// KnowledgeConfig locates the long-term index. An empty path keeps it in memory.
type KnowledgeConfig struct {
	IndexPath string `mapstructure:"index_path"`
}

// StreamsConfig controls mirroring task events to Redis Streams.
type StreamsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream"`
	MaxLen  int64  `mapstructure:"max_len"`
}

// SchedulerConfig lists recurring monitor commands.
type SchedulerConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	Interval time.Duration   `mapstructure:"interval"`
	Monitors []MonitorConfig `mapstructure:"monitors"`
}

// MonitorConfig is one scheduled command.
type MonitorConfig struct {
	Name      string        `mapstructure:"name"`
	Command   string        `mapstructure:"command"`
	Cron      string        `mapstructure:"cron"`
	Platforms []string      `mapstructure:"platforms"`
	MaxSteps  int           `mapstructure:"max_steps"`
	Lookback  time.Duration `mapstructure:"lookback"`
}

// TelemetryConfig contains tracing and metrics export settings
type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (t TelemetryConfig) Validate() error {
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.light_model", "gpt-4o-mini")
	v.SetDefault("llm.heavy_model", "gpt-4o")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.length_threshold", 5000)

	v.SetDefault("agent.max_steps", 15)
	v.SetDefault("agent.max_sub_tasks", 5)
	v.SetDefault("agent.max_tokens", 0)
	v.SetDefault("agent.task_timeout", 10*time.Minute)
	v.SetDefault("agent.tool_timeout", 30*time.Second)
	v.SetDefault("agent.min_credibility", 0.4)
	v.SetDefault("agent.search_limit", 20)
	v.SetDefault("agent.event_buffer", 64)
	v.SetDefault("agent.max_concurrent_tasks", 8)
	v.SetDefault("agent.default_platforms", []string{"zhihu", "wechat", "news"})

	v.SetDefault("recovery.base_delay", time.Second)
	v.SetDefault("recovery.max_delay", 30*time.Second)

	v.SetDefault("sources.engine", "serper")
	v.SetDefault("sources.serper.api_key", "")
	v.SetDefault("sources.serper.endpoint", "")
	v.SetDefault("sources.brave.api_key", "")
	v.SetDefault("sources.brave.endpoint", "")
	v.SetDefault("sources.newsapi.api_key", "")
	v.SetDefault("sources.newsapi.endpoint", "")
	v.SetDefault("sources.default_rate", 1.0)
	v.SetDefault("sources.burst", 1)
	v.SetDefault("sources.http_timeout", 20*time.Second)

	v.SetDefault("fetch.mode", "http")
	v.SetDefault("fetch.max_chars", 20000)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.user_agent", "")

	v.SetDefault("storage.redis.host", "")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "")
	v.SetDefault("storage.postgres.sslmode", "disable")

	v.SetDefault("knowledge.index_path", "")
	v.SetDefault("streams.enabled", false)
	v.SetDefault("streams.stream", "sentinel:agent:events")
	v.SetDefault("streams.max_len", 10000)
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", 30*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "sentinel")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// LoadConfig reads path, or config.{json,yaml} from the usual locations when
// path is empty, then overlays SENTINEL_* environment variables. A missing
// config file is not an error; defaults and environment still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize tidies values that are easy to get slightly wrong in files.
func (c *Config) Normalize() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Fetch.Mode = strings.ToLower(strings.TrimSpace(c.Fetch.Mode))
	c.Agent.DefaultPlatforms = lowerList(c.Agent.DefaultPlatforms)
	c.Sources = c.Sources.Normalize()
	c.Fetch.Policy = c.Fetch.Policy.Normalize()
	for i := range c.Scheduler.Monitors {
		c.Scheduler.Monitors[i].Platforms = lowerList(c.Scheduler.Monitors[i].Platforms)
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		c.LLM, c.Agent, c.Recovery, c.Sources, c.Fetch,
		c.Storage.Redis, c.Storage.Postgres, c.Telemetry,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if c.Streams.Enabled && !c.Storage.Redis.Enabled() {
		return fmt.Errorf("streams.enabled requires storage.redis.host")
	}
	for i, m := range c.Scheduler.Monitors {
		if strings.TrimSpace(m.Command) == "" || strings.TrimSpace(m.Cron) == "" {
			return fmt.Errorf("scheduler.monitors[%d] needs command and cron", i)
		}
	}
	return nil
}

func lowerList(values []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
