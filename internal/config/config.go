package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"port"`
	APIKey         string   `mapstructure:"api_key"`
	SessionSecret  string   `mapstructure:"session_secret"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes"`
	LogLevel       string   `mapstructure:"log_level"`

	LLM      LLMConfig      `mapstructure:"llm"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Session  SessionConfig  `mapstructure:"session"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
}

// LLMConfig selects the inference backend.
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"`
	Model          string        `mapstructure:"model"`
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	MaxPromptChars int           `mapstructure:"max_prompt_chars"`
	MaxRetries     int           `mapstructure:"max_retries"`
	StatsWindow    time.Duration `mapstructure:"stats_window"`
}

type PipelineConfig struct {
	SummaryMaxTokens int      `mapstructure:"summary_max_tokens"`
	QuizMaxTokens    int      `mapstructure:"quiz_max_tokens"`
	JudgeMaxTokens   int      `mapstructure:"judge_max_tokens"`
	QuizSize         int      `mapstructure:"quiz_size"`
	MaxAttempts      int      `mapstructure:"max_attempts"` // 0 re-asks until correct.
	HeadingMarkers   []string `mapstructure:"heading_markers"`
	ChunkSize        int      `mapstructure:"chunk_size"`
}

type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type TelegramConfig struct {
	Token       string `mapstructure:"token"`
	PollTimeout int    `mapstructure:"poll_timeout"`
	Debug       bool   `mapstructure:"debug"`
}

// ArchiveConfig enables the event archive when Driver is set.
type ArchiveConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// GatewayConfig configures the standalone /generate endpoint.
type GatewayConfig struct {
	Port     string `mapstructure:"port"`
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	URL      string `mapstructure:"url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8090")
	v.SetDefault("api_key", "")
	v.SetDefault("session_secret", "")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("max_upload_bytes", int64(20<<20))
	v.SetDefault("log_level", "info")

	v.SetDefault("llm.provider", "generate")
	v.SetDefault("llm.model", "") // provider default
	v.SetDefault("llm.url", "http://localhost:8000/generate")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.max_concurrent", 4)
	v.SetDefault("llm.max_prompt_chars", 0)
	v.SetDefault("llm.max_retries", 0) // one backend call per unit
	v.SetDefault("llm.stats_window", time.Hour)

	v.SetDefault("pipeline.summary_max_tokens", 4000)
	v.SetDefault("pipeline.quiz_max_tokens", 2000)
	v.SetDefault("pipeline.judge_max_tokens", 1000)
	v.SetDefault("pipeline.quiz_size", 5)
	v.SetDefault("pipeline.max_attempts", 0)
	v.SetDefault("pipeline.heading_markers", []string{"Chapter", "Глава"})
	v.SetDefault("pipeline.chunk_size", 4096)

	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.cleanup_interval", 5*time.Minute)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.poll_timeout", 60)
	v.SetDefault("telegram.debug", false)

	v.SetDefault("archive.driver", "")
	v.SetDefault("archive.dsn", "")

	v.SetDefault("gateway.port", "8000")
	v.SetDefault("gateway.provider", "ollama")
	v.SetDefault("gateway.model", "deepseek-r1:14b")
	v.SetDefault("gateway.url", "http://localhost:11434")
}

// Load reads defaults, then the optional config file at path, then the
// environment. Nested keys map to env names with "_" (llm.url -> LLM_URL).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate checks what every command needs.
func (c Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "generate":
		if c.LLM.URL == "" {
			return fmt.Errorf("LLM_URL is required for the generate provider")
		}
	case "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required for the anthropic provider")
		}
	case "openai":
		if c.LLM.APIKey == "" && c.LLM.URL == "" {
			return fmt.Errorf("LLM_API_KEY or LLM_URL is required for the openai provider")
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must not be negative")
	}
	if c.Pipeline.QuizSize <= 0 {
		return fmt.Errorf("PIPELINE_QUIZ_SIZE must be positive")
	}
	if c.Pipeline.MaxAttempts < 0 {
		return fmt.Errorf("PIPELINE_MAX_ATTEMPTS must not be negative")
	}
	if len(c.Pipeline.HeadingMarkers) == 0 {
		return fmt.Errorf("PIPELINE_HEADING_MARKERS must list at least one marker")
	}
	switch c.Archive.Driver {
	case "", "sqlite", "sqlite3", "postgres", "pgx":
	default:
		return fmt.Errorf("unsupported ARCHIVE_DRIVER %q", c.Archive.Driver)
	}
	return nil
}

// ValidateServer adds the HTTP server requirements.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// ValidateTelegram adds the bot requirements.
func (c Config) ValidateTelegram() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Telegram.Token == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	return nil
}
