package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the companion chat service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string
	LogFormat                string

	AllowAnyOrigin bool

	CharacterName string
	YourName      string
	PersonaDir    string

	ConversationLLMType string
	LLMMaxAttempts      int
	LLMRequestTimeout   time.Duration
	LLMMaxTokens        int

	ZhipuAIAPIKey  string
	ZhipuAIBaseURL string
	ZhipuAIModel   string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	TextGenerationAPIURL       string
	TextGenerationWebSocketURL string

	AnthropicAPIKey string
	AnthropicModel  string

	GeminiAPIKey         string
	GeminiModel          string
	GeminiEmbeddingModel string

	Memory MemoryConfig
}

// MemoryConfig controls the conversational memory store and its optional
// consolidation passes.
type MemoryConfig struct {
	Backend     string
	DatabaseURL string
	RedisURL    string
	SQLitePath  string

	LocalNum int

	EnableSummary  bool
	SummaryLLMType string

	EnableLongMemory bool
	LongTopK         int

	EnableReflection  bool
	ReflectionLLMType string
	ReflectEvery      int

	ConsolidateInline bool
	PassTimeout       time.Duration
	QueueSize         int

	RedactPII bool
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "aili"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("APP_LOG_FORMAT", "json"),
		AllowAnyOrigin:   false,

		CharacterName: envOrDefault("CHARACTER_NAME", "Aili"),
		YourName:      envOrDefault("YOUR_NAME", "user"),
		PersonaDir:    stringsTrimSpace("PERSONA_DIR"),

		ConversationLLMType: strings.ToLower(envOrDefault("CONVERSATION_LLM_TYPE", "zhipuai")),
		LLMMaxAttempts:      1,
		LLMRequestTimeout:   60 * time.Second,
		LLMMaxTokens:        1024,

		ZhipuAIAPIKey:  stringsTrimSpace("ZHIPUAI_API_KEY"),
		ZhipuAIBaseURL: envOrDefault("ZHIPUAI_BASE_URL", "https://open.bigmodel.cn/api/paas/v4"),
		ZhipuAIModel:   envOrDefault("ZHIPUAI_MODEL", "glm-4"),

		OpenAIAPIKey:  stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL: envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   envOrDefault("OPENAI_MODEL", "gpt-3.5-turbo"),

		TextGenerationAPIURL: stringsTrimSpace("TEXT_GENERATION_API_URL"),
		// Legacy text-generation-webui streaming endpoint.
		TextGenerationWebSocketURL: envOrDefault("TEXT_GENERATION_WEB_SOCKET_URL", "ws://127.0.0.1:5005/api/v1/stream"),

		AnthropicAPIKey: stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOrDefault("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),

		GeminiAPIKey:         stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:          envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiEmbeddingModel: envOrDefault("GEMINI_EMBEDDING_MODEL", "gemini-embedding-001"),

		Memory: MemoryConfig{
			Backend:           strings.ToLower(envOrDefault("MEMORY_BACKEND", "auto")),
			DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
			RedisURL:          stringsTrimSpace("REDIS_URL"),
			SQLitePath:        stringsTrimSpace("SQLITE_PATH"),
			LocalNum:          5,
			SummaryLLMType:    strings.ToLower(stringsTrimSpace("MEMORY_SUMMARY_LLM_TYPE")),
			LongTopK:          3,
			ReflectionLLMType: strings.ToLower(stringsTrimSpace("MEMORY_REFLECTION_LLM_TYPE")),
			ReflectEvery:      5,
			PassTimeout:       30 * time.Second,
			QueueSize:         64,
		},

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxAttempts, err = intFromEnv("LLM_MAX_ATTEMPTS", cfg.LLMMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMRequestTimeout, err = durationFromEnv("LLM_REQUEST_TIMEOUT", cfg.LLMRequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxTokens, err = intFromEnv("LLM_MAX_TOKENS", cfg.LLMMaxTokens)
	if err != nil {
		return Config{}, err
	}

	m := &cfg.Memory
	m.LocalNum, err = intFromEnv("MEMORY_LOCAL_NUM", m.LocalNum)
	if err != nil {
		return Config{}, err
	}
	m.EnableSummary, err = boolFromEnv("MEMORY_ENABLE_SUMMARY", false)
	if err != nil {
		return Config{}, err
	}
	m.EnableLongMemory, err = boolFromEnv("MEMORY_ENABLE_LONG_MEMORY", false)
	if err != nil {
		return Config{}, err
	}
	m.LongTopK, err = intFromEnv("MEMORY_LONG_TOP_K", m.LongTopK)
	if err != nil {
		return Config{}, err
	}
	m.EnableReflection, err = boolFromEnv("MEMORY_ENABLE_REFLECTION", false)
	if err != nil {
		return Config{}, err
	}
	m.ReflectEvery, err = intFromEnv("MEMORY_REFLECT_EVERY", m.ReflectEvery)
	if err != nil {
		return Config{}, err
	}
	m.ConsolidateInline, err = boolFromEnv("MEMORY_CONSOLIDATE_INLINE", false)
	if err != nil {
		return Config{}, err
	}
	m.PassTimeout, err = durationFromEnv("MEMORY_PASS_TIMEOUT", m.PassTimeout)
	if err != nil {
		return Config{}, err
	}
	m.QueueSize, err = intFromEnv("MEMORY_QUEUE_SIZE", m.QueueSize)
	if err != nil {
		return Config{}, err
	}
	m.RedactPII, err = boolFromEnv("MEMORY_REDACT_PII", false)
	if err != nil {
		return Config{}, err
	}

	// A pass without its own backend reuses the conversation backend.
	if m.SummaryLLMType == "" {
		m.SummaryLLMType = cfg.ConversationLLMType
	}
	if m.ReflectionLLMType == "" {
		m.ReflectionLLMType = cfg.ConversationLLMType
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if strings.TrimSpace(c.ConversationLLMType) == "" {
		return fmt.Errorf("CONVERSATION_LLM_TYPE must not be empty")
	}
	if c.LLMMaxAttempts <= 0 {
		return fmt.Errorf("LLM_MAX_ATTEMPTS must be positive")
	}
	if c.LLMRequestTimeout <= 0 {
		return fmt.Errorf("LLM_REQUEST_TIMEOUT must be positive")
	}
	if c.LLMMaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be positive")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}

	m := c.Memory
	if m.LocalNum <= 0 {
		return fmt.Errorf("MEMORY_LOCAL_NUM must be positive")
	}
	if m.LongTopK <= 0 {
		return fmt.Errorf("MEMORY_LONG_TOP_K must be positive")
	}
	if m.ReflectEvery <= 0 {
		return fmt.Errorf("MEMORY_REFLECT_EVERY must be positive")
	}
	if m.PassTimeout <= 0 {
		return fmt.Errorf("MEMORY_PASS_TIMEOUT must be positive")
	}
	if m.QueueSize <= 0 {
		return fmt.Errorf("MEMORY_QUEUE_SIZE must be positive")
	}
	switch m.Backend {
	case "auto", "memory":
	case "postgres":
		if m.DatabaseURL == "" {
			return fmt.Errorf("MEMORY_BACKEND=postgres requires DATABASE_URL")
		}
	case "redis":
		if m.RedisURL == "" {
			return fmt.Errorf("MEMORY_BACKEND=redis requires REDIS_URL")
		}
	case "sqlite":
		if m.SQLitePath == "" {
			return fmt.Errorf("MEMORY_BACKEND=sqlite requires SQLITE_PATH")
		}
	default:
		return fmt.Errorf("invalid MEMORY_BACKEND: %q (expected auto|memory|postgres|redis|sqlite)", m.Backend)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
