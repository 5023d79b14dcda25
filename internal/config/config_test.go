package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ConversationLLMType != "zhipuai" {
		t.Fatalf("ConversationLLMType = %q, want %q", cfg.ConversationLLMType, "zhipuai")
	}
	if cfg.Memory.LocalNum != 5 {
		t.Fatalf("Memory.LocalNum = %d, want 5", cfg.Memory.LocalNum)
	}
	if cfg.Memory.Backend != "auto" {
		t.Fatalf("Memory.Backend = %q, want auto", cfg.Memory.Backend)
	}
	if cfg.Memory.SummaryLLMType != "zhipuai" || cfg.Memory.ReflectionLLMType != "zhipuai" {
		t.Fatalf("pass backends = %q/%q, want conversation backend", cfg.Memory.SummaryLLMType, cfg.Memory.ReflectionLLMType)
	}
	if cfg.TextGenerationWebSocketURL != "ws://127.0.0.1:5005/api/v1/stream" {
		t.Fatalf("TextGenerationWebSocketURL = %q", cfg.TextGenerationWebSocketURL)
	}
	if cfg.LLMMaxAttempts != 1 {
		t.Fatalf("LLMMaxAttempts = %d, want 1", cfg.LLMMaxAttempts)
	}
}

func TestLoadMemoryFlags(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CONVERSATION_LLM_TYPE", "OpenAI")
	t.Setenv("MEMORY_ENABLE_SUMMARY", "true")
	t.Setenv("MEMORY_SUMMARY_LLM_TYPE", "zhipuai")
	t.Setenv("MEMORY_ENABLE_REFLECTION", "yes")
	t.Setenv("MEMORY_ENABLE_LONG_MEMORY", "1")
	t.Setenv("MEMORY_PASS_TIMEOUT", "5s")
	t.Setenv("MEMORY_LOCAL_NUM", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	m := cfg.Memory
	if !m.EnableSummary || !m.EnableReflection || !m.EnableLongMemory {
		t.Fatalf("flags = %+v, want all enabled", m)
	}
	if cfg.ConversationLLMType != "openai" {
		t.Fatalf("ConversationLLMType = %q, want lower-cased openai", cfg.ConversationLLMType)
	}
	if m.SummaryLLMType != "zhipuai" {
		t.Fatalf("SummaryLLMType = %q, want zhipuai", m.SummaryLLMType)
	}
	if m.ReflectionLLMType != "openai" {
		t.Fatalf("ReflectionLLMType = %q, want conversation fallback", m.ReflectionLLMType)
	}
	if m.PassTimeout != 5*time.Second {
		t.Fatalf("PassTimeout = %s, want 5s", m.PassTimeout)
	}
	if m.LocalNum != 8 {
		t.Fatalf("LocalNum = %d, want 8", m.LocalNum)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"MEMORY_LOCAL_NUM":               "0",
		"MEMORY_ENABLE_SUMMARY":          "maybe",
		"LLM_MAX_ATTEMPTS":               "-1",
		"MEMORY_BACKEND":                 "cassandra",
		"APP_LOG_FORMAT":                 "xml",
		"LLM_REQUEST_TIMEOUT":            "soon",
		"MEMORY_REFLECT_EVERY":           "0",
		"APP_SESSION_INACTIVITY_TIMEOUT": "1s",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q expected error", key, value)
			}
		})
	}
}

func TestLoadRequiresURLForExplicitBackend(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MEMORY_BACKEND", "postgres")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/aili")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Memory.DatabaseURL != "postgres://localhost/aili" {
		t.Fatalf("DatabaseURL = %q", cfg.Memory.DatabaseURL)
	}
}

func TestLoadDotEnvMissingFileIsIgnored(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
}

func TestLoadDotEnvDoesNotOverrideExisting(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CHARACTER_NAME", "Kiki")

	path := filepath.Join(t.TempDir(), "test.env")
	content := "CHARACTER_NAME=Aili\nAILI_DOTENV_PROBE=loaded\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("AILI_DOTENV_PROBE") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("AILI_DOTENV_PROBE"); got != "loaded" {
		t.Fatalf("AILI_DOTENV_PROBE = %q, want loaded", got)
	}
	if got := os.Getenv("CHARACTER_NAME"); got != "Kiki" {
		t.Fatalf("CHARACTER_NAME = %q, want existing value kept", got)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"APP_ALLOW_ANY_ORIGIN",
		"CHARACTER_NAME",
		"YOUR_NAME",
		"PERSONA_DIR",
		"CONVERSATION_LLM_TYPE",
		"LLM_MAX_ATTEMPTS",
		"LLM_REQUEST_TIMEOUT",
		"LLM_MAX_TOKENS",
		"ZHIPUAI_API_KEY",
		"ZHIPUAI_BASE_URL",
		"ZHIPUAI_MODEL",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_MODEL",
		"TEXT_GENERATION_API_URL",
		"TEXT_GENERATION_WEB_SOCKET_URL",
		"ANTHROPIC_API_KEY",
		"ANTHROPIC_MODEL",
		"GEMINI_API_KEY",
		"GEMINI_MODEL",
		"GEMINI_EMBEDDING_MODEL",
		"MEMORY_BACKEND",
		"DATABASE_URL",
		"REDIS_URL",
		"SQLITE_PATH",
		"MEMORY_LOCAL_NUM",
		"MEMORY_ENABLE_SUMMARY",
		"MEMORY_SUMMARY_LLM_TYPE",
		"MEMORY_ENABLE_LONG_MEMORY",
		"MEMORY_LONG_TOP_K",
		"MEMORY_ENABLE_REFLECTION",
		"MEMORY_REFLECTION_LLM_TYPE",
		"MEMORY_REFLECT_EVERY",
		"MEMORY_CONSOLIDATE_INLINE",
		"MEMORY_PASS_TIMEOUT",
		"MEMORY_QUEUE_SIZE",
		"MEMORY_REDACT_PII",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
