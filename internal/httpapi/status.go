package httpapi

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	ConversationBackend string        `json:"conversation_backend"`
	Backends            []string      `json:"backends"`
	MemoryBackend       string        `json:"memory_backend"`
	Personas            []string      `json:"personas"`
	Checks              []statusCheck `json:"checks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		ConversationBackend: s.cfg.ConversationLLMType,
		Backends:            s.info.Backends,
		MemoryBackend:       s.info.MemoryBackend,
		Personas:            s.info.Personas,
		Checks:              s.statusChecks(),
	})
}

func (s *Server) statusChecks() []statusCheck {
	checks := make([]statusCheck, 0, 8)
	checks = append(checks, s.backendCheck("conversation_backend", "Conversation backend", s.cfg.ConversationLLMType))

	m := s.cfg.Memory
	if m.EnableSummary {
		checks = append(checks, s.backendCheck("summary_backend", "Summary pass backend", m.SummaryLLMType))
	}
	if m.EnableReflection {
		checks = append(checks, s.backendCheck("reflection_backend", "Reflection pass backend", m.ReflectionLLMType))
	}

	switch s.info.MemoryBackend {
	case "memory", "":
		checks = append(checks, statusCheck{
			ID:     "memory_store",
			Status: "warn",
			Label:  "Memory persistence",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL, REDIS_URL or SQLITE_PATH to keep history across restarts.",
		})
	default:
		checks = append(checks, statusCheck{
			ID:     "memory_store",
			Status: "ok",
			Label:  "Memory persistence",
			Detail: s.info.MemoryBackend,
		})
	}

	if m.EnableLongMemory {
		detail := fmt.Sprintf("top %d related turns", m.LongTopK)
		embedder := "hash embedder"
		if s.cfg.GeminiAPIKey != "" {
			embedder = s.cfg.GeminiEmbeddingModel
		}
		checks = append(checks, statusCheck{
			ID:     "long_memory",
			Status: "ok",
			Label:  "Long-term recall",
			Detail: detail + " via " + embedder,
		})
	}

	if slices.Contains(s.info.Personas, s.cfg.CharacterName) {
		checks = append(checks, statusCheck{
			ID:     "default_persona",
			Status: "ok",
			Label:  "Default persona",
			Detail: s.cfg.CharacterName,
		})
	} else {
		checks = append(checks, statusCheck{
			ID:     "default_persona",
			Status: "error",
			Label:  "Default persona",
			Detail: fmt.Sprintf("%q is not in the persona catalog", s.cfg.CharacterName),
			Fix:    "Set CHARACTER_NAME to one of: " + strings.Join(s.info.Personas, ", "),
		})
	}
	return checks
}

func (s *Server) backendCheck(id, label, backend string) statusCheck {
	if slices.Contains(s.info.Backends, backend) {
		return statusCheck{ID: id, Status: "ok", Label: label, Detail: backend}
	}
	return statusCheck{
		ID:     id,
		Status: "error",
		Label:  label,
		Detail: backend + " is not registered",
		Fix:    fix(backend),
	}
}

func fix(backend string) string {
	switch backend {
	case "zhipuai":
		return "Set ZHIPUAI_API_KEY."
	case "openai":
		return "Set OPENAI_API_KEY."
	case "text_generation":
		return "Set TEXT_GENERATION_API_URL."
	case "anthropic":
		return "Set ANTHROPIC_API_KEY."
	case "gemini":
		return "Set GEMINI_API_KEY."
	default:
		return "Choose a supported backend type."
	}
}
