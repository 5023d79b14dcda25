// Package llm routes persona chat requests to interchangeable language-model
// backends. Every backend answers the same two-role request (system persona
// prompt + user query) either in one piece or as an incremental stream.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// BackendType selects the backend that handles a request.
type BackendType string

const (
	BackendZhipuAI        BackendType = "zhipuai"
	BackendOpenAI         BackendType = "openai"
	BackendTextGeneration BackendType = "text_generation"
	BackendAnthropic      BackendType = "anthropic"
	BackendGemini         BackendType = "gemini"
	BackendMock           BackendType = "mock"
)

// BackendTypes lists every supported backend in dispatch-table order.
func BackendTypes() []BackendType {
	return []BackendType{
		BackendZhipuAI,
		BackendOpenAI,
		BackendTextGeneration,
		BackendAnthropic,
		BackendGemini,
		BackendMock,
	}
}

// Known reports whether t is one of the supported backend types.
func (t BackendType) Known() bool {
	for _, k := range BackendTypes() {
		if t == k {
			return true
		}
	}
	return false
}

// ParseBackendType normalizes a configured backend key.
func ParseBackendType(raw string) (BackendType, error) {
	t := BackendType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Known() {
		return "", &ConfigurationError{Key: raw, Reason: "unsupported backend type"}
	}
	return t, nil
}

// ChatRequest is the provider-agnostic request. It is built once per turn and
// shared read-only down the call chain.
type ChatRequest struct {
	// Prompt is the persona prompt with history already interpolated.
	Prompt   string `json:"prompt"`
	RoleName string `json:"role_name"`
	YouName  string `json:"you_name"`
	Query    string `json:"query"`

	ShortHistory []string `json:"short_history,omitempty"`
	LongHistory  string   `json:"long_history,omitempty"`
}

// StreamEvent is one element of a backend stream. An event carrying Err is
// the last one sent.
type StreamEvent struct {
	Delta string
	Err   error
}

// Backend is the contract every model provider adapter satisfies.
//
// ChatStream starts generation and returns a channel that is closed when the
// provider stream ends. Producers must stop sending once ctx is done.
type Backend interface {
	Chat(ctx context.Context, req *ChatRequest) (string, error)
	ChatStream(ctx context.Context, req *ChatRequest) <-chan StreamEvent
}

// TokenHandler receives each forwarded stream fragment. isFinal is always
// false for token deliveries; completion is signalled by CompletionHandler.
type TokenHandler func(roleName, youName, token string, isFinal bool) error

// CompletionHandler receives the sanitized answer once a stream succeeds.
type CompletionHandler func(roleName, answer, youName, query string) error

func (t BackendType) String() string { return string(t) }

func describe(t BackendType, op string) string {
	return fmt.Sprintf("%s %s", t, op)
}
