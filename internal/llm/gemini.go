package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Gemini adapts the Google Gen AI models API.
type Gemini struct {
	client    *genai.Client
	model     string
	maxTokens int32
	timeout   time.Duration
}

// GeminiConfig holds the credentials and limits for NewGemini. APIKey is
// required.
type GeminiConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConfigurationError{Key: "GEMINI_API_KEY", Reason: "missing api key"}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Gemini{
		client:    client,
		model:     model,
		maxTokens: int32(cfg.MaxTokens),
		timeout:   cfg.Timeout,
	}, nil
}

func (g *Gemini) config(req *ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: g.maxTokens}
	if req.Prompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.Prompt, genai.RoleUser)
	}
	return cfg
}

func (g *Gemini) contents(req *ChatRequest) []*genai.Content {
	return []*genai.Content{genai.NewContentFromText(req.Query, genai.RoleUser)}
}

func (g *Gemini) Chat(ctx context.Context, req *ChatRequest) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, g.contents(req), g.config(req))
	if err != nil {
		return "", g.fail("chat", err)
	}
	if len(resp.Candidates) == 0 {
		return "", g.fail("chat", errEmptyChoices)
	}
	return resp.Text(), nil
}

func (g *Gemini) ChatStream(ctx context.Context, req *ChatRequest) <-chan StreamEvent {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, g.contents(req), g.config(req)) {
			if err != nil {
				send(ctx, out, StreamEvent{Err: g.fail("stream", err)})
				return
			}
			if !send(ctx, out, StreamEvent{Delta: resp.Text()}) {
				return
			}
		}
	}()
	return out
}

func (g *Gemini) fail(op string, err error) error {
	gen := &GenerationError{Backend: BackendGemini, Op: op, Err: err}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		gen.StatusCode = apiErr.Code
	}
	return gen
}
