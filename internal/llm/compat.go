package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CompatClient talks to an OpenAI-compatible chat-completions endpoint. Both
// ZhipuAI (v4 API) and OpenAI speak this dialect.
type CompatClient struct {
	backend   BackendType
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

// CompatConfig configures a CompatClient.
type CompatConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

func newCompatClient(t BackendType, cfg CompatConfig) *CompatClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CompatClient{
		backend:   t,
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		model:     strings.TrimSpace(cfg.Model),
		maxTokens: cfg.MaxTokens,
		client:    &http.Client{Timeout: timeout},
	}
}

// NewZhipuAI returns the ZhipuAI GLM adapter.
func NewZhipuAI(cfg CompatConfig) *CompatClient {
	if cfg.Model == "" {
		cfg.Model = "glm-4"
	}
	return newCompatClient(BackendZhipuAI, cfg)
}

// NewOpenAI returns the OpenAI chat-completions adapter.
func NewOpenAI(cfg CompatConfig) *CompatClient {
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	return newCompatClient(BackendOpenAI, cfg)
}

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type compatRequest struct {
	Model     string          `json:"model"`
	Messages  []compatMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Stream    bool            `json:"stream,omitempty"`
}

type compatError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

type compatResponse struct {
	Choices []struct {
		Message compatMessage `json:"message"`
	} `json:"choices"`
	Error *compatError `json:"error,omitempty"`
}

type compatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *compatError `json:"error,omitempty"`
}

func (c *CompatClient) Chat(ctx context.Context, req *ChatRequest) (string, error) {
	res, err := c.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	var out compatResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", c.fail("chat", 0, fmt.Errorf("decode response: %w", err))
	}
	if out.Error != nil {
		return "", c.fail("chat", 0, errors.New(out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return "", c.fail("chat", 0, errEmptyChoices)
	}
	return out.Choices[0].Message.Content, nil
}

func (c *CompatClient) ChatStream(ctx context.Context, req *ChatRequest) <-chan StreamEvent {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)

		res, err := c.post(ctx, req, true)
		if err != nil {
			send(ctx, out, StreamEvent{Err: err})
			return
		}
		defer res.Body.Close()

		if err := c.consumeSSE(ctx, res.Body, out); err != nil {
			send(ctx, out, StreamEvent{Err: err})
		}
	}()
	return out
}

// consumeSSE forwards choices[0].delta.content of every data line until the
// [DONE] sentinel or the end of the body.
func (c *CompatClient) consumeSSE(ctx context.Context, body io.Reader, out chan<- StreamEvent) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return nil
		}

		var chunk compatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return c.fail("stream", 0, fmt.Errorf("decode chunk: %w", err))
		}
		if chunk.Error != nil {
			return c.fail("stream", 0, errors.New(chunk.Error.Message))
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if !send(ctx, out, StreamEvent{Delta: choice.Delta.Content}) {
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return c.fail("stream", 0, fmt.Errorf("stream read: %w", err))
	}
	return nil
}

func (c *CompatClient) post(ctx context.Context, req *ChatRequest, stream bool) (*http.Response, error) {
	op := "chat"
	if stream {
		op = "stream"
	}
	if c.apiKey == "" {
		return nil, &ConfigurationError{Key: string(c.backend), Reason: "missing api key"}
	}

	payload, err := json.Marshal(compatRequest{
		Model: c.model,
		Messages: []compatMessage{
			{Role: "system", Content: req.Prompt},
			{Role: "user", Content: req.Query},
		},
		MaxTokens: c.maxTokens,
		Stream:    stream,
	})
	if err != nil {
		return nil, c.fail(op, 0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, c.fail(op, 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.fail(op, 0, fmt.Errorf("send request: %w", err))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		return nil, c.fail(op, res.StatusCode, errors.New(strings.TrimSpace(string(body))))
	}
	return res, nil
}

func (c *CompatClient) fail(op string, status int, err error) error {
	return &GenerationError{Backend: c.backend, Op: op, StatusCode: status, Err: err}
}
