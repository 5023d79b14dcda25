package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic adapts the Claude Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// AnthropicConfig holds the credentials and limits for NewAnthropic.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// The driver owns the retry policy.
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (a *Anthropic) params(req *ChatRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Query)),
		},
	}
	if req.Prompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Prompt}}
	}
	return params
}

func (a *Anthropic) Chat(ctx context.Context, req *ChatRequest) (string, error) {
	msg, err := a.client.Messages.New(ctx, a.params(req))
	if err != nil {
		return "", a.fail("chat", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func (a *Anthropic) ChatStream(ctx context.Context, req *ChatRequest) <-chan StreamEvent {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)

		stream := a.client.Messages.NewStreaming(ctx, a.params(req))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
					if !send(ctx, out, StreamEvent{Delta: delta.Text}) {
						return
					}
				}
			case anthropic.MessageStopEvent:
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, out, StreamEvent{Err: a.fail("stream", err)})
		}
	}()
	return out
}

func (a *Anthropic) fail(op string, err error) error {
	gen := &GenerationError{Backend: BackendAnthropic, Op: op, Err: err}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		gen.StatusCode = apiErr.StatusCode
	}
	return gen
}
