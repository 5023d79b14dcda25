package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// TextGeneration adapts a text-generation-webui server through its legacy
// API: blocking calls go to POST /api/v1/generate and streams to the
// websocket endpoint.
type TextGeneration struct {
	apiURL    string
	wsURL     string
	maxTokens int
	client    *http.Client
	dialer    *websocket.Dialer
}

// TextGenerationConfig locates the server. Timeout defaults to 60s.
type TextGenerationConfig struct {
	APIURL       string
	WebSocketURL string
	MaxTokens    int
	Timeout      time.Duration
}

func NewTextGeneration(cfg TextGenerationConfig) *TextGeneration {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TextGeneration{
		apiURL:    strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		wsURL:     strings.TrimSpace(cfg.WebSocketURL),
		maxTokens: cfg.MaxTokens,
		client:    &http.Client{Timeout: timeout},
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type textGenRequest struct {
	Prompt          string   `json:"prompt"`
	MaxNewTokens    int      `json:"max_new_tokens,omitempty"`
	StoppingStrings []string `json:"stopping_strings,omitempty"`
}

type textGenResponse struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}

type textGenStreamEvent struct {
	Event      string `json:"event"`
	Text       string `json:"text"`
	MessageNum int    `json:"message_num"`
}

// composePrompt flattens the two-role request into the single completion
// prompt the webui expects, ending on the role label so the model answers
// in character.
func (g *TextGeneration) composePrompt(req *ChatRequest) textGenRequest {
	var b strings.Builder
	b.WriteString(req.Prompt)
	b.WriteString("\n")
	b.WriteString(req.YouName)
	b.WriteString(": ")
	b.WriteString(req.Query)
	b.WriteString("\n")
	b.WriteString(req.RoleName)
	b.WriteString(":")

	var stops []string
	if req.YouName != "" {
		stops = []string{"\n" + req.YouName + ":"}
	}
	return textGenRequest{Prompt: b.String(), MaxNewTokens: g.maxTokens, StoppingStrings: stops}
}

func (g *TextGeneration) Chat(ctx context.Context, req *ChatRequest) (string, error) {
	if g.apiURL == "" {
		return "", &ConfigurationError{Key: "TEXT_GENERATION_API_URL", Reason: "missing url"}
	}
	payload, err := json.Marshal(g.composePrompt(req))
	if err != nil {
		return "", g.fail("chat", 0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+"/api/v1/generate", bytes.NewReader(payload))
	if err != nil {
		return "", g.fail("chat", 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(httpReq)
	if err != nil {
		return "", g.fail("chat", 0, fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", g.fail("chat", res.StatusCode, errors.New(strings.TrimSpace(string(body))))
	}

	var out textGenResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", g.fail("chat", 0, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Results) == 0 {
		return "", g.fail("chat", 0, errEmptyChoices)
	}
	return out.Results[0].Text, nil
}

func (g *TextGeneration) ChatStream(ctx context.Context, req *ChatRequest) <-chan StreamEvent {
	if g.wsURL == "" {
		return errStream(&ConfigurationError{Key: "TEXT_GENERATION_WEB_SOCKET_URL", Reason: "missing url"})
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)

		conn, res, err := g.dialer.DialContext(ctx, g.wsURL, nil)
		if err != nil {
			status := 0
			if res != nil {
				status = res.StatusCode
			}
			send(ctx, out, StreamEvent{Err: g.fail("stream", status, fmt.Errorf("dial: %w", err))})
			return
		}
		defer conn.Close()

		// Unblock ReadJSON when the consumer goes away.
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		if err := conn.WriteJSON(g.composePrompt(req)); err != nil {
			send(ctx, out, StreamEvent{Err: g.fail("stream", 0, fmt.Errorf("write request: %w", err))})
			return
		}

		for {
			var ev textGenStreamEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() != nil {
					return
				}
				send(ctx, out, StreamEvent{Err: g.fail("stream", 0, fmt.Errorf("read event: %w", err))})
				return
			}
			switch ev.Event {
			case "text_stream":
				if !send(ctx, out, StreamEvent{Delta: ev.Text}) {
					return
				}
			case "stream_end":
				return
			}
		}
	}()
	return out
}

func (g *TextGeneration) fail(op string, status int, err error) error {
	return &GenerationError{Backend: BackendTextGeneration, Op: op, StatusCode: status, Err: err}
}
