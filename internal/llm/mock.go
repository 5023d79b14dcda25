package llm

import (
	"context"
	"fmt"
	"strings"
)

// Mock returns deterministic local replies. It needs no credentials and is
// always registered, which makes it the backend of choice for development
// and tests.
type Mock struct {
	// ChunkRunes is the stream fragment size in runes.
	ChunkRunes int
}

func NewMock() *Mock { return &Mock{ChunkRunes: 4} }

func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return buildMockReply(req), nil
}

func (m *Mock) ChatStream(ctx context.Context, req *ChatRequest) <-chan StreamEvent {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		for _, chunk := range splitRunes(buildMockReply(req), m.ChunkRunes) {
			if !send(ctx, out, StreamEvent{Delta: chunk}) {
				return
			}
		}
	}()
	return out
}

func buildMockReply(req *ChatRequest) string {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = "……"
	}
	reply := fmt.Sprintf("我听到你说：%s", query)
	if n := len(req.ShortHistory); n > 0 {
		if last := strings.TrimSpace(req.ShortHistory[n-1]); last != "" {
			reply += fmt.Sprintf("\n我还记得：%s", last)
		}
	}
	return reply
}

func splitRunes(s string, size int) []string {
	if size <= 0 {
		size = 4
	}
	runes := []rune(s)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
