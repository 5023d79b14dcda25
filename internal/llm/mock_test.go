package llm

import (
	"context"
	"strings"
	"testing"
)

func TestMockReplyMentionsLastHistoryLine(t *testing.T) {
	m := NewMock()
	answer, err := m.Chat(context.Background(), &ChatRequest{
		Query:        "还记得我吗",
		ShortHistory: []string{"Sam说我喜欢猫", "Sam说今天下雨"},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if answer != "我听到你说：还记得我吗\n我还记得：Sam说今天下雨" {
		t.Fatalf("Chat() = %q", answer)
	}
}

func TestMockStreamConcatenatesToChatReply(t *testing.T) {
	m := &Mock{ChunkRunes: 3}
	req := &ChatRequest{Query: "你好"}
	want, _ := m.Chat(context.Background(), req)

	var b strings.Builder
	n := 0
	for ev := range m.ChatStream(context.Background(), req) {
		if ev.Err != nil {
			t.Fatalf("stream error = %v", ev.Err)
		}
		b.WriteString(ev.Delta)
		n++
	}
	if b.String() != want {
		t.Fatalf("stream = %q, want %q", b.String(), want)
	}
	if n < 2 {
		t.Fatalf("chunks = %d, want several", n)
	}
}
