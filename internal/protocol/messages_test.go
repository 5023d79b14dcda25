package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageChatRequest(t *testing.T) {
	raw := []byte(`{"type":"chat_request","session_id":"s1","query":"你好"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	req, ok := msg.(ChatRequest)
	if !ok {
		t.Fatalf("message type = %T, want ChatRequest", msg)
	}
	if req.SessionID != "s1" || req.Query != "你好" {
		t.Fatalf("unexpected chat request: %+v", req)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","action":"end"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != "end" {
		t.Fatalf("Action = %q, want %q", control.Action, "end")
	}
}

func TestParseClientMessageRejectsBlankQuery(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"chat_request","query":"   "}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}

func BenchmarkParseClientMessageChatRequest(b *testing.B) {
	raw := []byte(`{"type":"chat_request","session_id":"s1","query":"今天过得怎么样？"}`)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := ParseClientMessage(raw); err != nil {
			b.Fatal(err)
		}
	}
}
