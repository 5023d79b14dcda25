package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ent0n29/aili/internal/llm"
)

func setMockEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONVERSATION_LLM_TYPE", "mock")
	t.Setenv("MEMORY_BACKEND", "memory")
	t.Setenv("CHARACTER_NAME", "Aili")
	t.Setenv("YOUR_NAME", "Sam")
	t.Setenv("APP_LOG_LEVEL", "error")
	t.Setenv("PERSONA_DIR", "")
}

func runCLI(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute(%v) error = %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestChatOneShot(t *testing.T) {
	setMockEnv(t)

	got := runCLI(t, "", "chat", "你好")
	if !strings.Contains(got, "Aili: 我听到你说：你好") {
		t.Fatalf("output = %q, want the mock reply", got)
	}
}

func TestChatStreamingLoopRemembersTurns(t *testing.T) {
	setMockEnv(t)

	got := runCLI(t, "你好\n\n再见\n", "chat", "--stream", "--you", "Kiki")
	if !strings.Contains(got, "我听到你说：你好") {
		t.Fatalf("output = %q, missing first reply", got)
	}
	if !strings.Contains(got, "我还记得：Kiki说你好") {
		t.Fatalf("output = %q, second reply should recall the first turn", got)
	}
}

func TestChatUnknownRoleFails(t *testing.T) {
	setMockEnv(t)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "chat", "--role", "Nobody", "hi"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("Execute() expected error for unknown role")
	}
}

type scriptedDialogue struct {
	tokens []string
	answer string
}

func (d scriptedDialogue) Chat(context.Context, string, string, string) (string, error) {
	return d.answer, nil
}

func (d scriptedDialogue) ChatStream(_ context.Context, role, you, _ string, onToken llm.TokenHandler, _ llm.CompletionHandler) (string, error) {
	for _, tok := range d.tokens {
		if err := onToken(role, you, tok, false); err != nil {
			return "", err
		}
	}
	return d.answer, nil
}

func TestStreamTurnRepeatsCleanedAnswer(t *testing.T) {
	var out bytes.Buffer
	term := &terminal{
		dialogue: scriptedDialogue{tokens: []string{"Aili：", "你好", "*微笑*"}, answer: "你好"},
		out:      &out,
		roleName: "Aili",
		youName:  "Sam",
		stream:   true,
	}
	if err := term.turn(context.Background(), "在吗"); err != nil {
		t.Fatalf("turn() error = %v", err)
	}
	want := "Aili: Aili：你好*微笑*\nAili: 你好\n"
	if got := out.String(); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestStreamTurnCleanAnswerPrintedOnce(t *testing.T) {
	var out bytes.Buffer
	term := &terminal{
		dialogue: scriptedDialogue{tokens: []string{"你", "好"}, answer: "你好"},
		out:      &out,
		roleName: "Aili",
		youName:  "Sam",
		stream:   true,
	}
	if err := term.turn(context.Background(), "在吗"); err != nil {
		t.Fatalf("turn() error = %v", err)
	}
	if got := out.String(); got != "Aili: 你好\n" {
		t.Fatalf("output = %q", got)
	}
}
