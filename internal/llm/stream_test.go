package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type tokenLog struct {
	tokens     []string
	completed  []string
	finalFlags []bool
}

func (l *tokenLog) onToken(_, _, token string, isFinal bool) error {
	l.tokens = append(l.tokens, token)
	l.finalFlags = append(l.finalFlags, isFinal)
	return nil
}

func (l *tokenLog) onComplete(_, answer, _, _ string) error {
	l.completed = append(l.completed, answer)
	return nil
}

func TestRunStreamDropsEmptyChunks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	backend := &scriptedBackend{deltas: []string{"你", "", "好"}}
	req := &ChatRequest{RoleName: "Aili", YouName: "Sam", Query: "hi"}
	var log tokenLog

	answer, tokens, err := runStream(context.Background(), BackendMock, backend, req, log.onToken, log.onComplete)
	require.NoError(t, err)
	require.Equal(t, "你好", answer)
	require.Equal(t, 2, tokens)
	require.Equal(t, []string{"你", "好"}, log.tokens)
	require.Equal(t, []bool{false, false}, log.finalFlags)
	require.Equal(t, []string{"你好"}, log.completed)
}

func TestRunStreamSanitizesOnceAtEnd(t *testing.T) {
	backend := &scriptedBackend{deltas: []string{"Ai", "li：", "你好呀", "*微", "笑*"}}
	req := &ChatRequest{RoleName: "Aili", YouName: "Sam"}
	var log tokenLog

	answer, _, err := runStream(context.Background(), BackendMock, backend, req, log.onToken, log.onComplete)
	require.NoError(t, err)
	require.Equal(t, "你好呀", answer)
	// Tokens are forwarded raw; only the final text is sanitized.
	require.Equal(t, "Aili：你好呀*微笑*", strings.Join(log.tokens, ""))
	require.Equal(t, []string{"你好呀"}, log.completed)
}

func TestRunStreamCarriesWhitespaceToNextToken(t *testing.T) {
	backend := &scriptedBackend{deltas: []string{"hello", " ", "world"}}
	req := &ChatRequest{RoleName: "Aili", YouName: "Sam"}
	var log tokenLog

	answer, _, err := runStream(context.Background(), BackendMock, backend, req, log.onToken, log.onComplete)
	require.NoError(t, err)
	require.Equal(t, "hello world", answer)
	require.Equal(t, []string{"hello", " world"}, log.tokens)
}

func TestRunStreamProviderErrorSkipsCompletion(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	backend := &scriptedBackend{deltas: []string{"你"}, streamErr: errors.New("connection reset")}
	var log tokenLog

	_, _, err := runStream(context.Background(), BackendOpenAI, backend, &ChatRequest{}, log.onToken, log.onComplete)
	var gen *GenerationError
	require.ErrorAs(t, err, &gen)
	require.Equal(t, BackendOpenAI, gen.Backend)
	require.Empty(t, log.completed)
}

func TestRunStreamTokenCallbackErrorStopsProducer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	backend := &endlessBackend{stopped: make(chan struct{})}
	completed := 0
	calls := 0
	onToken := func(_, _, _ string, _ bool) error {
		calls++
		if calls == 3 {
			return errors.New("client went away")
		}
		return nil
	}
	onComplete := func(_, _, _, _ string) error {
		completed++
		return nil
	}

	_, _, err := runStream(context.Background(), BackendMock, backend, &ChatRequest{}, onToken, onComplete)
	var gen *GenerationError
	require.ErrorAs(t, err, &gen)
	require.Equal(t, "token callback", gen.Op)
	require.Equal(t, 0, completed)
	<-backend.stopped
}

func TestRunStreamCallbackPanicBecomesGenerationError(t *testing.T) {
	backend := &scriptedBackend{deltas: []string{"你"}}
	onToken := func(_, _, _ string, _ bool) error { panic("boom") }

	_, _, err := runStream(context.Background(), BackendMock, backend, &ChatRequest{}, onToken, nil)
	var gen *GenerationError
	require.ErrorAs(t, err, &gen)
	require.Equal(t, "stream callback", gen.Op)
}

func TestRunStreamCompletionErrorIsGenerationError(t *testing.T) {
	backend := &scriptedBackend{deltas: []string{"好"}}
	onComplete := func(_, _, _, _ string) error { return errors.New("persist failed") }

	_, _, err := runStream(context.Background(), BackendMock, backend, &ChatRequest{}, nil, onComplete)
	var gen *GenerationError
	require.ErrorAs(t, err, &gen)
	require.Equal(t, "completion callback", gen.Op)
}

func TestRunStreamCancelledContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	backend := &endlessBackend{stopped: make(chan struct{})}

	_, _, err := runStream(ctx, BackendMock, backend, &ChatRequest{}, nil, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	<-backend.stopped
}
