package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/aili/internal/textclean"
)

// streamSession is the transient state of one streaming call.
type streamSession struct {
	req        *ChatRequest
	onToken    TokenHandler
	onComplete CompletionHandler

	answer strings.Builder
	// pending holds whitespace-only deltas until the next visible fragment so
	// the forwarded tokens still concatenate to the accumulated answer.
	pending string
	tokens  int
}

func (s *streamSession) consume(delta string) error {
	if delta == "" {
		return nil
	}
	s.answer.WriteString(delta)
	if strings.TrimSpace(delta) == "" {
		s.pending += delta
		return nil
	}

	token := s.pending + delta
	s.pending = ""
	s.tokens++
	if s.onToken == nil {
		return nil
	}
	return s.onToken(s.req.RoleName, s.req.YouName, token, false)
}

// runStream drives one backend stream to completion on the calling goroutine.
// The completion handler runs exactly once on success and never on failure.
func runStream(
	ctx context.Context,
	backendType BackendType,
	backend Backend,
	req *ChatRequest,
	onToken TokenHandler,
	onComplete CompletionHandler,
) (answer string, tokens int, err error) {
	streamCtx, cancel := context.WithCancel(ctx)
	events := backend.ChatStream(streamCtx, req)
	defer func() {
		cancel()
		// Wait for the producer to observe cancellation and close the channel.
		for range events {
		}
	}()

	s := &streamSession{req: req, onToken: onToken, onComplete: onComplete}
	defer func() {
		if r := recover(); r != nil {
			answer, tokens = "", s.tokens
			err = &GenerationError{Backend: backendType, Op: "stream callback", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	for ev := range events {
		if ev.Err != nil {
			return "", s.tokens, wrapGeneration(backendType, "stream", ev.Err)
		}
		if cbErr := s.consume(ev.Delta); cbErr != nil {
			return "", s.tokens, &GenerationError{Backend: backendType, Op: "token callback", Err: cbErr}
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", s.tokens, wrapGeneration(backendType, "stream", ctxErr)
	}

	answer = textclean.Sanitize(req.RoleName, req.YouName, s.answer.String())
	if onComplete != nil {
		if cbErr := onComplete(req.RoleName, answer, req.YouName, req.Query); cbErr != nil {
			return "", s.tokens, &GenerationError{Backend: backendType, Op: "completion callback", Err: cbErr}
		}
	}
	return answer, s.tokens, nil
}

// send delivers ev unless ctx is done. Producers stop when it returns false.
func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- ev:
		return true
	}
}

// errStream returns a closed stream carrying a single error.
func errStream(err error) <-chan StreamEvent {
	ch := make(chan StreamEvent, 1)
	ch <- StreamEvent{Err: err}
	close(ch)
	return ch
}

var errEmptyChoices = errors.New("no completion returned")
