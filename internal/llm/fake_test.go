package llm

import (
	"context"
	"sync"
	"sync/atomic"
)

// scriptedBackend replays fixed deltas and records every call.
type scriptedBackend struct {
	mu     sync.Mutex
	answer string
	err    error
	deltas []string
	// streamErr is sent after deltas when set.
	streamErr error

	chatCalls   atomic.Int32
	streamCalls atomic.Int32
	requests    []*ChatRequest
}

func (b *scriptedBackend) Chat(ctx context.Context, req *ChatRequest) (string, error) {
	b.chatCalls.Add(1)
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	return b.answer, nil
}

func (b *scriptedBackend) ChatStream(ctx context.Context, req *ChatRequest) <-chan StreamEvent {
	b.streamCalls.Add(1)
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		for _, d := range b.deltas {
			if !send(ctx, out, StreamEvent{Delta: d}) {
				return
			}
		}
		if b.streamErr != nil {
			send(ctx, out, StreamEvent{Err: b.streamErr})
		}
	}()
	return out
}

// endlessBackend streams until its context is cancelled.
type endlessBackend struct {
	stopped chan struct{}
}

func (b *endlessBackend) Chat(context.Context, *ChatRequest) (string, error) { return "", nil }

func (b *endlessBackend) ChatStream(ctx context.Context, _ *ChatRequest) <-chan StreamEvent {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer close(b.stopped)
		for send(ctx, out, StreamEvent{Delta: "啊"}) {
		}
	}()
	return out
}
