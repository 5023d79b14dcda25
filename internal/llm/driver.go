package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/aili/internal/observability"
	"github.com/ent0n29/aili/internal/reliability"
)

// Options tunes a Driver. Zero values mean a single attempt and no metrics.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Driver holds one adapter per registered backend type and routes requests
// to them.
//
// Streaming sessions are serialized process-wide through streamMu so token
// callbacks of two sessions are never interleaved. Blocking Chat calls are
// not serialized.
type Driver struct {
	backends map[BackendType]Backend
	streamMu sync.Mutex

	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	metrics     *observability.Metrics
	log         *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewDriver builds a driver from an explicit dispatch table. Every key must be
// a supported BackendType with a non-nil adapter.
func NewDriver(backends map[BackendType]Backend, opts Options) (*Driver, error) {
	table := make(map[BackendType]Backend, len(backends))
	for t, b := range backends {
		if !t.Known() {
			return nil, &ConfigurationError{Key: string(t), Reason: "unsupported backend type"}
		}
		if b == nil {
			return nil, &ConfigurationError{Key: string(t), Reason: "nil backend adapter"}
		}
		table[t] = b
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 250 * time.Millisecond
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 4 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Driver{
		backends:    table,
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		backoffCap:  opts.BackoffCap,
		metrics:     opts.Metrics,
		log:         opts.Logger.Named("llm"),
		sleep:       sleepCtx,
	}, nil
}

// Types returns the registered backend types in dispatch-table order.
func (d *Driver) Types() []BackendType {
	out := make([]BackendType, 0, len(d.backends))
	for _, t := range BackendTypes() {
		if _, ok := d.backends[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Require fails with a ConfigurationError unless every named backend is
// registered. Call it at start-up for each configured backend key.
func (d *Driver) Require(types ...string) error {
	for _, raw := range types {
		t, err := ParseBackendType(raw)
		if err != nil {
			return err
		}
		if _, err := d.resolve(t); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) resolve(t BackendType) (Backend, error) {
	b, ok := d.backends[t]
	if !ok {
		return nil, &ConfigurationError{Key: string(t), Reason: "backend type not registered"}
	}
	return b, nil
}

// Chat runs a blocking generation on backend t.
func (d *Driver) Chat(ctx context.Context, req *ChatRequest, t BackendType) (string, error) {
	backend, err := d.resolve(t)
	if err != nil {
		return "", err
	}

	d.log.Debug("chat request",
		zap.String("backend", string(t)),
		zap.String("role_name", req.RoleName),
		zap.String("you_name", req.YouName),
		zap.String("prompt", req.Prompt),
		zap.String("query", req.Query),
	)

	var lastErr error
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, d.backoffBase, d.backoffCap)
			d.log.Warn("retrying chat request",
				zap.String("backend", string(t)),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
				zap.Error(lastErr),
			)
			if err := d.sleep(ctx, wait); err != nil {
				break
			}
		}

		started := time.Now()
		answer, err := backend.Chat(ctx, req)
		if err == nil {
			d.metrics.ObserveGeneration(string(t), "chat", "ok", time.Since(started))
			return answer, nil
		}
		d.metrics.ObserveGeneration(string(t), "chat", "error", time.Since(started))
		lastErr = wrapGeneration(t, "chat", err)
		if !retryable(ctx, lastErr) {
			break
		}
	}
	return "", lastErr
}

// ChatStream runs a streaming generation on backend t and blocks until the
// stream completes or fails. Only one stream runs through the driver at a
// time; onComplete is invoked exactly once on success and never on failure.
func (d *Driver) ChatStream(
	ctx context.Context,
	req *ChatRequest,
	t BackendType,
	onToken TokenHandler,
	onComplete CompletionHandler,
) (string, error) {
	backend, err := d.resolve(t)
	if err != nil {
		return "", err
	}

	waitStarted := time.Now()
	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	d.metrics.ObserveStreamWait(time.Since(waitStarted))

	started := time.Now()
	answer, tokens, err := runStream(ctx, t, backend, req, onToken, onComplete)
	d.metrics.ObserveStreamTokens(string(t), tokens)
	if err != nil {
		d.metrics.ObserveGeneration(string(t), "stream", "error", time.Since(started))
		return "", err
	}
	d.metrics.ObserveGeneration(string(t), "stream", "ok", time.Since(started))
	return answer, nil
}

// Generate runs a one-off blocking generation with a bare system prompt and
// query. Memory consolidation passes use it.
func (d *Driver) Generate(ctx context.Context, backend, prompt, query string) (string, error) {
	t, err := ParseBackendType(backend)
	if err != nil {
		return "", err
	}
	return d.Chat(ctx, &ChatRequest{Prompt: prompt, Query: query}, t)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var gen *GenerationError
	if !errors.As(err, &gen) {
		return false
	}
	if gen.StatusCode > 0 {
		return reliability.IsRetryableHTTPStatus(gen.StatusCode)
	}
	return reliability.IsTransientNetworkError(gen.Err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
