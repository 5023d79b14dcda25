// Package dialogue runs one conversational turn: persona prompt, memory
// retrieval, generation, sanitizing and persistence.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/aili/internal/llm"
	"github.com/ent0n29/aili/internal/memory"
	"github.com/ent0n29/aili/internal/observability"
	"github.com/ent0n29/aili/internal/persona"
	"github.com/ent0n29/aili/internal/textclean"
)

// Driver is the slice of llm.Driver the service dispatches through.
type Driver interface {
	Chat(ctx context.Context, req *llm.ChatRequest, t llm.BackendType) (string, error)
	ChatStream(ctx context.Context, req *llm.ChatRequest, t llm.BackendType, onToken llm.TokenHandler, onComplete llm.CompletionHandler) (string, error)
}

// Options configures a Service. Metrics and Logger may be nil.
type Options struct {
	Backend llm.BackendType
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Service answers turns for any persona and remembers them per owner.
type Service struct {
	personas persona.Source
	memory   memory.Store
	driver   Driver
	backend  llm.BackendType
	metrics  *observability.Metrics
	log      *zap.Logger
}

// NewService validates its dependencies and the conversation backend key.
func NewService(personas persona.Source, store memory.Store, driver Driver, opts Options) (*Service, error) {
	if personas == nil || store == nil || driver == nil {
		return nil, errors.New("dialogue: persona source, memory store and driver are required")
	}
	if !opts.Backend.Known() {
		return nil, &llm.ConfigurationError{Key: string(opts.Backend), Reason: "unsupported backend type"}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		personas: personas,
		memory:   store,
		driver:   driver,
		backend:  opts.Backend,
		metrics:  opts.Metrics,
		log:      opts.Logger.Named("dialogue"),
	}, nil
}

// prepared is the per-turn state shared by Chat and ChatStream.
type prepared struct {
	req     *llm.ChatRequest
	history memory.History
	started time.Time
}

func (s *Service) prepare(ctx context.Context, roleName, youName, query string) (*prepared, error) {
	started := time.Now()

	stageStart := time.Now()
	template, err := s.personas.Prompt(ctx, roleName)
	if err != nil {
		return nil, fmt.Errorf("persona prompt: %w", err)
	}
	s.metrics.ObserveStage(observability.StagePersona, time.Since(stageStart))

	stageStart = time.Now()
	history, err := s.memory.Retrieve(ctx, query, memory.Owner{RoleName: roleName, YouName: youName})
	if err != nil {
		return nil, fmt.Errorf("retrieve memory: %w", err)
	}
	s.metrics.ObserveStage(observability.StageRetrieve, time.Since(stageStart))

	shortLines := history.ShortLines()
	prompt := Compose(template, query, youName, strings.Join(shortLines, "\n"), history.Long)
	return &prepared{
		req: &llm.ChatRequest{
			Prompt:       prompt,
			RoleName:     roleName,
			YouName:      youName,
			Query:        query,
			ShortHistory: shortLines,
			LongHistory:  history.Long,
		},
		history: history,
		started: started,
	}, nil
}

// Chat answers query as roleName speaking to youName. An empty answer is a
// valid result and is not persisted.
func (s *Service) Chat(ctx context.Context, roleName, youName, query string) (string, error) {
	p, err := s.prepare(ctx, roleName, youName, query)
	if err != nil {
		s.metrics.ObserveTurn("chat", "error")
		return "", err
	}

	stageStart := time.Now()
	raw, err := s.driver.Chat(ctx, p.req, s.backend)
	if err != nil {
		s.metrics.ObserveTurn("chat", "error")
		return "", err
	}
	s.metrics.ObserveStage(observability.StageGenerate, time.Since(stageStart))

	answer := textclean.Sanitize(roleName, youName, raw)
	s.logTurn("chat", p, answer)

	if err := s.persist(ctx, p.req, answer); err != nil {
		s.metrics.ObserveTurn("chat", "error")
		return "", err
	}
	s.metrics.ObserveStage(observability.StageTurnTotal, time.Since(p.started))
	s.metrics.ObserveTurn("chat", outcome(answer))
	return answer, nil
}

// ChatStream answers query incrementally. onToken receives every forwarded
// fragment; onComplete runs once with the sanitized answer after it has been
// persisted. On failure nothing is persisted and onComplete is not called.
// Once the turn is stored the call succeeds: an onComplete error is logged
// and counted, not returned.
func (s *Service) ChatStream(
	ctx context.Context,
	roleName, youName, query string,
	onToken llm.TokenHandler,
	onComplete llm.CompletionHandler,
) (string, error) {
	p, err := s.prepare(ctx, roleName, youName, query)
	if err != nil {
		s.metrics.ObserveTurn("stream", "error")
		return "", err
	}

	stageStart := time.Now()
	firstToken := true
	forward := func(role, you, token string, isFinal bool) error {
		if firstToken {
			firstToken = false
			s.metrics.ObserveStage(observability.StageFirstToken, time.Since(stageStart))
		}
		if onToken == nil {
			return nil
		}
		return onToken(role, you, token, isFinal)
	}
	complete := func(role, answer, you, q string) error {
		s.metrics.ObserveStage(observability.StageGenerate, time.Since(stageStart))
		s.logTurn("stream", p, answer)
		if err := s.persist(ctx, p.req, answer); err != nil {
			return err
		}
		if onComplete == nil {
			return nil
		}
		if err := onComplete(role, answer, you, q); err != nil {
			s.metrics.ObserveIndicator("completion_callback_error")
			s.log.Warn("completion callback failed after persist",
				zap.String("role_name", role),
				zap.String("you_name", you),
				zap.Error(err),
			)
		}
		return nil
	}

	answer, err := s.driver.ChatStream(ctx, p.req, s.backend, forward, complete)
	if err != nil {
		s.metrics.ObserveTurn("stream", "error")
		return "", err
	}
	s.metrics.ObserveStage(observability.StageTurnTotal, time.Since(p.started))
	s.metrics.ObserveTurn("stream", outcome(answer))
	return answer, nil
}

func (s *Service) persist(ctx context.Context, req *llm.ChatRequest, answer string) error {
	if answer == "" {
		s.metrics.ObserveIndicator("empty_answer")
		return nil
	}
	started := time.Now()
	err := s.memory.Persist(ctx, memory.Turn{
		RoleName: req.RoleName,
		YouName:  req.YouName,
		Query:    req.Query,
		Answer:   answer,
	})
	if err != nil {
		return err
	}
	s.metrics.ObserveStage(observability.StagePersist, time.Since(started))
	return nil
}

func (s *Service) logTurn(mode string, p *prepared, answer string) {
	s.log.Info("[BIZ] dialogue turn",
		zap.String("mode", mode),
		zap.String("backend", string(s.backend)),
		zap.String("role_name", p.req.RoleName),
		zap.String("you_name", p.req.YouName),
		zap.String("query", p.req.Query),
		zap.Strings("short_history", p.req.ShortHistory),
		zap.String("long_history", p.req.LongHistory),
		zap.String("answer", answer),
	)
}

func outcome(answer string) string {
	if answer == "" {
		return "empty"
	}
	return "ok"
}
