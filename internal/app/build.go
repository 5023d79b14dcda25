// Package app is the composition root: it turns a Config into a running
// dialogue stack.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ent0n29/aili/internal/config"
	"github.com/ent0n29/aili/internal/dialogue"
	"github.com/ent0n29/aili/internal/httpapi"
	"github.com/ent0n29/aili/internal/llm"
	"github.com/ent0n29/aili/internal/memory"
	"github.com/ent0n29/aili/internal/observability"
	"github.com/ent0n29/aili/internal/persona"
	"github.com/ent0n29/aili/internal/session"
)

const embeddingCacheEntries = 4096

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Dialogue *dialogue.Service
	Sessions *session.Manager
	Driver   *llm.Driver
	Memory   *memory.Manager
	Personas *persona.Catalog
	Metrics  *observability.Metrics

	// MemoryBackend names the log the memory manager persists to.
	MemoryBackend string

	// Cleanup should be called on shutdown to drain memory consolidation and
	// release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	var closers []func() error
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*BuildResult, error) {
		_ = cleanup()
		return nil, err
	}

	driver, err := llm.NewDriverFromConfig(ctx, cfg, llm.Options{
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return fail(fmt.Errorf("llm driver init failed: %w", err))
	}
	conversation, err := llm.ParseBackendType(cfg.ConversationLLMType)
	if err != nil {
		return fail(err)
	}
	for _, want := range requiredBackends(cfg) {
		if _, err := llm.ParseBackendType(want); err != nil {
			return fail(err)
		}
		if err := driver.Require(want); err != nil {
			// A known backend without credentials fails each call with a
			// ConfigurationError; the service still starts so /v1/status can
			// report it.
			logger.Warn("llm backend not registered", zap.String("backend", want), zap.Error(err))
		}
	}

	memLog, memBackend, err := memory.NewLog(ctx, cfg.Memory)
	if err != nil {
		return fail(fmt.Errorf("memory log init failed: %w", err))
	}

	var index *memory.Index
	if cfg.Memory.EnableLongMemory {
		embedder, err := newEmbedder(ctx, cfg)
		if err != nil {
			_ = memLog.Close()
			return fail(fmt.Errorf("embedder init failed: %w", err))
		}
		closers = append(closers, func() error { embedder.Close(); return nil })
		index = memory.NewIndex(embedder)
		logger.Info("long memory enabled", zap.String("embedder", embedder.Name()))
	}

	mem, err := memory.NewManager(memLog, memory.Options{
		Window:        cfg.Memory.LocalNum,
		Summary:       cfg.Memory.EnableSummary,
		SummaryLLM:    cfg.Memory.SummaryLLMType,
		Reflection:    cfg.Memory.EnableReflection,
		ReflectionLLM: cfg.Memory.ReflectionLLMType,
		ReflectEvery:  cfg.Memory.ReflectEvery,
		Index:         index,
		TopK:          cfg.Memory.LongTopK,
		Inline:        cfg.Memory.ConsolidateInline,
		PassTimeout:   cfg.Memory.PassTimeout,
		QueueSize:     cfg.Memory.QueueSize,
		RedactPII:     cfg.Memory.RedactPII,
		Generator:     driver,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		_ = memLog.Close()
		return fail(fmt.Errorf("memory manager init failed: %w", err))
	}
	closers = append(closers, mem.Close)
	logger.Info("memory store ready",
		zap.String("backend", memBackend),
		zap.Int("window", cfg.Memory.LocalNum),
		zap.Bool("summary", cfg.Memory.EnableSummary),
		zap.Bool("reflection", cfg.Memory.EnableReflection),
		zap.Bool("long_memory", cfg.Memory.EnableLongMemory),
	)

	personas, err := persona.NewCatalogFromDir(cfg.PersonaDir)
	if err != nil {
		return fail(fmt.Errorf("persona catalog init failed: %w", err))
	}

	svc, err := dialogue.NewService(personas, mem, driver, dialogue.Options{
		Backend: conversation,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return fail(err)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout, metrics)
	sessions.SetExpireHook(func(s *session.Session) {
		logger.Info("session expired", zap.String("session_id", s.ID), zap.Int("turns", s.TurnCount))
	})

	backends := make([]string, 0, len(driver.Types()))
	for _, t := range driver.Types() {
		backends = append(backends, string(t))
	}
	api := httpapi.New(cfg, sessions, svc, metrics, logger, httpapi.Info{
		Backends:      backends,
		MemoryBackend: memBackend,
		Personas:      personas.Names(),
	})

	return &BuildResult{
		Config:        cfg,
		API:           api,
		Dialogue:      svc,
		Sessions:      sessions,
		Driver:        driver,
		Memory:        mem,
		Personas:      personas,
		Metrics:       metrics,
		MemoryBackend: memBackend,
		Cleanup:       cleanup,
	}, nil
}

// requiredBackends lists the backend types the configuration dispatches to.
func requiredBackends(cfg config.Config) []string {
	out := []string{cfg.ConversationLLMType}
	if cfg.Memory.EnableSummary {
		out = append(out, cfg.Memory.SummaryLLMType)
	}
	if cfg.Memory.EnableReflection {
		out = append(out, cfg.Memory.ReflectionLLMType)
	}
	return out
}

func newEmbedder(ctx context.Context, cfg config.Config) (*memory.CachedEmbedder, error) {
	var base memory.Embedder = memory.NewHashEmbedder(256)
	if cfg.GeminiAPIKey != "" {
		genaiEmbedder, err := memory.NewGenAIEmbedder(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbeddingModel)
		if err != nil {
			return nil, err
		}
		base = genaiEmbedder
	}
	return memory.NewCachedEmbedder(base, embeddingCacheEntries)
}
